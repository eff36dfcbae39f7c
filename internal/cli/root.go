// Package cli is the soundboard command line: the HTTP server plus the
// maintenance commands that share its configuration.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sakif/soundboard/internal/config"
	"github.com/sakif/soundboard/internal/server"
)

// app carries what every command needs once flags are parsed.
type app struct {
	v          *viper.Viper
	configFile string
	stderr     io.Writer
}

// NewRootCommand builds the command tree. Each call gets its own viper
// instance, so tests can run commands side by side.
func NewRootCommand() *cobra.Command {
	a := &app{v: config.New(), stderr: os.Stderr}

	root := &cobra.Command{
		Use:           "soundboard",
		Short:         "Shared soundboard web backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.stderr = cmd.ErrOrStderr()
			return config.ReadFile(a.v, a.configFile)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", "", "YAML config file")
	flags.Int("port", 8080, "HTTP listen port")
	flags.String("db", "data/soundboard.db", "SQLite database path")
	flags.String("uploads", "uploads", "upload directory")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	a.v.BindPFlag(config.KeyPort, flags.Lookup("port"))
	a.v.BindPFlag(config.KeyDBPath, flags.Lookup("db"))
	a.v.BindPFlag(config.KeyUploadDir, flags.Lookup("uploads"))
	a.v.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))

	root.AddCommand(
		a.serveCommand(),
		a.auditCommand(),
		a.userCommand(),
		a.categoriesCommand(),
	)
	return root
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// load validates the configuration and builds the logger it describes.
func (a *app) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(a.v)
	if err != nil {
		return nil, nil, err
	}
	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return nil, nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(a.stderr, opts)
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(a.stderr, opts)
	}
	return cfg, slog.New(handler), nil
}

// withServer builds the full server for a maintenance command and closes it
// afterwards. No listener is started.
func (a *app) withServer(fn func(*server.Server, *config.Config, *slog.Logger) error) error {
	cfg, logger, err := a.load()
	if err != nil {
		return err
	}
	srv, err := server.New(cfg, logger)
	if err != nil {
		return err
	}
	defer srv.Close()
	return fn(srv, cfg, logger)
}
