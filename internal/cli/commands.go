package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sakif/soundboard/internal/config"
	"github.com/sakif/soundboard/internal/model"
	"github.com/sakif/soundboard/internal/server"
)

func (a *app) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := a.load()
			if err != nil {
				return err
			}
			srv, err := server.New(cfg, logger)
			if err != nil {
				return err
			}

			if cfg.Admin.Username != "" {
				created, err := srv.Accounts().EnsureSuperAdmin(cmd.Context(), cfg.Admin.Username, cfg.Admin.Password)
				if err != nil {
					srv.Close()
					return fmt.Errorf("bootstrapping super-admin: %w", err)
				}
				if created {
					logger.Info("super-admin account created", slog.String("username", cfg.Admin.Username))
				}
			}
			return srv.Start()
		},
	}
}

func (a *app) auditCommand() *cobra.Command {
	audit := &cobra.Command{
		Use:   "audit",
		Short: "Audit log maintenance",
	}

	var days int
	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete audit entries older than --days (default audit.retention_days)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withServer(func(srv *server.Server, cfg *config.Config, logger *slog.Logger) error {
				if !cmd.Flags().Changed("days") {
					days = cfg.Audit.RetentionDays
				}
				n, err := srv.Audits().Cleanup(cmd.Context(), days)
				if err != nil {
					return err
				}
				logger.Info("audit cleanup finished", slog.Int("days", days), slog.Int64("deleted", n))
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d audit entries older than %d days\n", n, days)
				return nil
			})
		},
	}
	cleanup.Flags().IntVar(&days, "days", 0, "retention window in days")
	audit.AddCommand(cleanup)
	return audit
}

func (a *app) userCommand() *cobra.Command {
	user := &cobra.Command{
		Use:   "user",
		Short: "Account administration",
	}

	var tier int
	promote := &cobra.Command{
		Use:   "promote <username>",
		Short: "Set the admin tier of an account (0 user, 1 admin, 2 super-admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServer(func(srv *server.Server, _ *config.Config, _ *slog.Logger) error {
				change, err := srv.Admin().PromoteByUsername(cmd.Context(), args[0], model.Tier(tier))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: tier %d -> %d\n",
					change.User.Username, change.Previous, change.User.Tier)
				return nil
			})
		},
	}
	promote.Flags().IntVar(&tier, "tier", int(model.TierAdmin), "tier to set")
	user.AddCommand(promote)
	return user
}

// seedFile is the categories seed format:
//
//	categories:
//	  - name: Animals
//	    color: "#22c55e"
type seedFile struct {
	Categories []struct {
		Name  string `yaml:"name"`
		Color string `yaml:"color"`
	} `yaml:"categories"`
}

func readSeed(path string) ([]model.Category, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(f.Categories) == 0 {
		return nil, fmt.Errorf("%s lists no categories", path)
	}
	out := make([]model.Category, len(f.Categories))
	for i, c := range f.Categories {
		out[i] = model.Category{Name: c.Name, Color: c.Color}
	}
	return out, nil
}

func (a *app) categoriesCommand() *cobra.Command {
	categories := &cobra.Command{
		Use:   "categories",
		Short: "Category administration",
	}
	seed := &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Create or recolor categories from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := readSeed(args[0])
			if err != nil {
				return err
			}
			return a.withServer(func(srv *server.Server, _ *config.Config, _ *slog.Logger) error {
				n, err := srv.Buttons().SeedCategories(cmd.Context(), seed)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seeded %d categories\n", n)
				return nil
			})
		},
	}
	categories.AddCommand(seed)
	return categories
}
