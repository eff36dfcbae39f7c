// Package server is the composition root. It builds every collaborator from
// a config.Config, mounts the routes and runs the HTTP server with graceful
// shutdown.
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config
//	  → sqlite.DB, storage.DiskStore, session store (memory or Redis)
//	  → auth (TokenService, optional GitHubVerifier, Authenticator)
//	  → audit (Writer, Recorder, Service)
//	  → services → handlers → routes
//
// Nothing outside this package constructs a service or a handler.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/sakif/soundboard/internal/audit"
	"github.com/sakif/soundboard/internal/auth"
	"github.com/sakif/soundboard/internal/config"
	sqliteRepo "github.com/sakif/soundboard/internal/repository/sqlite"
	"github.com/sakif/soundboard/internal/service"
	"github.com/sakif/soundboard/internal/storage"
)

// uploadsURL is where stored media is served from.
const uploadsURL = "/uploads"

// Server owns the database, the audit writer and the optional Redis client.
// Close releases all three.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger

	db     *sqliteRepo.DB
	redis  *redis.Client
	writer *audit.Writer

	auth     *auth.Authenticator
	recorder *audit.Recorder
	accounts *service.AuthService
	admin    *service.AdminService
	audits   *audit.Service
	buttons  *service.ButtonService
	board    *service.BoardService
	prefs    *service.PreferenceService
}

// New opens the database and the upload directory, wires every layer and
// starts the audit writer. The caller must Close the server.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}
	if err := s.wire(); err != nil {
		s.Close()
		return nil, err
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) wire() error {
	cfg := s.config

	files, err := storage.NewDiskStore(cfg.UploadDir, uploadsURL, cfg.UploadMaxBytes)
	if err != nil {
		return fmt.Errorf("opening upload directory: %w", err)
	}

	tokens, err := auth.NewTokenService(cfg.JWT.Secret, cfg.JWT.Expiry)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	var verifier auth.Verifier = tokens
	if cfg.GitHub.Enabled {
		verifier = auth.ChainVerifier{tokens, auth.NewGitHubVerifier(cfg.GitHub.APIURL, nil)}
	}

	sessions, err := s.sessionStore()
	if err != nil {
		return err
	}
	s.auth = auth.NewAuthenticator(verifier, sessions, auth.NewUserDirectory(s.db), s.logger,
		auth.AuthenticatorConfig{
			CookieSecure: cfg.Session.CookieSecure,
			SessionTTL:   cfg.Session.TTL,
		})

	s.writer = audit.NewWriter(s.db, audit.WriterConfig{
		QueueSize: cfg.Audit.QueueSize,
		Workers:   cfg.Audit.Workers,
	}, s.logger)
	s.writer.Start()
	s.recorder = audit.NewRecorder(s.writer, s.db, s.logger)
	s.audits = audit.NewService(s.db)

	s.accounts = service.NewAuthService(s.db, tokens, auth.NewPasswordService(), files, s.logger)
	s.buttons = service.NewButtonService(s.db, s.db, s.db, s.db, files, s.logger)
	s.board = service.NewBoardService(s.db, s.db, files, s.logger)
	s.prefs = service.NewPreferenceService(s.db, s.db, files, s.logger)
	s.admin = service.NewAdminService(service.AdminDeps{
		Users:      s.db,
		Buttons:    s.db,
		Files:      s.db,
		Categories: s.db,
		History:    s.db,
		Store:      files,
		OnDelete:   cfg.Category.OnDelete,
	}, s.logger)
	return nil
}

// sessionStore returns a Redis-backed store when redis.addr is set and an
// in-process one otherwise.
func (s *Server) sessionStore() (auth.SessionStore, error) {
	cfg := s.config
	if cfg.Redis.Addr == "" {
		return auth.NewMemorySessionStore(cfg.Session.TTL), nil
	}

	s.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
	}
	s.logger.Info("using redis session store", slog.String("addr", cfg.Redis.Addr))
	return auth.NewRedisSessionStore(s.redis, cfg.Redis.Prefix, cfg.Session.TTL), nil
}

// Handler exposes the router. Tests drive it through httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Accounts and Admin give the CLI the same services the routes use.
func (s *Server) Accounts() *service.AuthService { return s.accounts }
func (s *Server) Admin() *service.AdminService   { return s.admin }

// Audits is the audit log read and retention service.
func (s *Server) Audits() *audit.Service { return s.audits }

// Buttons serves the category seeding command.
func (s *Server) Buttons() *service.ButtonService { return s.buttons }

// Close drains the audit queue, then closes Redis and the database.
// It is safe to call on a partially built server.
func (s *Server) Close() error {
	if s.writer != nil {
		s.writer.Stop()
	}
	var errs []error
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing redis: %w", err))
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}
	return errors.Join(errs...)
}

// Start serves until SIGINT/SIGTERM, then gives in-flight requests
// ShutdownTimeout to finish. The server is closed on return.
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
			slog.String("uploads", s.config.UploadDir),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}
	return nil
}
