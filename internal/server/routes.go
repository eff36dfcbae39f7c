package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/soundboard/internal/audit"
	"github.com/sakif/soundboard/internal/handler"
	"github.com/sakif/soundboard/internal/middleware"
	"github.com/sakif/soundboard/internal/storage"
)

// setupRoutes mounts every endpoint.
//
// MIDDLEWARE ORDER:
//  1. RequestID, RealIP, Recoverer, Logger on every request. RealIP only
//     believes forwarding headers from proxy.trusted peers.
//  2. OptionalAuth / RequireAuth / RequireAdmin / RequireSuperAdmin per group
//  3. the audit recorder per route, inside the auth gate so it sees the caller
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(middleware.RealIP(s.config.Proxy.Trusted))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	authH := handler.NewAuthHandler(s.accounts, s.auth, s.recorder, s.logger)
	buttonH := handler.NewButtonHandler(s.buttons, s.logger)
	boardH := handler.NewBoardHandler(s.board, s.logger)
	prefH := handler.NewPreferenceHandler(s.prefs, s.logger)
	adminH := handler.NewAdminHandler(s.admin, s.audits, s.prefs, s.recorder, s.logger)

	throttle := middleware.NewLoginThrottle(s.config.Login.Rate, s.config.Login.Burst, s.logger)
	logged := s.recorder.Middleware

	s.router.Get("/health", s.handleHealth)

	s.router.Handle(uploadsURL+"/*", http.StripPrefix(uploadsURL+"/", storage.FileServer(s.config.UploadDir)))

	s.router.Route("/api", func(r chi.Router) {
		// === Public ===
		r.With(throttle.Middleware).Post("/login", authH.HandleLogin)
		r.With(logged(audit.ActionUserRegistered)).Post("/register", authH.HandleRegister)
		r.Get("/categories", buttonH.HandleCategories)
		r.Get("/stats/most-played", prefH.HandleMostPlayed)
		r.Get("/stats/button/{uploadedId}", prefH.HandleButtonStats)
		r.With(s.auth.OptionalAuth).Get("/uploaded", buttonH.HandleCatalog)

		// === Signed in ===
		r.Group(func(r chi.Router) {
			r.Use(s.auth.RequireAuth)

			r.With(logged(audit.ActionLogout)).Post("/logout", authH.HandleLogout)
			r.Get("/me", authH.HandleMe)
			r.With(logged(audit.ActionPasswordChanged)).Put("/reset_password", authH.HandleChangePassword)
			r.With(logged(audit.ActionButtonSizeChanged)).Put("/button_size/{size}", authH.HandleButtonSize)
			r.With(logged(audit.ActionAvatarUpdated)).Post("/user/avatar", authH.HandleUploadAvatar)
			r.With(logged(audit.ActionAvatarDeleted)).Delete("/user/avatar", authH.HandleDeleteAvatar)

			r.Get("/linked", boardH.HandleList)
			r.With(logged(audit.ActionButtonsReordered)).Put("/linked", boardH.HandleReorder)
			r.With(logged(audit.ActionButtonLinked)).Post("/link", boardH.HandleLink)
			r.With(logged(audit.ActionButtonUnlinked)).Delete("/link/{uploadedId}", boardH.HandleUnlink)
			r.Get("/search", boardH.HandleSearch)
			r.With(logged(audit.ActionBulkOperation)).Post("/bulk-operations", boardH.HandleBulk)

			r.Get("/user/uploaded", buttonH.HandleMyUploads)
			r.With(logged(audit.ActionButtonUploaded)).Post("/buttons", buttonH.HandleUpload)
			r.With(logged(audit.ActionCategoryCreated)).Post("/categories", buttonH.HandleCreateCategory)

			r.Get("/button-volume/{uploadedId}", prefH.HandleGetVolume)
			r.Put("/button-volume/{uploadedId}", prefH.HandleSetVolume)
			r.Get("/button-volumes", prefH.HandleVolumes)
			r.Get("/favorites", prefH.HandleFavorites)
			r.Post("/favorites/{uploadedId}", prefH.HandleAddFavorite)
			r.Delete("/favorites/{uploadedId}", prefH.HandleRemoveFavorite)
			r.Post("/play/{uploadedId}", prefH.HandlePlay)
		})

		// === Admin ===
		r.Route("/admin", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(s.auth.RequireAdmin)

				r.Get("/users", adminH.HandleUsers)
				r.Get("/stats", adminH.HandlePlatformStats)
				r.Get("/deleted-buttons", adminH.HandleDeletedButtons)
				r.Post("/deleted-buttons/{id}/restore", adminH.HandleRestore)
				r.With(logged(audit.ActionButtonUpdated)).Put("/buttons/{id}", adminH.HandleUpdateButton)
				r.With(logged(audit.ActionButtonDeleted)).Delete("/buttons/{id}", adminH.HandleDeleteButton)
				r.With(logged(audit.ActionCategoryUpdated)).Put("/categories/{id}", adminH.HandleUpdateCategory)
				r.With(logged(audit.ActionCategoryDeleted)).Delete("/categories/{id}", adminH.HandleDeleteCategory)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.auth.RequireSuperAdmin)

				r.Post("/users/{id}/toggle-admin", adminH.HandleToggleAdmin)
				r.Delete("/users/{id}", adminH.HandleDeleteUser)
				r.Get("/audit-logs", adminH.HandleAuditLogs)
				r.Get("/audit-logs/stats", adminH.HandleAuditStats)
				r.Get("/audit-logs/failed-logins", adminH.HandleFailedLogins)
				r.Delete("/audit-logs/cleanup", adminH.HandleAuditCleanup)
			})
		})
	})
}

// handleHealth reports 503 when the database does not answer a ping.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, body := http.StatusOK, map[string]any{"success": true, "status": "ok"}
	if err := s.db.Ping(ctx); err != nil {
		s.logger.Error("health check failed", slog.String("error", err.Error()))
		status, body = http.StatusServiceUnavailable, map[string]any{"success": false, "status": "unavailable"}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
