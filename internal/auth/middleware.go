package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sakif/soundboard/internal/apperror"
)

// SessionCookieName is the cookie that carries the session id.
const SessionCookieName = "session_id"

// Response messages. They never say why a credential was rejected.
const (
	msgNotAuthenticated = "Not authenticated"
	msgAdminRequired    = "Admin access required"
	msgSuperRequired    = "Super admin access required"
)

// Authenticator resolves the caller of each request and gates routes.
//
// Two credential paths are supported:
//   - "Authorization: Bearer <token>", checked by the Verifier
//   - the session_id cookie, loaded from the SessionStore
//
// When a bearer header is present it decides the outcome alone; the cookie is
// not consulted. Either way the principal is re-read through the Directory,
// so tier changes and deleted accounts apply immediately.
type Authenticator struct {
	verifier  Verifier
	sessions  SessionStore
	directory Directory
	logger    *slog.Logger

	cookieSecure bool
	sessionTTL   time.Duration
}

// AuthenticatorConfig holds the optional cookie settings.
type AuthenticatorConfig struct {
	CookieSecure bool
	SessionTTL   time.Duration
}

// NewAuthenticator wires the collaborators. verifier may be nil, in which
// case bearer tokens are never accepted.
func NewAuthenticator(verifier Verifier, sessions SessionStore, directory Directory, logger *slog.Logger, cfg AuthenticatorConfig) *Authenticator {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	return &Authenticator{
		verifier:     verifier,
		sessions:     sessions,
		directory:    directory,
		logger:       logger,
		cookieSecure: cfg.CookieSecure,
		sessionTTL:   cfg.SessionTTL,
	}
}

// RequireAuth rejects anonymous requests with 401.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := a.resolve(r)
		if p == nil {
			writeAuthError(w, http.StatusUnauthorized, msgNotAuthenticated)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// OptionalAuth stores the caller when there is one and always continues.
func (a *Authenticator) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p := a.resolve(r); p != nil {
			r = r.WithContext(WithPrincipal(r.Context(), p))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin accepts tiers 1 and 2.
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return a.requireTier(next, func(p *Principal) bool { return p.Tier.IsAdmin() }, msgAdminRequired)
}

// RequireSuperAdmin accepts tier 2 only.
func (a *Authenticator) RequireSuperAdmin(next http.Handler) http.Handler {
	return a.requireTier(next, func(p *Principal) bool { return p.Tier.IsSuperAdmin() }, msgSuperRequired)
}

func (a *Authenticator) requireTier(next http.Handler, allowed func(*Principal) bool, msg string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			if p = a.resolve(r); p == nil {
				writeAuthError(w, http.StatusUnauthorized, msgNotAuthenticated)
				return
			}
			r = r.WithContext(WithPrincipal(r.Context(), p))
		}
		if !allowed(p) {
			writeAuthError(w, http.StatusForbidden, msg)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// resolve returns the caller or nil. Failures are logged, not returned:
// every one of them means "anonymous" to the client.
func (a *Authenticator) resolve(r *http.Request) *Principal {
	ctx := r.Context()

	if token, ok := bearerToken(r); ok {
		if a.verifier == nil {
			return nil
		}
		id, err := a.verifier.Verify(ctx, token)
		if err != nil {
			a.logger.Debug("bearer token rejected", slog.String("error", err.Error()))
			return nil
		}
		p, err := a.directory.ResolveIdentity(ctx, id)
		if err != nil {
			a.logger.Warn("resolving bearer identity failed",
				slog.String("subject", id.Subject),
				slog.String("error", err.Error()),
			)
			return nil
		}
		return p
	}

	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	sess, err := a.sessions.Load(ctx, cookie.Value)
	if err != nil {
		a.logger.Error("loading session failed", slog.String("error", err.Error()))
		return nil
	}
	if sess == nil {
		return nil
	}
	p, err := a.directory.LookupPrincipal(ctx, sess.ID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			// account deleted while the session was alive
			if err := a.sessions.Clear(ctx, cookie.Value); err != nil {
				a.logger.Warn("clearing orphaned session failed", slog.String("error", err.Error()))
			}
			return nil
		}
		a.logger.Error("refreshing session principal failed",
			slog.Int64("user_id", sess.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return p
}

// StartSession stores p under a fresh session id and sets the cookie.
func (a *Authenticator) StartSession(w http.ResponseWriter, r *http.Request, p *Principal) error {
	id := NewSessionID()
	if err := a.sessions.Save(r.Context(), id, p); err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(a.sessionTTL / time.Second),
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// RefreshSession rewrites the stored principal of the current session, if
// the request has one. Used after profile changes.
func (a *Authenticator) RefreshSession(r *http.Request, p *Principal) error {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	return a.sessions.Save(r.Context(), cookie.Value, p)
}

// EndSession forgets the current session and expires the cookie.
func (a *Authenticator) EndSession(w http.ResponseWriter, r *http.Request) error {
	var err error
	if cookie, cerr := r.Cookie(SessionCookieName); cerr == nil && cookie.Value != "" {
		err = a.sessions.Clear(r.Context(), cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return err
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	return strings.TrimSpace(token), true
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"message": message,
	})
}
