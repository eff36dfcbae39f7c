package auth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/soundboard/internal/apperror"
	"github.com/sakif/soundboard/internal/model"
)

// fakeDirectory serves principals from a map and counts lookups.
type fakeDirectory struct {
	users   map[int64]*Principal
	lookups int
}

func (d *fakeDirectory) LookupPrincipal(_ context.Context, id int64) (*Principal, error) {
	d.lookups++
	p, ok := d.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	cp := *p
	return &cp, nil
}

func (d *fakeDirectory) ResolveIdentity(ctx context.Context, id *Identity) (*Principal, error) {
	return d.LookupPrincipal(ctx, id.UserID)
}

type authFixture struct {
	auth     *Authenticator
	tokens   *TokenService
	sessions *MemorySessionStore
	dir      *fakeDirectory
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	dir := &fakeDirectory{users: map[int64]*Principal{
		1: {ID: 1, Username: "user", Tier: model.TierUser},
		2: {ID: 2, Username: "mod", Tier: model.TierAdmin},
		3: {ID: 3, Username: "root", Tier: model.TierSuperAdmin},
	}}
	tokens := newTestTokenService(t)
	sessions := NewMemorySessionStore(time.Hour)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &authFixture{
		auth:     NewAuthenticator(tokens, sessions, dir, logger, AuthenticatorConfig{}),
		tokens:   tokens,
		sessions: sessions,
		dir:      dir,
	}
}

// whoami echoes the principal's username, or "anonymous".
var whoami = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if p, ok := PrincipalFromContext(r.Context()); ok {
		io.WriteString(w, p.Username)
		return
	}
	io.WriteString(w, "anonymous")
})

func (f *authFixture) bearer(t *testing.T, r *http.Request, userID int64) {
	t.Helper()
	token, err := f.tokens.Generate(&Principal{ID: userID, Username: "x"})
	require.NoError(t, err)
	r.Header.Set("Authorization", "Bearer "+token)
}

func (f *authFixture) session(t *testing.T, r *http.Request, userID int64) string {
	t.Helper()
	id := NewSessionID()
	require.NoError(t, f.sessions.Save(context.Background(), id, &Principal{ID: userID}))
	r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: id})
	return id
}

func decodeMessage(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

// =========================================================================
// RequireAuth / OptionalAuth
// =========================================================================

func TestRequireAuth_Anonymous(t *testing.T) {
	f := newAuthFixture(t)
	rec := httptest.NewRecorder()
	f.auth.RequireAuth(whoami).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeMessage(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Not authenticated", body["message"])
}

func TestRequireAuth_Credentials(t *testing.T) {
	f := newAuthFixture(t)

	tests := []struct {
		name     string
		setup    func(r *http.Request)
		wantCode int
		wantBody string
	}{
		{"bearer token", func(r *http.Request) { f.bearer(t, r, 1) }, http.StatusOK, "user"},
		{"session cookie", func(r *http.Request) { f.session(t, r, 2) }, http.StatusOK, "mod"},
		{"bearer wins over cookie", func(r *http.Request) {
			f.bearer(t, r, 3)
			f.session(t, r, 1)
		}, http.StatusOK, "root"},
		{"bad bearer does not fall back to cookie", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer nope")
			f.session(t, r, 1)
		}, http.StatusUnauthorized, ""},
		{"unknown session id", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "forged"})
		}, http.StatusUnauthorized, ""},
		{"token for deleted account", func(r *http.Request) { f.bearer(t, r, 99) }, http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			f.auth.RequireAuth(whoami).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestRequireAuth_SessionPicksUpTierChange(t *testing.T) {
	f := newAuthFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	f.session(t, req, 1)

	f.dir.users[1].Tier = model.TierAdmin

	rec := httptest.NewRecorder()
	f.auth.RequireAdmin(whoami).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAuth_DeletedAccountClearsSession(t *testing.T) {
	f := newAuthFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	f.session(t, req, 1)
	delete(f.dir.users, 1)

	rec := httptest.NewRecorder()
	f.auth.RequireAuth(whoami).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, f.sessions.Len())
}

func TestOptionalAuth(t *testing.T) {
	f := newAuthFixture(t)

	rec := httptest.NewRecorder()
	f.auth.OptionalAuth(whoami).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	f.auth.OptionalAuth(whoami).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	f.bearer(t, req, 2)
	rec = httptest.NewRecorder()
	f.auth.OptionalAuth(whoami).ServeHTTP(rec, req)
	assert.Equal(t, "mod", rec.Body.String())
}

// =========================================================================
// TIER GATES
// =========================================================================

func TestTierGates(t *testing.T) {
	f := newAuthFixture(t)

	tests := []struct {
		name     string
		gate     func(http.Handler) http.Handler
		userID   int64
		wantCode int
		wantMsg  string
	}{
		{"admin gate rejects tier 0", f.auth.RequireAdmin, 1, http.StatusForbidden, "Admin access required"},
		{"admin gate accepts tier 1", f.auth.RequireAdmin, 2, http.StatusOK, ""},
		{"admin gate accepts tier 2", f.auth.RequireAdmin, 3, http.StatusOK, ""},
		{"super gate rejects tier 0", f.auth.RequireSuperAdmin, 1, http.StatusForbidden, "Super admin access required"},
		{"super gate rejects tier 1", f.auth.RequireSuperAdmin, 2, http.StatusForbidden, "Super admin access required"},
		{"super gate accepts tier 2", f.auth.RequireSuperAdmin, 3, http.StatusOK, ""},
		{"admin gate anonymous", f.auth.RequireAdmin, 0, http.StatusUnauthorized, "Not authenticated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.userID != 0 {
				f.bearer(t, req, tt.userID)
			}
			rec := httptest.NewRecorder()
			tt.gate(whoami).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, decodeMessage(t, rec)["message"])
			}
		})
	}
}

func TestTierGate_ReusesPrincipalFromRequireAuth(t *testing.T) {
	f := newAuthFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	f.bearer(t, req, 3)

	rec := httptest.NewRecorder()
	f.auth.RequireAuth(f.auth.RequireSuperAdmin(whoami)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.dir.lookups)
}

// =========================================================================
// SESSION LIFECYCLE
// =========================================================================

func TestStartAndEndSession(t *testing.T) {
	f := newAuthFixture(t)

	rec := httptest.NewRecorder()
	require.NoError(t, f.auth.StartSession(rec, httptest.NewRequest(http.MethodPost, "/api/login", nil), f.dir.users[2]))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, SessionCookieName, c.Name)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(c)
	rec = httptest.NewRecorder()
	f.auth.RequireAuth(whoami).ServeHTTP(rec, req)
	assert.Equal(t, "mod", rec.Body.String())

	rec = httptest.NewRecorder()
	require.NoError(t, f.auth.EndSession(rec, req))
	assert.Equal(t, -1, rec.Result().Cookies()[0].MaxAge)

	rec = httptest.NewRecorder()
	f.auth.RequireAuth(whoami).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
