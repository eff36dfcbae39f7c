package handler_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/soundboard/internal/audit"
	"github.com/sakif/soundboard/internal/model"
)

func TestHandleLogin(t *testing.T) {
	t.Run("success starts a session and audits with the new principal", func(t *testing.T) {
		env := newTestEnv(t)
		alice := env.createUser(t, "alice", model.TierAdmin)

		rr := serve(t, env.auth.HandleLogin, call{
			method: http.MethodPost, path: "/api/login",
			body: map[string]string{"username": "alice", "password": "password1"},
		})

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		body := decode(t, rr)
		assert.Equal(t, true, body["success"])
		assert.NotEmpty(t, body["token"])
		user := body["user"].(map[string]any)
		assert.Equal(t, "alice", user["username"])
		assert.NotContains(t, user, "PasswordHash")

		require.Len(t, env.sessions.started, 1)
		assert.Equal(t, alice.ID, env.sessions.started[0].ID)

		calls := env.actions.all()
		require.Len(t, calls, 1)
		assert.Equal(t, audit.ActionLoginSuccess, calls[0].Action)
		require.NotNil(t, calls[0].Principal)
		assert.Equal(t, alice.ID, calls[0].Principal.ID)
	})

	t.Run("wrong password is audited with the reason", func(t *testing.T) {
		env := newTestEnv(t)
		alice := env.createUser(t, "alice", model.TierUser)

		rr := serve(t, env.auth.HandleLogin, call{
			method: http.MethodPost, path: "/api/login",
			body: map[string]string{"username": "alice", "password": "nope"},
		})

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, false, decode(t, rr)["success"])

		calls := env.actions.all()
		require.Len(t, calls, 1)
		assert.Equal(t, audit.ActionLoginFailed, calls[0].Action)
		assert.Equal(t, "invalid_password", calls[0].Extra["reason"])
		assert.Equal(t, alice.ID, calls[0].Extra["userId"])
		assert.Nil(t, calls[0].Principal)
	})

	t.Run("unknown user gets the same message", func(t *testing.T) {
		env := newTestEnv(t)
		env.createUser(t, "alice", model.TierUser)

		wrongPass := serve(t, env.auth.HandleLogin, call{
			method: http.MethodPost, path: "/api/login",
			body: map[string]string{"username": "alice", "password": "nope"},
		})
		unknown := serve(t, env.auth.HandleLogin, call{
			method: http.MethodPost, path: "/api/login",
			body: map[string]string{"username": "ghost", "password": "nope"},
		})

		assert.Equal(t, wrongPass.Code, unknown.Code)
		assert.Equal(t, decode(t, wrongPass)["message"], decode(t, unknown)["message"])

		calls := env.actions.all()
		require.Len(t, calls, 2)
		assert.Equal(t, "invalid_username", calls[1].Extra["reason"])
	})

	t.Run("malformed body", func(t *testing.T) {
		env := newTestEnv(t)
		rr := serve(t, env.auth.HandleLogin, call{
			method: http.MethodPost, path: "/api/login", body: "{",
		})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		calls := env.actions.all()
		require.Len(t, calls, 1)
		assert.Equal(t, "missing_credentials", calls[0].Extra["reason"])
	})

	t.Run("session failure is a 500 with a generic message", func(t *testing.T) {
		env := newTestEnv(t)
		env.createUser(t, "alice", model.TierUser)
		env.sessions.startErr = errors.New("redis down")

		rr := serve(t, env.auth.HandleLogin, call{
			method: http.MethodPost, path: "/api/login",
			body: map[string]string{"username": "alice", "password": "password1"},
		})

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Equal(t, "An internal error occurred", decode(t, rr)["message"])
	})
}

func TestHandleRegister(t *testing.T) {
	env := newTestEnv(t)

	rr := serve(t, env.auth.HandleRegister, call{
		method: http.MethodPost, path: "/api/register",
		body: map[string]string{"username": "newbie", "password": "secret1", "confirmPassword": "secret1"},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "newbie", decode(t, rr)["user"].(map[string]any)["username"])

	rr = serve(t, env.auth.HandleRegister, call{
		method: http.MethodPost, path: "/api/register",
		body: map[string]string{"username": "newbie", "password": "secret1", "confirmPassword": "secret1"},
	})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = serve(t, env.auth.HandleRegister, call{
		method: http.MethodPost, path: "/api/register",
		body: map[string]string{"username": "other", "password": "secret1", "confirmPassword": "secret2"},
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleMe_RequiresPrincipal(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice", model.TierUser)

	rr := serve(t, env.auth.HandleMe, call{method: http.MethodGet, path: "/api/me"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = serve(t, env.auth.HandleMe, call{method: http.MethodGet, path: "/api/me", as: alice})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "alice", decode(t, rr)["user"].(map[string]any)["username"])
}

func TestHandleButtonSize(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice", model.TierUser)

	tests := []struct {
		name string
		size string
		want int
	}{
		{"valid", "200", http.StatusOK},
		{"not a number", "big", http.StatusBadRequest},
		{"too small", "10", http.StatusBadRequest},
		{"too large", "900", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(t, env.auth.HandleButtonSize, call{
				method: http.MethodPut, pattern: "/api/button_size/{size}",
				path: "/api/button_size/" + tt.size, as: alice,
			})
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}

	require.Len(t, env.sessions.refreshed, 1)
	assert.Equal(t, 200, env.sessions.refreshed[0].BtnSize)
}

func TestHandleChangePassword(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice", model.TierUser)

	rr := serve(t, env.auth.HandleChangePassword, call{
		method: http.MethodPut, path: "/api/reset_password", as: alice,
		body: map[string]string{"currentPassword": "wrong", "newPassword": "newpass1", "confirmPassword": "newpass1"},
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = serve(t, env.auth.HandleChangePassword, call{
		method: http.MethodPut, path: "/api/reset_password", as: alice,
		body: map[string]string{"currentPassword": "password1", "newPassword": "newpass1", "confirmPassword": "newpass1"},
	})
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestHandleLogout(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice", model.TierUser)

	rr := serve(t, env.auth.HandleLogout, call{method: http.MethodPost, path: "/api/logout", as: alice})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, env.sessions.ended)
}
