package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/soundboard/internal/apperror"
	"github.com/sakif/soundboard/internal/audit"
	"github.com/sakif/soundboard/internal/auth"
	"github.com/sakif/soundboard/internal/model"
	"github.com/sakif/soundboard/internal/service"
)

// maxAvatarForm bounds the in-memory part of a multipart avatar upload;
// larger parts spill to temporary files.
const maxAvatarForm = 8 << 20

// ActionLogger writes an audit entry synchronously. *audit.Recorder
// implements it.
type ActionLogger interface {
	LogAction(ctx context.Context, r *http.Request, action string, extra map[string]any)
}

// SessionManager issues and clears the session cookie. *auth.Authenticator
// implements it.
type SessionManager interface {
	StartSession(w http.ResponseWriter, r *http.Request, p *auth.Principal) error
	RefreshSession(r *http.Request, p *auth.Principal) error
	EndSession(w http.ResponseWriter, r *http.Request) error
}

// AuthHandler serves login, registration and the caller's own profile.
//
// DEPENDENCY CHAIN:
//   - accounts *service.AuthService → credential checks and profile updates
//   - sessions SessionManager       → session cookie
//   - actions  ActionLogger         → login_success / login_failed entries
type AuthHandler struct {
	accounts *service.AuthService
	sessions SessionManager
	actions  ActionLogger
	logger   *slog.Logger
}

func NewAuthHandler(
	accounts *service.AuthService,
	sessions SessionManager,
	actions ActionLogger,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		accounts: accounts,
		sessions: sessions,
		actions:  actions,
		logger:   logger,
	}
}

// userView is the account as the client sees it.
type userView struct {
	*model.User
	AvatarURL string `json:"avatar_url,omitempty"`
}

func (h *AuthHandler) view(u *model.User) userView {
	return userView{User: u, AvatarURL: h.accounts.AvatarURL(u.Avatar)}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleLogin checks credentials, starts a session and returns a bearer
// token. Both outcomes are audited synchronously.
//
// HTTP: POST /api/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.actions.LogAction(r.Context(), r, audit.ActionLoginFailed, map[string]any{
			"reason":   service.ReasonMissingCredentials,
			"username": "unknown",
		})
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		var le *service.LoginError
		if errors.As(err, &le) {
			details := map[string]any{"reason": le.Reason, "username": le.Username}
			if le.Username == "" {
				details["username"] = "unknown"
			}
			if le.UserID != 0 {
				details["userId"] = le.UserID
			}
			h.actions.LogAction(r.Context(), r, audit.ActionLoginFailed, details)
		}
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.sessions.StartSession(w, r, res.Principal); err != nil {
		h.actions.LogAction(r.Context(), r, audit.ActionLoginFailed, map[string]any{
			"reason":   "session_error",
			"username": res.User.Username,
			"userId":   res.User.ID,
		})
		writeError(w, r, h.logger, err)
		return
	}

	ctx := auth.WithPrincipal(r.Context(), res.Principal)
	h.actions.LogAction(ctx, r, audit.ActionLoginSuccess, map[string]any{
		"username": res.User.Username,
		"userId":   res.User.ID,
		"isAdmin":  res.User.Tier,
	})

	writeOK(w, http.StatusOK, "Login successful", payload{
		"user":  h.view(res.User),
		"token": res.Token,
	})
}

// HandleRegister creates an account. It does not log the new user in.
//
// HTTP: POST /api/register
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	user, err := h.accounts.Register(r.Context(), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	audit.SetActor(r.Context(), auth.PrincipalFromUser(user))
	audit.Annotate(r.Context(), "username", user.Username)
	writeOK(w, http.StatusCreated, "User registered successfully", payload{"user": h.view(user)})
}

// HandleLogout ends the session. Bearer tokens stay valid until they expire.
//
// HTTP: POST /api/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.EndSession(w, r); err != nil {
		// The cookie is expired either way.
		h.logger.Warn("clearing session failed", slog.String("error", err.Error()))
	}
	writeOK(w, http.StatusOK, "Logged out", nil)
}

// HandleMe returns the caller's account.
//
// HTTP: GET /api/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	p, err := caller(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	user, err := h.accounts.Me(r.Context(), p.ID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "", payload{"user": h.view(user)})
}

// HandleChangePassword requires the current password.
//
// HTTP: PUT /api/reset_password
func (h *AuthHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	p, err := caller(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var in service.ChangePasswordInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.accounts.ChangePassword(r.Context(), p.ID, in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "Password updated successfully", nil)
}

// HandleButtonSize stores the board tile size and refreshes the session copy.
//
// HTTP: PUT /api/button_size/{size}
func (h *AuthHandler) HandleButtonSize(w http.ResponseWriter, r *http.Request) {
	p, err := caller(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	size, err := strconv.Atoi(chi.URLParam(r, "size"))
	if err != nil {
		writeError(w, r, h.logger, apperror.ValidationFailed("btn_size", "Button size must be a number"))
		return
	}
	if err := h.accounts.SetButtonSize(r.Context(), p.ID, size); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	updated := *p
	updated.BtnSize = size
	if err := h.sessions.RefreshSession(r, &updated); err != nil {
		h.logger.Warn("refreshing session failed", slog.String("error", err.Error()))
	}

	audit.Annotate(r.Context(), "btnSize", size)
	writeOK(w, http.StatusOK, "Button size updated successfully", payload{"btn_size": size})
}

// HandleUploadAvatar replaces the caller's avatar with the "avatar" form file.
//
// HTTP: POST /api/user/avatar (multipart/form-data)
func (h *AuthHandler) HandleUploadAvatar(w http.ResponseWriter, r *http.Request) {
	p, err := caller(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := r.ParseMultipartForm(maxAvatarForm); err != nil {
		writeError(w, r, h.logger, apperror.ValidationFailed("avatar", "Invalid upload"))
		return
	}
	file, header, err := r.FormFile("avatar")
	if err != nil {
		writeError(w, r, h.logger, apperror.ValidationFailed("avatar", "No file uploaded"))
		return
	}
	defer file.Close()

	filename, err := h.accounts.SetAvatar(r.Context(), p.ID, header.Filename, file)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	audit.Annotate(r.Context(), "filename", filename)
	writeOK(w, http.StatusOK, "Avatar updated successfully", payload{
		"avatar":    filename,
		"avatarUrl": h.accounts.AvatarURL(filename),
	})
}

// HTTP: DELETE /api/user/avatar
func (h *AuthHandler) HandleDeleteAvatar(w http.ResponseWriter, r *http.Request) {
	p, err := caller(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	filename, err := h.accounts.ClearAvatar(r.Context(), p.ID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	audit.Annotate(r.Context(), "filename", filename)
	writeOK(w, http.StatusOK, "Avatar deleted successfully", nil)
}
