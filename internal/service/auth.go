package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/sakif/soundboard/internal/apperror"
	"github.com/sakif/soundboard/internal/auth"
	"github.com/sakif/soundboard/internal/model"
	"github.com/sakif/soundboard/internal/repository"
	"github.com/sakif/soundboard/internal/storage"
)

const invalidCredentials = "Invalid username or password"

// Login failure reasons, recorded in the login_failed audit entry.
const (
	ReasonMissingCredentials = "missing_credentials"
	ReasonInvalidUsername    = "invalid_username"
	ReasonInvalidPassword    = "invalid_password"
)

// LoginError is returned for every refused login. The message shown to the
// client never says which part was wrong; Reason does, for the audit log.
type LoginError struct {
	Reason   string
	Username string
	UserID   int64 // set when the username exists
	err      *apperror.AppError
}

func (e *LoginError) Error() string { return e.err.Error() }
func (e *LoginError) Unwrap() error { return e.err }

// AuthService owns accounts: login, registration and profile changes.
//
// DEPENDENCIES (injected via NewAuthService):
//   - users      repository.UserRepository → account rows
//   - tokens     *auth.TokenService        → bearer tokens handed out at login
//   - passwords  *auth.PasswordService     → bcrypt hashing
//   - files      storage.Store             → avatar images
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	files     storage.Store
	logger    *slog.Logger
}

func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	files storage.Store,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		files:     files,
		logger:    logger,
	}
}

// AuthResult bundles the account, the principal to store in the session and
// a bearer token, so the handler can answer in one step.
type AuthResult struct {
	User      *model.User
	Principal *auth.Principal
	Token     string
}

// Login checks a username and password. Every refusal is a *LoginError.
func (s *AuthService) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, &LoginError{
			Reason:   ReasonMissingCredentials,
			Username: username,
			err:      apperror.ValidationFailed("username", "Username and password are required"),
		}
	}

	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, &LoginError{
				Reason:   ReasonInvalidUsername,
				Username: username,
				err:      apperror.Unauthorized(invalidCredentials),
			}
		}
		return nil, fmt.Errorf("service/auth: looking up %q: %w", username, err)
	}

	// Accounts provisioned from an external identity have no password.
	if user.PasswordHash == "" || !s.passwords.Compare(password, user.PasswordHash) {
		return nil, &LoginError{
			Reason:   ReasonInvalidPassword,
			Username: username,
			UserID:   user.ID,
			err:      apperror.Unauthorized(invalidCredentials),
		}
	}

	p := auth.PrincipalFromUser(user)
	token, err := s.tokens.Generate(p)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %d: %w", user.ID, err)
	}

	s.logger.Info("user logged in",
		slog.Int64("user_id", user.ID),
		slog.String("username", user.Username),
	)
	return &AuthResult{User: user, Principal: p, Token: token}, nil
}

type RegisterInput struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	Email           string `json:"email"`
}

// Register creates a regular account. A taken username is a conflict.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	switch {
	case in.Username == "" || in.Password == "" || in.ConfirmPassword == "":
		return nil, apperror.ValidationFailed("username", "Username, password, and password confirmation are required")
	case in.Password != in.ConfirmPassword:
		return nil, apperror.ValidationFailed("confirmPassword", "Passwords do not match")
	case len(in.Password) < MinPasswordLength:
		return nil, apperror.ValidationFailed("password",
			fmt.Sprintf("Password must be at least %d characters long", MinPasswordLength))
	case len([]rune(in.Username)) < MinUsernameLength:
		return nil, apperror.ValidationFailed("username",
			fmt.Sprintf("Username must be at least %d characters long", MinUsernameLength))
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return nil, apperror.ValidationFailed("password", "Password is too long")
		}
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	user := &model.User{
		Username:     in.Username,
		Email:        strings.TrimSpace(in.Email),
		PasswordHash: hash,
		BtnSize:      model.DefaultButtonSize,
		Tier:         model.TierUser,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: registering %q: %w", in.Username, err)
	}

	s.logger.Info("user registered",
		slog.Int64("user_id", user.ID),
		slog.String("username", user.Username),
	)
	return user, nil
}

// EnsureSuperAdmin creates username as a super-admin unless the account
// already exists. It reports whether an account was created.
func (s *AuthService) EnsureSuperAdmin(ctx context.Context, username, password string) (bool, error) {
	_, err := s.users.GetUserByUsername(ctx, username)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return false, fmt.Errorf("service/auth: looking up %q: %w", username, err)
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return false, fmt.Errorf("service/auth: hashing password: %w", err)
	}
	user := &model.User{
		Username:     username,
		PasswordHash: hash,
		BtnSize:      model.DefaultButtonSize,
		Tier:         model.TierSuperAdmin,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return false, fmt.Errorf("service/auth: creating super-admin %q: %w", username, err)
	}
	s.logger.Info("super-admin account created", slog.String("username", username))
	return true, nil
}

// Me returns the caller's account row.
func (s *AuthService) Me(ctx context.Context, userID int64) (*model.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %d: %w", userID, err)
	}
	return user, nil
}

type ChangePasswordInput struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (s *AuthService) ChangePassword(ctx context.Context, userID int64, in ChangePasswordInput) error {
	switch {
	case in.CurrentPassword == "" || in.NewPassword == "" || in.ConfirmPassword == "":
		return apperror.ValidationFailed("newPassword", "All password fields are required")
	case in.NewPassword != in.ConfirmPassword:
		return apperror.ValidationFailed("confirmPassword", "New passwords do not match")
	case len(in.NewPassword) < MinPasswordLength:
		return apperror.ValidationFailed("newPassword",
			fmt.Sprintf("Password must be at least %d characters long", MinPasswordLength))
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("service/auth: fetching user %d: %w", userID, err)
	}
	if user.PasswordHash == "" || !s.passwords.Compare(in.CurrentPassword, user.PasswordHash) {
		return apperror.Unauthorized("Current password is incorrect")
	}

	hash, err := s.passwords.Hash(in.NewPassword)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return apperror.ValidationFailed("newPassword", "Password is too long")
		}
		return fmt.Errorf("service/auth: hashing password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("service/auth: updating password of user %d: %w", userID, err)
	}
	return nil
}

// SetButtonSize stores the board tile size, which must lie in
// [MinButtonSize, MaxButtonSize].
func (s *AuthService) SetButtonSize(ctx context.Context, userID int64, size int) error {
	if size < MinButtonSize || size > MaxButtonSize {
		return apperror.ValidationFailed("btn_size",
			fmt.Sprintf("Invalid button size. Must be between %d and %d.", MinButtonSize, MaxButtonSize))
	}
	if err := s.users.UpdateButtonSize(ctx, userID, size); err != nil {
		return fmt.Errorf("service/auth: updating button size of user %d: %w", userID, err)
	}
	return nil
}

// SetAvatar stores a new avatar image and replaces the previous one. It
// returns the stored filename.
func (s *AuthService) SetAvatar(ctx context.Context, userID int64, originalName string, r io.Reader) (string, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("service/auth: fetching user %d: %w", userID, err)
	}

	filename, err := s.files.Save(ctx, storage.KindAvatar, originalName, r)
	if err != nil {
		return "", fmt.Errorf("service/auth: %w", storageError("avatar", err))
	}
	if err := s.users.UpdateAvatar(ctx, userID, filename); err != nil {
		removeFile(s.files, s.logger, storage.KindAvatar, filename)
		return "", fmt.Errorf("service/auth: updating avatar of user %d: %w", userID, err)
	}
	if user.Avatar != "" {
		removeFile(s.files, s.logger, storage.KindAvatar, user.Avatar)
	}
	return filename, nil
}

// ClearAvatar removes the caller's avatar. It is a validation error when
// there is none. The removed filename is returned.
func (s *AuthService) ClearAvatar(ctx context.Context, userID int64) (string, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("service/auth: fetching user %d: %w", userID, err)
	}
	if user.Avatar == "" {
		return "", apperror.ValidationFailed("avatar", "No avatar to delete")
	}
	if err := s.users.UpdateAvatar(ctx, userID, ""); err != nil {
		return "", fmt.Errorf("service/auth: clearing avatar of user %d: %w", userID, err)
	}
	removeFile(s.files, s.logger, storage.KindAvatar, user.Avatar)
	return user.Avatar, nil
}

// AvatarURL is the public path of a stored avatar, or "".
func (s *AuthService) AvatarURL(filename string) string {
	return s.files.URLFor(storage.KindAvatar, filename)
}
