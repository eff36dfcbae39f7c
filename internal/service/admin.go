package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/soundboard/internal/apperror"
	"github.com/sakif/soundboard/internal/model"
	"github.com/sakif/soundboard/internal/repository"
	"github.com/sakif/soundboard/internal/storage"
)

// AdminService is the moderation surface. Route gating (admin vs.
// super-admin) happens in the HTTP layer; the self-targeting rules live
// here so every caller gets them.
type AdminService struct {
	users      repository.UserRepository
	buttons    repository.ButtonRepository
	files      repository.FileRepository
	categories repository.CategoryRepository
	history    repository.HistoryRepository
	store      storage.Store
	onDelete   repository.CategoryDeletePolicy
	logger     *slog.Logger
}

// AdminDeps groups the collaborators of AdminService.
type AdminDeps struct {
	Users      repository.UserRepository
	Buttons    repository.ButtonRepository
	Files      repository.FileRepository
	Categories repository.CategoryRepository
	History    repository.HistoryRepository
	Store      storage.Store
	// OnDelete is what happens to the buttons of a deleted category.
	// The zero value means repository.CategorySetNull.
	OnDelete repository.CategoryDeletePolicy
}

func NewAdminService(deps AdminDeps, logger *slog.Logger) *AdminService {
	policy := deps.OnDelete
	if policy == "" {
		policy = repository.CategorySetNull
	}
	return &AdminService{
		users:      deps.Users,
		buttons:    deps.Buttons,
		files:      deps.Files,
		categories: deps.Categories,
		history:    deps.History,
		store:      deps.Store,
		onDelete:   policy,
		logger:     logger,
	}
}

// ===== USERS =====

// ListUsers returns every account with its board size. Password hashes
// never leave the server: model.User does not serialize them.
func (s *AdminService) ListUsers(ctx context.Context) ([]model.UserWithStats, error) {
	users, err := s.users.ListUsersWithStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/admin: listing users: %w", err)
	}
	return users, nil
}

// TierChange describes an applied role change.
type TierChange struct {
	User     *model.User // the target, with Tier already updated
	Previous model.Tier
}

// ToggleAdmin changes the tier of targetID. With a nil level the tier flips:
// a regular user becomes an admin and either admin tier becomes a regular
// user. A caller can never change their own tier.
func (s *AdminService) ToggleAdmin(ctx context.Context, callerID, targetID int64, level *model.Tier) (*TierChange, error) {
	if callerID == targetID {
		return nil, apperror.ValidationFailed("userId", "Cannot modify your own admin status")
	}
	if level != nil && !level.Valid() {
		return nil, apperror.ValidationFailed("level", "level must be 0, 1 or 2")
	}

	user, err := s.users.GetUserByID(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("service/admin: fetching user %d: %w", targetID, err)
	}

	prev := user.Tier
	next := model.TierAdmin
	switch {
	case level != nil:
		next = *level
	case prev.IsAdmin():
		next = model.TierUser
	}

	if err := s.users.UpdateTier(ctx, targetID, next); err != nil {
		return nil, fmt.Errorf("service/admin: updating tier of user %d: %w", targetID, err)
	}
	user.Tier = next

	s.logger.Info("admin status changed",
		slog.Int64("caller_id", callerID),
		slog.Int64("target_id", targetID),
		slog.Int("previous", int(prev)),
		slog.Int("current", int(next)),
	)
	return &TierChange{User: user, Previous: prev}, nil
}

// PromoteByUsername sets the tier of username. It serves the CLI, which has
// no caller account.
func (s *AdminService) PromoteByUsername(ctx context.Context, username string, tier model.Tier) (*TierChange, error) {
	if !tier.Valid() {
		return nil, apperror.ValidationFailed("tier", "tier must be 0, 1 or 2")
	}
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("service/admin: fetching user %q: %w", username, err)
	}
	prev := user.Tier
	if err := s.users.UpdateTier(ctx, user.ID, tier); err != nil {
		return nil, fmt.Errorf("service/admin: updating tier of %q: %w", username, err)
	}
	user.Tier = tier
	return &TierChange{User: user, Previous: prev}, nil
}

// DeleteUser removes targetID and returns the deleted account, so the
// caller can still report its username. A caller can never delete their
// own account.
func (s *AdminService) DeleteUser(ctx context.Context, callerID, targetID int64) (*model.User, error) {
	if callerID == targetID {
		return nil, apperror.ValidationFailed("userId", "Cannot delete your own account")
	}

	user, err := s.users.GetUserByID(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("service/admin: fetching user %d: %w", targetID, err)
	}
	if err := s.users.DeleteUser(ctx, targetID); err != nil {
		return nil, fmt.Errorf("service/admin: deleting user %d: %w", targetID, err)
	}
	removeFile(s.store, s.logger, storage.KindAvatar, user.Avatar)

	s.logger.Info("user deleted",
		slog.Int64("caller_id", callerID),
		slog.Int64("target_id", targetID),
		slog.String("username", user.Username),
	)
	return user, nil
}

// ===== DELETE HISTORY =====

func (s *AdminService) DeletedButtons(ctx context.Context) ([]model.DeletedButton, error) {
	history, err := s.history.ListHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/admin: listing deleted buttons: %w", err)
	}
	return history, nil
}

// Restore re-links an archived button for its owner. A nil position puts it
// at the end of the owner's board. Restoring twice is a conflict; restoring
// a button whose catalog entry is gone is not-found.
func (s *AdminService) Restore(ctx context.Context, historyID int64, position *int) (*model.DeletedButton, error) {
	tri := -1
	if position != nil {
		if *position < 0 {
			return nil, apperror.ValidationFailed("position", "position must not be negative")
		}
		tri = *position
	}
	h, err := s.history.RestoreHistory(ctx, historyID, tri)
	if err != nil {
		return nil, fmt.Errorf("service/admin: restoring %d: %w", historyID, err)
	}
	return h, nil
}

// ===== BUTTONS =====

// UpdateButtonInput edits a catalog entry. An empty Name keeps the current
// one. CategoryID nil keeps the category, 0 clears it, anything else must
// name an existing category.
type UpdateButtonInput struct {
	Name       string `json:"button_name"`
	CategoryID *int64 `json:"category_id"`
}

func (s *AdminService) UpdateButton(ctx context.Context, id int64, in UpdateButtonInput) (*model.Button, error) {
	b, err := s.buttons.GetButton(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/admin: fetching button %d: %w", id, err)
	}

	name := b.Name
	if n := strings.TrimSpace(in.Name); n != "" {
		if len([]rune(n)) > MaxButtonNameLength {
			return nil, apperror.ValidationFailed("button_name",
				fmt.Sprintf("Button name must be at most %d characters", MaxButtonNameLength))
		}
		name = n
	}

	categoryID := b.CategoryID
	if in.CategoryID != nil {
		switch {
		case *in.CategoryID == 0:
			categoryID = nil
		case *in.CategoryID < 0:
			return nil, apperror.ValidationFailed("category_id", "Invalid category id")
		default:
			if _, err := s.categories.GetCategoryByID(ctx, *in.CategoryID); err != nil {
				return nil, fmt.Errorf("service/admin: %w", err)
			}
			categoryID = in.CategoryID
		}
	}

	if err := s.buttons.UpdateButton(ctx, id, name, categoryID); err != nil {
		return nil, fmt.Errorf("service/admin: updating button %d: %w", id, err)
	}
	updated, err := s.buttons.GetButton(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/admin: reloading button %d: %w", id, err)
	}
	decorate(s.store, updated)
	return updated, nil
}

// DeleteButton hard-deletes a catalog entry everywhere: every board loses
// it and its media is removed. History rows that point at it can no longer
// be restored.
func (s *AdminService) DeleteButton(ctx context.Context, id int64) (*model.Button, error) {
	b, err := s.buttons.DeleteButton(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/admin: deleting button %d: %w", id, err)
	}
	s.removeMedia(ctx, b.ImageID, storage.KindImage, b.ImageFilename)
	s.removeMedia(ctx, b.SoundID, storage.KindSound, b.SoundFilename)

	s.logger.Info("button deleted",
		slog.Int64("button_id", id),
		slog.String("name", b.Name),
	)
	return b, nil
}

// removeMedia deletes the stored file unless another catalog row still
// references its file row.
func (s *AdminService) removeMedia(ctx context.Context, fileID int64, kind storage.Kind, filename string) {
	_, err := s.files.GetFileByID(ctx, fileID)
	if err == nil {
		return
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		s.logger.Warn("checking file before removal failed",
			slog.Int64("file_id", fileID),
			slog.String("error", err.Error()),
		)
		return
	}
	removeFile(s.store, s.logger, kind, filename)
}

// ===== CATEGORIES =====

// UpdateCategory renames or recolors a category. Empty fields keep their
// current value.
func (s *AdminService) UpdateCategory(ctx context.Context, id int64, name, color string) (*model.Category, error) {
	c, err := s.categories.GetCategoryByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/admin: fetching category %d: %w", id, err)
	}
	if n := strings.TrimSpace(name); n != "" {
		c.Name = n
	}
	if col := strings.TrimSpace(color); col != "" {
		c.Color = col
	}
	if err := validateCategory(c); err != nil {
		return nil, err
	}
	if err := s.categories.UpdateCategory(ctx, c); err != nil {
		return nil, fmt.Errorf("service/admin: updating category %d: %w", id, err)
	}
	return c, nil
}

// DeleteCategory removes a category following the configured policy and
// returns it as it was before deletion.
func (s *AdminService) DeleteCategory(ctx context.Context, id int64) (*model.Category, error) {
	c, err := s.categories.GetCategoryByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/admin: fetching category %d: %w", id, err)
	}

	if s.onDelete == repository.CategoryCascade {
		// Delete the buttons one by one first so their media goes too.
		buttons, err := s.buttons.ListButtons(ctx, 0)
		if err != nil {
			return nil, fmt.Errorf("service/admin: listing buttons of category %d: %w", id, err)
		}
		for _, b := range buttons {
			if b.CategoryID == nil || *b.CategoryID != id {
				continue
			}
			if _, err := s.DeleteButton(ctx, b.ID); err != nil && !errors.Is(err, apperror.ErrNotFound) {
				return nil, err
			}
		}
	}

	if err := s.categories.DeleteCategory(ctx, id, s.onDelete); err != nil {
		return nil, fmt.Errorf("service/admin: deleting category %d: %w", id, err)
	}
	return c, nil
}

// OnDelete reports the category deletion policy in effect.
func (s *AdminService) OnDelete() repository.CategoryDeletePolicy {
	return s.onDelete
}
