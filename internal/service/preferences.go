package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/sakif/soundboard/internal/apperror"
	"github.com/sakif/soundboard/internal/model"
	"github.com/sakif/soundboard/internal/repository"
	"github.com/sakif/soundboard/internal/storage"
)

// PreferenceService covers per-user volumes and favorites, and play counts.
type PreferenceService struct {
	prefs   repository.PreferenceRepository
	buttons repository.ButtonRepository
	store   storage.Store
	logger  *slog.Logger
}

func NewPreferenceService(
	prefs repository.PreferenceRepository,
	buttons repository.ButtonRepository,
	store storage.Store,
	logger *slog.Logger,
) *PreferenceService {
	return &PreferenceService{prefs: prefs, buttons: buttons, store: store, logger: logger}
}

// Volume returns the user's volume for a button, model.DefaultVolume when
// never set.
func (s *PreferenceService) Volume(ctx context.Context, userID, uploadedID int64) (float64, error) {
	if _, err := s.buttons.GetButton(ctx, uploadedID); err != nil {
		return 0, fmt.Errorf("service/preferences: %w", err)
	}
	v, err := s.prefs.GetVolume(ctx, userID, uploadedID)
	if err != nil {
		return 0, fmt.Errorf("service/preferences: %w", err)
	}
	return v, nil
}

// SetVolume stores a volume in [0, 1].
func (s *PreferenceService) SetVolume(ctx context.Context, userID, uploadedID int64, volume float64) error {
	if math.IsNaN(volume) || volume < 0 || volume > 1 {
		return apperror.ValidationFailed("volume", "Volume must be between 0 and 1")
	}
	if err := s.prefs.SetVolume(ctx, userID, uploadedID, volume); err != nil {
		return fmt.Errorf("service/preferences: %w", err)
	}
	return nil
}

func (s *PreferenceService) Volumes(ctx context.Context, userID int64) ([]model.ButtonVolume, error) {
	volumes, err := s.prefs.ListVolumes(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/preferences: %w", err)
	}
	return volumes, nil
}

func (s *PreferenceService) Favorites(ctx context.Context, userID int64) ([]model.Button, error) {
	favorites, err := s.prefs.ListFavorites(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/preferences: %w", err)
	}
	decorateAll(s.store, favorites)
	return favorites, nil
}

// AddFavorite is idempotent.
func (s *PreferenceService) AddFavorite(ctx context.Context, userID, uploadedID int64) error {
	if err := s.prefs.AddFavorite(ctx, userID, uploadedID); err != nil {
		return fmt.Errorf("service/preferences: %w", err)
	}
	return nil
}

func (s *PreferenceService) RemoveFavorite(ctx context.Context, userID, uploadedID int64) error {
	if err := s.prefs.RemoveFavorite(ctx, userID, uploadedID); err != nil {
		return fmt.Errorf("service/preferences: %w", err)
	}
	return nil
}

func (s *PreferenceService) RecordPlay(ctx context.Context, uploadedID int64) error {
	if err := s.prefs.IncrementPlayCount(ctx, uploadedID); err != nil {
		return fmt.Errorf("service/preferences: %w", err)
	}
	return nil
}

func (s *PreferenceService) ButtonStats(ctx context.Context, uploadedID int64) (*model.ButtonStats, error) {
	stats, err := s.prefs.GetButtonStats(ctx, uploadedID)
	if err != nil {
		return nil, fmt.Errorf("service/preferences: %w", err)
	}
	return stats, nil
}

// MostPlayed clamps limit into [1, MaxMostPlayedLimit]; zero or less means
// DefaultMostPlayedLimit.
func (s *PreferenceService) MostPlayed(ctx context.Context, limit int) ([]model.ButtonStats, error) {
	switch {
	case limit <= 0:
		limit = DefaultMostPlayedLimit
	case limit > MaxMostPlayedLimit:
		limit = MaxMostPlayedLimit
	}
	stats, err := s.prefs.MostPlayed(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("service/preferences: %w", err)
	}
	return stats, nil
}

func (s *PreferenceService) PlatformStats(ctx context.Context) (*model.PlatformStats, error) {
	stats, err := s.prefs.PlatformStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/preferences: %w", err)
	}
	return stats, nil
}
