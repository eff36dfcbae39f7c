package service

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/soundboard/internal/apperror"
	"github.com/sakif/soundboard/internal/model"
	"github.com/sakif/soundboard/internal/repository"
)

func TestVolume(t *testing.T) {
	env := newTestEnv(t, "")
	alice := env.createUser(t, "alice", model.TierUser)
	honk := env.upload(t, alice.ID, "Honk", "").Button.ID
	ctx := context.Background()

	v, err := env.prefs.Volume(ctx, alice.ID, honk)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultVolume, v)

	require.NoError(t, env.prefs.SetVolume(ctx, alice.ID, honk, 0.25))
	v, err = env.prefs.Volume(ctx, alice.ID, honk)
	require.NoError(t, err)
	assert.Equal(t, 0.25, v)

	for _, bad := range []float64{-0.1, 1.01, math.NaN()} {
		assert.ErrorIs(t, env.prefs.SetVolume(ctx, alice.ID, honk, bad), apperror.ErrValidation)
	}

	_, err = env.prefs.Volume(ctx, alice.ID, 999)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.ErrorIs(t, env.prefs.SetVolume(ctx, alice.ID, 999, 0.5), apperror.ErrNotFound)

	volumes, err := env.prefs.Volumes(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []model.ButtonVolume{{UploadedID: honk, Volume: 0.25}}, volumes)
}

func TestFavoritesAndPlays(t *testing.T) {
	env := newTestEnv(t, "")
	alice := env.createUser(t, "alice", model.TierUser)
	honk := env.upload(t, alice.ID, "Honk", "").Button.ID
	ctx := context.Background()

	require.NoError(t, env.prefs.AddFavorite(ctx, alice.ID, honk))
	require.NoError(t, env.prefs.AddFavorite(ctx, alice.ID, honk))
	favorites, err := env.prefs.Favorites(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, favorites, 1)
	assert.NotEmpty(t, favorites[0].SoundURL)

	require.NoError(t, env.prefs.RemoveFavorite(ctx, alice.ID, honk))
	assert.ErrorIs(t, env.prefs.RemoveFavorite(ctx, alice.ID, honk), apperror.ErrNotFound)

	require.NoError(t, env.prefs.RecordPlay(ctx, honk))
	require.NoError(t, env.prefs.RecordPlay(ctx, honk))
	stats, err := env.prefs.ButtonStats(ctx, honk)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PlayCount)

	platform, err := env.prefs.PlatformStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, platform.TotalUsers)
	assert.Equal(t, 2, platform.TotalPlays)
}

// limitSpy records the limit MostPlayed passes down.
type limitSpy struct {
	repository.PreferenceRepository
	limit int
}

func (s *limitSpy) MostPlayed(_ context.Context, limit int) ([]model.ButtonStats, error) {
	s.limit = limit
	return []model.ButtonStats{}, nil
}

func TestMostPlayed_ClampsLimit(t *testing.T) {
	tests := []struct {
		requested int
		want      int
	}{
		{0, DefaultMostPlayedLimit},
		{-4, DefaultMostPlayedLimit},
		{1, 1},
		{250, 250},
		{5000, MaxMostPlayedLimit},
	}

	for _, tt := range tests {
		spy := &limitSpy{}
		svc := NewPreferenceService(spy, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
		_, err := svc.MostPlayed(context.Background(), tt.requested)
		require.NoError(t, err)
		assert.Equal(t, tt.want, spy.limit, "requested %d", tt.requested)
	}
}
