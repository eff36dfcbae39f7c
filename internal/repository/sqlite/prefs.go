package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sakif/soundboard/internal/apperror"
	"github.com/sakif/soundboard/internal/model"
	"github.com/sakif/soundboard/internal/repository"
)

var _ repository.PreferenceRepository = (*DB)(nil)

// fkMissing maps a foreign key failure on uploaded_id to a not-found error.
func fkMissing(err error, uploadedID int64) error {
	if err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
		return apperror.NotFound("button", uploadedID)
	}
	return nil
}

// GetVolume returns the stored volume or model.DefaultVolume.
func (db *DB) GetVolume(ctx context.Context, userID, uploadedID int64) (float64, error) {
	var v float64
	err := db.conn.QueryRowContext(ctx,
		`SELECT volume FROM button_volume WHERE user_id = ? AND uploaded_id = ?`,
		userID, uploadedID,
	).Scan(&v)
	if err == sql.ErrNoRows {
		return model.DefaultVolume, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: getting volume of %d: %w", uploadedID, err)
	}
	return v, nil
}

func (db *DB) SetVolume(ctx context.Context, userID, uploadedID int64, volume float64) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO button_volume (user_id, uploaded_id, volume) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, uploaded_id) DO UPDATE SET volume = excluded.volume`,
		userID, uploadedID, volume,
	)
	if nf := fkMissing(err, uploadedID); nf != nil {
		return nf
	}
	if err != nil {
		return fmt.Errorf("sqlite: setting volume of %d: %w", uploadedID, err)
	}
	return nil
}

func (db *DB) ListVolumes(ctx context.Context, userID int64) ([]model.ButtonVolume, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT uploaded_id, volume FROM button_volume WHERE user_id = ? ORDER BY uploaded_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing volumes: %w", err)
	}
	defer rows.Close()

	volumes := []model.ButtonVolume{}
	for rows.Next() {
		var v model.ButtonVolume
		if err := rows.Scan(&v.UploadedID, &v.Volume); err != nil {
			return nil, fmt.Errorf("sqlite: scanning volume: %w", err)
		}
		volumes = append(volumes, v)
	}
	return volumes, rows.Err()
}

// AddFavorite is idempotent.
func (db *DB) AddFavorite(ctx context.Context, userID, uploadedID int64) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO favorite (user_id, uploaded_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, uploaded_id) DO NOTHING`,
		userID, uploadedID, db.timestamp(),
	)
	if nf := fkMissing(err, uploadedID); nf != nil {
		return nf
	}
	if err != nil {
		return fmt.Errorf("sqlite: adding favorite %d: %w", uploadedID, err)
	}
	return nil
}

func (db *DB) RemoveFavorite(ctx context.Context, userID, uploadedID int64) error {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM favorite WHERE user_id = ? AND uploaded_id = ?`, userID, uploadedID)
	if err != nil {
		return fmt.Errorf("sqlite: removing favorite %d: %w", uploadedID, err)
	}
	return requireAffected(res, apperror.NotFound("favorite", uploadedID))
}

// ListFavorites returns the user's favorite buttons, most recently added first.
func (db *DB) ListFavorites(ctx context.Context, userID int64) ([]model.Button, error) {
	return db.queryButtons(ctx,
		buttonSelect+` JOIN favorite f ON f.uploaded_id = up.id AND f.user_id = ?
		 ORDER BY f.created_at DESC, up.id DESC`,
		userID, userID,
	)
}

func (db *DB) IncrementPlayCount(ctx context.Context, uploadedID int64) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO button_stats (uploaded_id, play_count, last_played) VALUES (?, 1, ?)
		 ON CONFLICT(uploaded_id) DO UPDATE SET
		   play_count = play_count + 1,
		   last_played = excluded.last_played`,
		uploadedID, db.timestamp(),
	)
	if nf := fkMissing(err, uploadedID); nf != nil {
		return nf
	}
	if err != nil {
		return fmt.Errorf("sqlite: counting play of %d: %w", uploadedID, err)
	}
	return nil
}

// GetButtonStats reports zero plays for a button that was never played.
func (db *DB) GetButtonStats(ctx context.Context, uploadedID int64) (*model.ButtonStats, error) {
	var (
		s          model.ButtonStats
		lastPlayed sql.NullTime
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT up.id, up.button_name, COALESCE(s.play_count, 0), s.last_played
		 FROM uploaded up
		 LEFT JOIN button_stats s ON s.uploaded_id = up.id
		 WHERE up.id = ?`, uploadedID,
	).Scan(&s.UploadedID, &s.ButtonName, &s.PlayCount, &lastPlayed)
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("button", uploadedID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting stats of %d: %w", uploadedID, err)
	}
	s.LastPlayed = timePtr(lastPlayed)
	return &s, nil
}

func (db *DB) MostPlayed(ctx context.Context, limit int) ([]model.ButtonStats, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT up.id, up.button_name, s.play_count, s.last_played
		 FROM button_stats s
		 JOIN uploaded up ON up.id = s.uploaded_id
		 ORDER BY s.play_count DESC, s.last_played DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing most played: %w", err)
	}
	defer rows.Close()

	stats := []model.ButtonStats{}
	for rows.Next() {
		var (
			s          model.ButtonStats
			lastPlayed sql.NullTime
		)
		if err := rows.Scan(&s.UploadedID, &s.ButtonName, &s.PlayCount, &lastPlayed); err != nil {
			return nil, fmt.Errorf("sqlite: scanning play stats: %w", err)
		}
		s.LastPlayed = timePtr(lastPlayed)
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func (db *DB) PlatformStats(ctx context.Context) (*model.PlatformStats, error) {
	var s model.PlatformStats
	err := db.conn.QueryRowContext(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM user),
		   (SELECT COUNT(*) FROM uploaded),
		   (SELECT COUNT(*) FROM category),
		   (SELECT COUNT(*) FROM deleted_button WHERE status = 'deleted'),
		   (SELECT COALESCE(SUM(play_count), 0) FROM button_stats)`,
	).Scan(&s.TotalUsers, &s.TotalButtons, &s.TotalCategories, &s.TotalDeleted, &s.TotalPlays)
	if err != nil {
		return nil, fmt.Errorf("sqlite: platform stats: %w", err)
	}
	return &s, nil
}
