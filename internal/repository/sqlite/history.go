package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sakif/soundboard/internal/apperror"
	"github.com/sakif/soundboard/internal/model"
	"github.com/sakif/soundboard/internal/repository"
)

var _ repository.HistoryRepository = (*DB)(nil)

const historySelect = `
	SELECT h.id, h.owner_id, COALESCE(u.username, ''), h.uploaded_id, h.button_name,
	       h.sound_filename, h.image_filename, h.image_id, h.sound_id, h.category_id,
	       h.status, h.delete_date, h.restored_at
	FROM deleted_button h
	LEFT JOIN user u ON u.id = h.owner_id`

func scanHistory(row interface{ Scan(...any) error }, h *model.DeletedButton) error {
	var categoryID sql.NullInt64
	var restoredAt sql.NullTime
	if err := row.Scan(
		&h.ID, &h.OwnerID, &h.OwnerUsername, &h.UploadedID, &h.ButtonName,
		&h.SoundFilename, &h.ImageFilename, &h.ImageID, &h.SoundID, &categoryID,
		&h.Status, &h.DeleteDate, &restoredAt,
	); err != nil {
		return err
	}
	h.CategoryID = int64Ptr(categoryID)
	h.RestoredAt = timePtr(restoredAt)
	return nil
}

func (db *DB) GetHistory(ctx context.Context, id int64) (*model.DeletedButton, error) {
	return getHistory(ctx, db.conn, id)
}

func getHistory(ctx context.Context, q queryRower, id int64) (*model.DeletedButton, error) {
	var h model.DeletedButton
	err := scanHistory(q.QueryRowContext(ctx, historySelect+` WHERE h.id = ?`, id), &h)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("deleted button", id)
		}
		return nil, fmt.Errorf("sqlite: getting history %d: %w", id, err)
	}
	return &h, nil
}

// ListHistory returns every archive row, most recent first.
func (db *DB) ListHistory(ctx context.Context) ([]model.DeletedButton, error) {
	return db.queryHistory(ctx, historySelect+` ORDER BY h.delete_date DESC, h.id DESC`)
}

func (db *DB) ListHistoryByOwner(ctx context.Context, ownerID int64) ([]model.DeletedButton, error) {
	return db.queryHistory(ctx,
		historySelect+` WHERE h.owner_id = ? ORDER BY h.delete_date DESC, h.id DESC`, ownerID)
}

func (db *DB) queryHistory(ctx context.Context, query string, args ...any) ([]model.DeletedButton, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing history: %w", err)
	}
	defer rows.Close()

	history := []model.DeletedButton{}
	for rows.Next() {
		var h model.DeletedButton
		if err := scanHistory(rows, &h); err != nil {
			return nil, fmt.Errorf("sqlite: scanning history: %w", err)
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// RestoreHistory re-links an archived button for its owner and marks the row
// restored. It fails with:
//   - ErrNotFound when the row, the catalog entry or either file is gone
//   - ErrConflict when the row was already restored
//
// A negative tri appends to the end of the owner's board.
func (db *DB) RestoreHistory(ctx context.Context, id int64, tri int) (*model.DeletedButton, error) {
	var restored *model.DeletedButton

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		h, err := getHistory(ctx, tx, id)
		if err != nil {
			return err
		}
		if h.Status != model.StatusDeleted {
			return apperror.Conflict("Button has already been restored")
		}

		var imageID, soundID int64
		err = tx.QueryRowContext(ctx,
			`SELECT image_id, sound_id FROM uploaded WHERE id = ?`, h.UploadedID,
		).Scan(&imageID, &soundID)
		if err == sql.ErrNoRows {
			return apperror.NotFound("uploaded button", h.UploadedID)
		}
		if err != nil {
			return fmt.Errorf("sqlite: checking button %d: %w", h.UploadedID, err)
		}

		var files int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM file WHERE id IN (?, ?)`, imageID, soundID,
		).Scan(&files); err != nil {
			return fmt.Errorf("sqlite: checking files of button %d: %w", h.UploadedID, err)
		}
		if files != 2 {
			return apperror.NotFound("file for button", h.UploadedID)
		}

		if tri < 0 {
			if tri, err = nextTri(ctx, tx, h.OwnerID); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO linked (user_id, uploaded_id, tri) VALUES (?, ?, ?)
			 ON CONFLICT(user_id, uploaded_id) DO UPDATE SET tri = excluded.tri`,
			h.OwnerID, h.UploadedID, tri,
		); err != nil {
			return fmt.Errorf("sqlite: re-linking button %d: %w", h.UploadedID, err)
		}

		now := db.now().UTC().Truncate(time.Second)
		// The status guard makes a concurrent second restore update nothing.
		res, err := tx.ExecContext(ctx,
			`UPDATE deleted_button SET status = ?, restored_at = ? WHERE id = ? AND status = ?`,
			model.StatusRestored, formatTime(now), id, model.StatusDeleted,
		)
		if err != nil {
			return fmt.Errorf("sqlite: marking history %d restored: %w", id, err)
		}
		if err := requireAffected(res, apperror.Conflict("Button has already been restored")); err != nil {
			return err
		}

		h.Status = model.StatusRestored
		h.RestoredAt = &now
		restored = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	return restored, nil
}
