package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sakif/soundboard/internal/apperror"
	"github.com/sakif/soundboard/internal/model"
	"github.com/sakif/soundboard/internal/repository"
)

var _ repository.LinkRepository = (*DB)(nil)

// boardSelect is buttonSelect restricted to one user's links.
//
// TRI AND THE TIE-BREAK:
// tri is the display position of a link on its owner's board, counted from
// 0. Nothing stops two links sharing a tri: Link and UpdatePosition write
// whatever position they are given, and a restore appends without looking
// at gaps. Sorting on tri alone would then leave equal rows in whatever
// order SQLite happens to scan them, which can change between queries.
//
// The linked table keeps SQLite's implicit rowid, which grows with each
// insert and is not touched by the upsert in Link. Ordering by
// (tri, rowid) therefore puts equal-tri rows in the order they were first
// linked, and the same board always reads back the same way. A Reorder
// removes ties altogether by renumbering to 0..N-1.
const boardSelect = `
	SELECT up.id, up.button_name, up.image_id, up.sound_id,
	       COALESCE(img.filename, ''), COALESCE(snd.filename, ''),
	       up.uploaded_by, COALESCE(us.username, ''),
	       up.category_id, COALESCE(c.name, ''), COALESCE(c.color, ''),
	       1,
	       up.created_at,
	       l.tri
	FROM linked l
	JOIN uploaded up ON up.id = l.uploaded_id
	LEFT JOIN file img ON img.id = up.image_id
	LEFT JOIN file snd ON snd.id = up.sound_id
	LEFT JOIN user us ON us.id = up.uploaded_by
	LEFT JOIN category c ON c.id = up.category_id
	WHERE l.user_id = ?`

const boardOrder = ` ORDER BY l.tri ASC, l.rowid ASC`

func scanBoardButton(row interface{ Scan(...any) error }, b *model.BoardButton) error {
	var uploadedBy, categoryID sql.NullInt64
	if err := row.Scan(
		&b.ID, &b.Name, &b.ImageID, &b.SoundID,
		&b.ImageFilename, &b.SoundFilename,
		&uploadedBy, &b.UploadedByUsername,
		&categoryID, &b.CategoryName, &b.CategoryColor,
		&b.IsLinked,
		&b.CreatedAt,
		&b.Tri,
	); err != nil {
		return err
	}
	b.UploadedBy = int64Ptr(uploadedBy)
	b.CategoryID = int64Ptr(categoryID)
	return nil
}

// Link adds a button to the user's board at tri. Linking a button that is
// already on the board moves it instead of adding a second row. The upsert
// keeps the original rowid, so the tie-break position is stable.
func (db *DB) Link(ctx context.Context, userID, uploadedID int64, tri int) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO linked (user_id, uploaded_id, tri) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, uploaded_id) DO UPDATE SET tri = excluded.tri`,
		userID, uploadedID, tri,
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return apperror.NotFound("button", uploadedID)
		}
		return fmt.Errorf("sqlite: linking button %d for user %d: %w", uploadedID, userID, err)
	}
	return nil
}

// GetMaxTri returns the highest tri on the user's board, or 0 for an empty board.
func (db *DB) GetMaxTri(ctx context.Context, userID int64) (int, error) {
	var max int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(tri), 0) FROM linked WHERE user_id = ?`, userID,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("sqlite: max tri for user %d: %w", userID, err)
	}
	return max, nil
}

// NextTri is the append position: 0 on an empty board, else GetMaxTri+1.
func (db *DB) NextTri(ctx context.Context, userID int64) (int, error) {
	return nextTri(ctx, db.conn, userID)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nextTri(ctx context.Context, q queryRower, userID int64) (int, error) {
	var next int
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(tri) + 1, 0) FROM linked WHERE user_id = ?`, userID,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("sqlite: next tri for user %d: %w", userID, err)
	}
	return next, nil
}

// UpdatePosition overwrites the tri of one link.
func (db *DB) UpdatePosition(ctx context.Context, userID, uploadedID int64, tri int) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE linked SET tri = ? WHERE user_id = ? AND uploaded_id = ?`,
		tri, userID, uploadedID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating position of %d for user %d: %w", uploadedID, userID, err)
	}
	return requireAffected(res, apperror.NotFound("linked button", uploadedID))
}

// Reorder renumbers the user's board to 0..N-1 following order.
//
// WHY ONE TRANSACTION?
// A drag on the client moves one button but shifts every button between
// its old and new slot, so a reorder is N row updates. Run one by one,
// a failure or a dropped connection halfway through leaves a board that
// is neither the old order nor the new one. Inside withTx the reads that
// validate order and every UPDATE either commit together or roll back.
//
// VALIDATION:
// order must name every linked button exactly once. A missing, repeated or
// foreign id is a validation error and nothing is written. An empty order
// is accepted only for an empty board, where it changes nothing.
//
// Two reorders of the same board do not conflict: the later commit wins.
func (db *DB) Reorder(ctx context.Context, userID int64, order []int64) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT uploaded_id FROM linked WHERE user_id = ?`, userID)
		if err != nil {
			return fmt.Errorf("sqlite: reading board of user %d: %w", userID, err)
		}
		current := make(map[int64]bool)
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("sqlite: scanning board row: %w", err)
			}
			current[id] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("sqlite: iterating board: %w", err)
		}

		if err := validateOrder(current, order); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx,
			`UPDATE linked SET tri = ? WHERE user_id = ? AND uploaded_id = ?`)
		if err != nil {
			return fmt.Errorf("sqlite: preparing reorder: %w", err)
		}
		defer stmt.Close()

		for i, id := range order {
			if _, err := stmt.ExecContext(ctx, i, userID, id); err != nil {
				return fmt.Errorf("sqlite: setting tri %d on %d: %w", i, id, err)
			}
		}
		return nil
	})
}

func validateOrder(current map[int64]bool, order []int64) error {
	if len(order) != len(current) {
		return apperror.ValidationFailed("order",
			fmt.Sprintf("order must list all %d linked buttons, got %d", len(current), len(order)))
	}
	seen := make(map[int64]bool, len(order))
	for _, id := range order {
		if !current[id] {
			return apperror.ValidationFailed("order", fmt.Sprintf("button %d is not on this board", id))
		}
		if seen[id] {
			return apperror.ValidationFailed("order", fmt.Sprintf("button %d is listed twice", id))
		}
		seen[id] = true
	}
	return nil
}

// Unlink removes one link. Other users' links and the catalog row are untouched.
func (db *DB) Unlink(ctx context.Context, userID, uploadedID int64) error {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM linked WHERE user_id = ? AND uploaded_id = ?`, userID, uploadedID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: unlinking %d for user %d: %w", uploadedID, userID, err)
	}
	return requireAffected(res, apperror.NotFound("linked button", uploadedID))
}

func (db *DB) ListBoard(ctx context.Context, userID int64) ([]model.BoardButton, error) {
	return db.queryBoard(ctx, boardSelect+boardOrder, userID)
}

func (db *DB) GetBoardButton(ctx context.Context, userID, uploadedID int64) (*model.BoardButton, error) {
	var b model.BoardButton
	err := scanBoardButton(db.conn.QueryRowContext(ctx,
		boardSelect+` AND l.uploaded_id = ?`, userID, uploadedID,
	), &b)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("linked button", uploadedID)
		}
		return nil, fmt.Errorf("sqlite: getting linked button %d: %w", uploadedID, err)
	}
	return &b, nil
}

// SearchByCategory returns the user's linked buttons whose category name
// contains pattern, ignoring case, in board order.
func (db *DB) SearchByCategory(ctx context.Context, userID int64, pattern string) ([]model.BoardButton, error) {
	like := "%" + escapeLike(strings.ToLower(pattern)) + "%"
	return db.queryBoard(ctx,
		boardSelect+` AND lower(c.name) LIKE ? ESCAPE '\'`+boardOrder,
		userID, like,
	)
}

// escapeLike neutralises LIKE wildcards in user input.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (db *DB) queryBoard(ctx context.Context, query string, args ...any) ([]model.BoardButton, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing board: %w", err)
	}
	defer rows.Close()

	board := []model.BoardButton{}
	for rows.Next() {
		var b model.BoardButton
		if err := scanBoardButton(rows, &b); err != nil {
			return nil, fmt.Errorf("sqlite: scanning board row: %w", err)
		}
		board = append(board, b)
	}
	return board, rows.Err()
}

// ArchiveLink copies the link's button into deleted_button and removes the
// link, in one transaction.
func (db *DB) ArchiveLink(ctx context.Context, userID, uploadedID int64) (*model.DeletedButton, error) {
	b, err := db.GetBoardButton(ctx, userID, uploadedID)
	if err != nil {
		return nil, err
	}

	now := db.now().UTC().Truncate(time.Second)
	h := &model.DeletedButton{
		OwnerID:       userID,
		UploadedID:    b.ID,
		ButtonName:    b.Name,
		SoundFilename: b.SoundFilename,
		ImageFilename: b.ImageFilename,
		ImageID:       b.ImageID,
		SoundID:       b.SoundID,
		CategoryID:    b.CategoryID,
		Status:        model.StatusDeleted,
		DeleteDate:    now,
	}

	err = db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO deleted_button
			   (owner_id, uploaded_id, button_name, sound_filename, image_filename,
			    image_id, sound_id, category_id, status, delete_date)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			h.OwnerID, h.UploadedID, h.ButtonName, h.SoundFilename, h.ImageFilename,
			h.ImageID, h.SoundID, nullInt64(h.CategoryID), h.Status, formatTime(now),
		)
		if err != nil {
			return fmt.Errorf("sqlite: archiving button %d: %w", uploadedID, err)
		}
		if h.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("sqlite: reading history id: %w", err)
		}

		del, err := tx.ExecContext(ctx,
			`DELETE FROM linked WHERE user_id = ? AND uploaded_id = ?`, userID, uploadedID)
		if err != nil {
			return fmt.Errorf("sqlite: unlinking %d for user %d: %w", uploadedID, userID, err)
		}
		return requireAffected(del, apperror.NotFound("linked button", uploadedID))
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}
