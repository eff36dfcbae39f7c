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

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, username, email, password, btn_size, COALESCE(avatar, ''), COALESCE(external_id, ''), is_admin, created_at`

func scanUser(row interface{ Scan(...any) error }, u *model.User) error {
	return row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.BtnSize,
		&u.Avatar,
		&u.ExternalID,
		&u.Tier,
		&u.CreatedAt,
	)
}

// CreateUser inserts a user and fills in its ID and CreatedAt.
// A taken username (case-insensitive) is reported as a conflict.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	if user.BtnSize == 0 {
		user.BtnSize = model.DefaultButtonSize
	}
	created := db.now().UTC().Truncate(time.Second)

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO user (username, email, password, btn_size, external_id, is_admin, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.BtnSize,
		nullString(user.ExternalID),
		user.Tier,
		formatTime(created),
	)
	if err != nil {
		if isUniqueViolation(err) {
			if strings.Contains(err.Error(), "external_id") {
				return apperror.Conflict("External identity already has an account")
			}
			return apperror.Conflict("Username already exists")
		}
		return fmt.Errorf("sqlite: inserting user %q: %w", user.Username, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading user id: %w", err)
	}
	user.ID = id
	user.CreatedAt = created
	return nil
}

// GetUserByID retrieves a user by ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM user WHERE id = ?`, id,
	), &u)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %d: %w", id, err)
	}
	return &u, nil
}

// GetUserByUsername matches case-insensitively (the column is NOCASE).
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM user WHERE username = ?`, username,
	), &u)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user", username)
		}
		return nil, fmt.Errorf("sqlite: getting user %q: %w", username, err)
	}
	return &u, nil
}

// GetUserByExternalID finds the account bound to a verifier subject.
func (db *DB) GetUserByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	var u model.User
	err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM user WHERE external_id = ?`, externalID,
	), &u)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user", externalID)
		}
		return nil, fmt.Errorf("sqlite: getting user %q: %w", externalID, err)
	}
	return &u, nil
}

// BindExternalID ties an existing account to a verifier subject. It fails
// with a conflict when the account is already bound to another subject or
// the subject already belongs to another account.
func (db *DB) BindExternalID(ctx context.Context, id int64, externalID string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE user SET external_id = ? WHERE id = ? AND (external_id IS NULL OR external_id = ?)`,
		externalID, id, externalID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("External identity is bound to another account")
		}
		return fmt.Errorf("sqlite: binding %q to user %d: %w", externalID, id, err)
	}
	return requireAffected(res, apperror.Conflict("Account is bound to another external identity"))
}

// ListUsersWithStats returns every user with the number of distinct buttons
// on their board, newest account first.
func (db *DB) ListUsersWithStats(ctx context.Context) ([]model.UserWithStats, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT u.id, u.username, u.email, u.password, u.btn_size, COALESCE(u.avatar, ''),
		        COALESCE(u.external_id, ''), u.is_admin, u.created_at,
		        COUNT(DISTINCT l.uploaded_id)
		 FROM user u
		 LEFT JOIN linked l ON l.user_id = u.id
		 GROUP BY u.id
		 ORDER BY u.created_at DESC, u.id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing users: %w", err)
	}
	defer rows.Close()

	users := []model.UserWithStats{}
	for rows.Next() {
		var u model.UserWithStats
		if err := rows.Scan(
			&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.BtnSize,
			&u.Avatar, &u.ExternalID, &u.Tier, &u.CreatedAt, &u.ButtonCount,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning user row: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating users: %w", err)
	}
	return users, nil
}

func (db *DB) UpdatePassword(ctx context.Context, id int64, hash string) error {
	return db.updateUser(ctx, id, "password", `UPDATE user SET password = ? WHERE id = ?`, hash)
}

func (db *DB) UpdateButtonSize(ctx context.Context, id int64, size int) error {
	return db.updateUser(ctx, id, "btn_size", `UPDATE user SET btn_size = ? WHERE id = ?`, size)
}

// UpdateAvatar sets the avatar filename; an empty filename clears it.
func (db *DB) UpdateAvatar(ctx context.Context, id int64, filename string) error {
	var v sql.NullString
	if filename != "" {
		v = sql.NullString{String: filename, Valid: true}
	}
	return db.updateUser(ctx, id, "avatar", `UPDATE user SET avatar = ? WHERE id = ?`, v)
}

func (db *DB) UpdateTier(ctx context.Context, id int64, tier model.Tier) error {
	return db.updateUser(ctx, id, "is_admin", `UPDATE user SET is_admin = ? WHERE id = ?`, tier)
}

// DeleteUser removes the account. Links, history, volumes and favorites go
// with it through ON DELETE CASCADE; uploaded buttons stay in the catalog
// with no uploader.
func (db *DB) DeleteUser(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM user WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting user %d: %w", id, err)
	}
	return requireAffected(res, apperror.NotFound("user", id))
}

func (db *DB) updateUser(ctx context.Context, id int64, column, query string, value any) error {
	res, err := db.conn.ExecContext(ctx, query, value, id)
	if err != nil {
		return fmt.Errorf("sqlite: updating %s for user %d: %w", column, id, err)
	}
	return requireAffected(res, apperror.NotFound("user", id))
}

// requireAffected turns "no rows changed" into notFound.
func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
