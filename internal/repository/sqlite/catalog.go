package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sakif/soundboard/internal/apperror"
	"github.com/sakif/soundboard/internal/model"
	"github.com/sakif/soundboard/internal/repository"
)

var (
	_ repository.CategoryRepository = (*DB)(nil)
	_ repository.FileRepository     = (*DB)(nil)
	_ repository.ButtonRepository   = (*DB)(nil)
)

// ===== CATEGORIES =====

func (db *DB) CreateCategory(ctx context.Context, c *model.Category) error {
	if c.Color == "" {
		c.Color = model.DefaultCategoryColor
	}
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO category (name, color) VALUES (?, ?)`, c.Name, c.Color,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict(fmt.Sprintf("Category %q already exists", c.Name))
		}
		return fmt.Errorf("sqlite: inserting category %q: %w", c.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading category id: %w", err)
	}
	c.ID = id
	return nil
}

func (db *DB) GetCategoryByID(ctx context.Context, id int64) (*model.Category, error) {
	return db.getCategory(ctx, `c.id = ?`, id)
}

// GetCategoryByName matches case-insensitively.
func (db *DB) GetCategoryByName(ctx context.Context, name string) (*model.Category, error) {
	return db.getCategory(ctx, `c.name = ?`, name)
}

func (db *DB) getCategory(ctx context.Context, where string, arg any) (*model.Category, error) {
	var c model.Category
	err := db.conn.QueryRowContext(ctx,
		`SELECT c.id, c.name, c.color, (SELECT COUNT(*) FROM uploaded u WHERE u.category_id = c.id)
		 FROM category c WHERE `+where, arg,
	).Scan(&c.ID, &c.Name, &c.Color, &c.ButtonCount)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("category", arg)
		}
		return nil, fmt.Errorf("sqlite: getting category %v: %w", arg, err)
	}
	return &c, nil
}

// ListCategories returns all categories by name with their button counts.
func (db *DB) ListCategories(ctx context.Context) ([]model.Category, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT c.id, c.name, c.color, COUNT(u.id)
		 FROM category c
		 LEFT JOIN uploaded u ON u.category_id = c.id
		 GROUP BY c.id
		 ORDER BY c.name COLLATE NOCASE`,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing categories: %w", err)
	}
	defer rows.Close()

	categories := []model.Category{}
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Color, &c.ButtonCount); err != nil {
			return nil, fmt.Errorf("sqlite: scanning category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (db *DB) UpdateCategory(ctx context.Context, c *model.Category) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE category SET name = ?, color = ? WHERE id = ?`, c.Name, c.Color, c.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict(fmt.Sprintf("Category %q already exists", c.Name))
		}
		return fmt.Errorf("sqlite: updating category %d: %w", c.ID, err)
	}
	return requireAffected(res, apperror.NotFound("category", c.ID))
}

// UpsertCategory creates the category or, if the name exists, updates its color.
func (db *DB) UpsertCategory(ctx context.Context, c *model.Category) error {
	if c.Color == "" {
		c.Color = model.DefaultCategoryColor
	}
	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO category (name, color) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET color = excluded.color
		 RETURNING id`,
		c.Name, c.Color,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("sqlite: upserting category %q: %w", c.Name, err)
	}
	return nil
}

// DeleteCategory removes a category. With CategorySetNull its buttons lose
// their category (the foreign key does that); with CategoryCascade the buttons
// are deleted too, which drops their links.
func (db *DB) DeleteCategory(ctx context.Context, id int64, policy repository.CategoryDeletePolicy) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if policy == repository.CategoryCascade {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM uploaded WHERE category_id = ?`, id,
			); err != nil {
				return fmt.Errorf("sqlite: deleting buttons of category %d: %w", id, err)
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM category WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("sqlite: deleting category %d: %w", id, err)
		}
		return requireAffected(res, apperror.NotFound("category", id))
	})
}

// ===== FILES =====

func (db *DB) CreateFile(ctx context.Context, f *model.File) error {
	created := db.timestamp()
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO file (filename, type, created_at) VALUES (?, ?, ?)`,
		f.Filename, string(f.Type), created,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting file %q: %w", f.Filename, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading file id: %w", err)
	}
	f.ID = id
	return nil
}

func (db *DB) GetFileByID(ctx context.Context, id int64) (*model.File, error) {
	var f model.File
	var typ string
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, filename, type, created_at FROM file WHERE id = ?`, id,
	).Scan(&f.ID, &f.Filename, &typ, &f.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("file", id)
		}
		return nil, fmt.Errorf("sqlite: getting file %d: %w", id, err)
	}
	f.Type = model.FileType(typ)
	return &f, nil
}

// ===== BUTTONS =====

// buttonSelect joins a catalog row with everything the client displays.
// The linked subquery is driven by the first bound parameter (viewer id).
const buttonSelect = `
	SELECT up.id, up.button_name, up.image_id, up.sound_id,
	       COALESCE(img.filename, ''), COALESCE(snd.filename, ''),
	       up.uploaded_by, COALESCE(us.username, ''),
	       up.category_id, COALESCE(c.name, ''), COALESCE(c.color, ''),
	       EXISTS (SELECT 1 FROM linked lk WHERE lk.uploaded_id = up.id AND lk.user_id = ?),
	       up.created_at
	FROM uploaded up
	LEFT JOIN file img ON img.id = up.image_id
	LEFT JOIN file snd ON snd.id = up.sound_id
	LEFT JOIN user us ON us.id = up.uploaded_by
	LEFT JOIN category c ON c.id = up.category_id`

func scanButton(row interface{ Scan(...any) error }, b *model.Button) error {
	var uploadedBy, categoryID sql.NullInt64
	if err := row.Scan(
		&b.ID, &b.Name, &b.ImageID, &b.SoundID,
		&b.ImageFilename, &b.SoundFilename,
		&uploadedBy, &b.UploadedByUsername,
		&categoryID, &b.CategoryName, &b.CategoryColor,
		&b.IsLinked,
		&b.CreatedAt,
	); err != nil {
		return err
	}
	b.UploadedBy = int64Ptr(uploadedBy)
	b.CategoryID = int64Ptr(categoryID)
	return nil
}

func (db *DB) CreateButton(ctx context.Context, b *model.Button) error {
	created := db.timestamp()
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO uploaded (image_id, sound_id, uploaded_by, button_name, category_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		b.ImageID, b.SoundID, nullInt64(b.UploadedBy), b.Name, nullInt64(b.CategoryID), created,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting button %q: %w", b.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading button id: %w", err)
	}
	b.ID = id
	return nil
}

func (db *DB) GetButton(ctx context.Context, id int64) (*model.Button, error) {
	var b model.Button
	err := scanButton(db.conn.QueryRowContext(ctx, buttonSelect+` WHERE up.id = ?`, 0, id), &b)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("button", id)
		}
		return nil, fmt.Errorf("sqlite: getting button %d: %w", id, err)
	}
	return &b, nil
}

func (db *DB) ListButtons(ctx context.Context, viewerID int64) ([]model.Button, error) {
	return db.queryButtons(ctx, buttonSelect+` ORDER BY up.created_at DESC, up.id DESC`, viewerID)
}

func (db *DB) ListButtonsByUploader(ctx context.Context, userID int64) ([]model.Button, error) {
	return db.queryButtons(ctx,
		buttonSelect+` WHERE up.uploaded_by = ? ORDER BY up.created_at DESC, up.id DESC`,
		userID, userID,
	)
}

func (db *DB) queryButtons(ctx context.Context, query string, args ...any) ([]model.Button, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing buttons: %w", err)
	}
	defer rows.Close()

	buttons := []model.Button{}
	for rows.Next() {
		var b model.Button
		if err := scanButton(rows, &b); err != nil {
			return nil, fmt.Errorf("sqlite: scanning button: %w", err)
		}
		buttons = append(buttons, b)
	}
	return buttons, rows.Err()
}

func (db *DB) UpdateButton(ctx context.Context, id int64, name string, categoryID *int64) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE uploaded SET button_name = ?, category_id = ? WHERE id = ?`,
		name, nullInt64(categoryID), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating button %d: %w", id, err)
	}
	return requireAffected(res, apperror.NotFound("button", id))
}

// DeleteButton hard-deletes a catalog entry and its two file rows. Links,
// volumes, favorites and stats cascade. History rows keep their copy of the
// names but can no longer be restored.
func (db *DB) DeleteButton(ctx context.Context, id int64) (*model.Button, error) {
	b, err := db.GetButton(ctx, id)
	if err != nil {
		return nil, err
	}
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM uploaded WHERE id = ?`, id); err != nil {
			return fmt.Errorf("sqlite: deleting button %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM file WHERE id IN (?, ?)
			 AND id NOT IN (SELECT image_id FROM uploaded UNION SELECT sound_id FROM uploaded)`,
			b.ImageID, b.SoundID,
		); err != nil {
			return fmt.Errorf("sqlite: deleting files of button %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}
