package sqlite

import (
	"context"
	"fmt"
	"testing"

	"github.com/sakif/soundboard/internal/model"
)

// newTestDB opens a private in-memory database for one test.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestUser(t *testing.T, db *DB, username string) *model.User {
	t.Helper()
	u := &model.User{Username: username, PasswordHash: "hash-" + username}
	if err := db.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("failed to create test user %q: %v", username, err)
	}
	return u
}

// createTestButton stores two file rows and a catalog row uploaded by owner.
func createTestButton(t *testing.T, db *DB, owner *model.User, name string, categoryID *int64) *model.Button {
	t.Helper()
	ctx := context.Background()

	img := &model.File{Filename: fmt.Sprintf("%s.png", name), Type: model.FileImage}
	snd := &model.File{Filename: fmt.Sprintf("%s.mp3", name), Type: model.FileSound}
	if err := db.CreateFile(ctx, img); err != nil {
		t.Fatalf("CreateFile(image): %v", err)
	}
	if err := db.CreateFile(ctx, snd); err != nil {
		t.Fatalf("CreateFile(sound): %v", err)
	}

	b := &model.Button{
		Name:       name,
		ImageID:    img.ID,
		SoundID:    snd.ID,
		CategoryID: categoryID,
	}
	if owner != nil {
		b.UploadedBy = &owner.ID
	}
	if err := db.CreateButton(ctx, b); err != nil {
		t.Fatalf("CreateButton(%q): %v", name, err)
	}
	return b
}

func createTestCategory(t *testing.T, db *DB, name string) *model.Category {
	t.Helper()
	c := &model.Category{Name: name}
	if err := db.CreateCategory(context.Background(), c); err != nil {
		t.Fatalf("CreateCategory(%q): %v", name, err)
	}
	return c
}

func TestNew_MigrationsAreIdempotent(t *testing.T) {
	db := newTestDB(t)
	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate() error = %v", err)
	}
}

func TestNew_ForeignKeysEnabled(t *testing.T) {
	db := newTestDB(t)

	var on int
	if err := db.conn.QueryRow(`PRAGMA foreign_keys`).Scan(&on); err != nil {
		t.Fatalf("PRAGMA foreign_keys: %v", err)
	}
	if on != 1 {
		t.Errorf("foreign_keys = %d, want 1", on)
	}
}

func TestNew_FileDatabase(t *testing.T) {
	path := t.TempDir() + "/soundboard.db"
	db, err := New(path)
	if err != nil {
		t.Fatalf("New(%q) error = %v", path, err)
	}
	defer db.Close()

	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
