// Package sqlite implements the repository interfaces on top of SQLite.
//
// modernc.org/sqlite is a pure Go port, so the binary builds without a C
// toolchain. All access goes through one *sql.DB pool; the only multi-row
// writes (board reorder, archive, restore, cascading deletes) run inside
// explicit transactions via withTx.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	// registers the "sqlite" driver with database/sql
	_ "modernc.org/sqlite"
)

// timeLayout is SQLite's native datetime text format. Every timestamp is
// written in UTC with this layout so that string comparison, DATE() and
// CURRENT_TIMESTAMP defaults all agree.
const timeLayout = "2006-01-02 15:04:05"

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// New opens (or creates) the database at dbPath and runs migrations.
//
// ":memory:" gives a private in-memory database. Each pooled connection would
// otherwise see its own empty database, so the pool is pinned to a single
// connection in that case.
func New(dbPath string) (*DB, error) {
	memory := dbPath == ":memory:"

	dsn := dbPath
	if !memory {
		// Per-connection pragmas have to travel in the DSN; an Exec would
		// only reach whichever pooled connection ran it.
		dsn = dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	if memory {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	if !memory {
		if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
		}
	}

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn, now: time.Now}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping is used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// SetClock replaces the time source. Tests use it to write audit rows with
// controlled ages.
func (db *DB) SetClock(now func() time.Time) {
	db.now = now
}

func (db *DB) timestamp() string {
	return db.now().UTC().Format(timeLayout)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// withTx runs fn inside a transaction. fn's error rolls everything back.
//
// TRANSACTIONS IN DATABASE/SQL:
// db.conn.BeginTx pins one connection from the pool for the life of the
// *sql.Tx, and every statement must go through tx, not db.conn, to be part
// of it. With ":memory:" the pool has a single connection, so a statement
// on db.conn inside fn would wait for the transaction forever.
// Rollback on a transaction that is already over (a cancelled context ends
// it) returns sql.ErrTxDone, which is why that error is ignored below.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err came from a UNIQUE constraint.
// The driver only exposes this through the message text.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// migrate creates the schema. Every statement is idempotent.
func (db *DB) migrate() error {
	steps := []struct {
		name string
		sql  string
	}{
		{"user", `
			CREATE TABLE IF NOT EXISTS user (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				username   TEXT NOT NULL UNIQUE COLLATE NOCASE,
				email      TEXT NOT NULL DEFAULT '',
				password   TEXT NOT NULL,
				btn_size   INTEGER NOT NULL DEFAULT 150,
				avatar     TEXT,
				external_id TEXT,
				is_admin   INTEGER NOT NULL DEFAULT 0 CHECK (is_admin IN (0, 1, 2)),
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);`},
		{"category", `
			CREATE TABLE IF NOT EXISTS category (
				id    INTEGER PRIMARY KEY AUTOINCREMENT,
				name  TEXT NOT NULL UNIQUE COLLATE NOCASE,
				color TEXT NOT NULL DEFAULT '#6b7280'
			);`},
		{"file", `
			CREATE TABLE IF NOT EXISTS file (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				filename   TEXT NOT NULL,
				type       TEXT NOT NULL CHECK (type IN ('image', 'sound')),
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);`},
		{"uploaded", `
			CREATE TABLE IF NOT EXISTS uploaded (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				image_id    INTEGER NOT NULL REFERENCES file(id),
				sound_id    INTEGER NOT NULL REFERENCES file(id),
				uploaded_by INTEGER REFERENCES user(id) ON DELETE SET NULL,
				button_name TEXT NOT NULL,
				category_id INTEGER REFERENCES category(id) ON DELETE SET NULL,
				created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX IF NOT EXISTS idx_uploaded_category ON uploaded(category_id);
			CREATE INDEX IF NOT EXISTS idx_uploaded_uploaded_by ON uploaded(uploaded_by);`},
		// linked keeps its implicit rowid: it is the tie-break for equal tri.
		{"linked", `
			CREATE TABLE IF NOT EXISTS linked (
				user_id     INTEGER NOT NULL REFERENCES user(id) ON DELETE CASCADE,
				uploaded_id INTEGER NOT NULL REFERENCES uploaded(id) ON DELETE CASCADE,
				tri         INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (user_id, uploaded_id)
			);
			CREATE INDEX IF NOT EXISTS idx_linked_user_tri ON linked(user_id, tri);`},
		{"deleted_button", `
			CREATE TABLE IF NOT EXISTS deleted_button (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				owner_id       INTEGER NOT NULL REFERENCES user(id) ON DELETE CASCADE,
				uploaded_id    INTEGER NOT NULL,
				button_name    TEXT NOT NULL,
				sound_filename TEXT NOT NULL DEFAULT '',
				image_filename TEXT NOT NULL DEFAULT '',
				image_id       INTEGER NOT NULL DEFAULT 0,
				sound_id       INTEGER NOT NULL DEFAULT 0,
				category_id    INTEGER,
				status         TEXT NOT NULL DEFAULT 'deleted' CHECK (status IN ('deleted', 'restored')),
				delete_date    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				restored_at    DATETIME
			);
			CREATE INDEX IF NOT EXISTS idx_deleted_button_owner ON deleted_button(owner_id);`},
		// user_id is deliberately not a foreign key: audit rows outlive users.
		{"audit_log", `
			CREATE TABLE IF NOT EXISTS audit_log (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id    INTEGER,
				username   TEXT NOT NULL DEFAULT 'anonymous',
				action     TEXT NOT NULL,
				details    TEXT NOT NULL DEFAULT '{}',
				ip_address TEXT NOT NULL DEFAULT '',
				user_agent TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log(created_at);
			CREATE INDEX IF NOT EXISTS idx_audit_log_action ON audit_log(action);
			CREATE INDEX IF NOT EXISTS idx_audit_log_user_id ON audit_log(user_id);`},
		{"button_volume", `
			CREATE TABLE IF NOT EXISTS button_volume (
				user_id     INTEGER NOT NULL REFERENCES user(id) ON DELETE CASCADE,
				uploaded_id INTEGER NOT NULL REFERENCES uploaded(id) ON DELETE CASCADE,
				volume      REAL NOT NULL DEFAULT 1.0,
				PRIMARY KEY (user_id, uploaded_id)
			);`},
		{"favorite", `
			CREATE TABLE IF NOT EXISTS favorite (
				user_id     INTEGER NOT NULL REFERENCES user(id) ON DELETE CASCADE,
				uploaded_id INTEGER NOT NULL REFERENCES uploaded(id) ON DELETE CASCADE,
				created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (user_id, uploaded_id)
			);`},
		{"button_stats", `
			CREATE TABLE IF NOT EXISTS button_stats (
				uploaded_id INTEGER PRIMARY KEY REFERENCES uploaded(id) ON DELETE CASCADE,
				play_count  INTEGER NOT NULL DEFAULT 0,
				last_played DATETIME
			);`},
	}

	for _, step := range steps {
		if _, err := db.conn.Exec(step.sql); err != nil {
			return fmt.Errorf("creating %s table: %w", step.name, err)
		}
	}

	// Databases created before accounts carried an email.
	if err := db.addColumnIfNotExists("user", "email", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return fmt.Errorf("adding email to user: %w", err)
	}
	// ... and before accounts could come from an external provider.
	if err := db.addColumnIfNotExists("user", "external_id", "TEXT"); err != nil {
		return fmt.Errorf("adding external_id to user: %w", err)
	}
	if _, err := db.conn.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_user_external_id ON user(external_id) WHERE external_id IS NOT NULL`,
	); err != nil {
		return fmt.Errorf("indexing user external_id: %w", err)
	}
	return nil
}

// addColumnIfNotExists adds a column to a table only if it doesn't already exist.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %q ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}
