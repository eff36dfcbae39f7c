package service

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/soundboard/internal/auth"
	"github.com/sakif/soundboard/internal/model"
	"github.com/sakif/soundboard/internal/repository"
	"github.com/sakif/soundboard/internal/repository/sqlite"
	"github.com/sakif/soundboard/internal/storage"
)

// testEnv wires every service to one in-memory database and a temporary
// upload directory.
type testEnv struct {
	db        *sqlite.DB
	store     *storage.DiskStore
	tokens    *auth.TokenService
	passwords *auth.PasswordService

	auth    *AuthService
	buttons *ButtonService
	board   *BoardService
	admin   *AdminService
	prefs   *PreferenceService
}

func newTestEnv(t *testing.T, policy repository.CategoryDeletePolicy) *testEnv {
	t.Helper()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := storage.NewDiskStore(t.TempDir(), "/uploads", 1<<20)
	require.NoError(t, err)

	tokens, err := auth.NewTokenService("service-test-secret-0123", time.Hour)
	require.NoError(t, err)
	passwords := auth.NewPasswordServiceForTest(bcrypt.MinCost)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &testEnv{
		db:        db,
		store:     store,
		tokens:    tokens,
		passwords: passwords,
		auth:      NewAuthService(db, tokens, passwords, store, logger),
		buttons:   NewButtonService(db, db, db, db, store, logger),
		board:     NewBoardService(db, db, store, logger),
		admin: NewAdminService(AdminDeps{
			Users:      db,
			Buttons:    db,
			Files:      db,
			Categories: db,
			History:    db,
			Store:      store,
			OnDelete:   policy,
		}, logger),
		prefs: NewPreferenceService(db, db, store, logger),
	}
}

// createUser stores an account whose password is "password1".
func (e *testEnv) createUser(t *testing.T, username string, tier model.Tier) *model.User {
	t.Helper()
	hash, err := e.passwords.Hash("password1")
	require.NoError(t, err)
	u := &model.User{Username: username, PasswordHash: hash, Tier: tier}
	require.NoError(t, e.db.CreateUser(context.Background(), u))
	return u
}

// upload adds a button named name through ButtonService.Upload.
func (e *testEnv) upload(t *testing.T, userID int64, name, category string) *UploadResult {
	t.Helper()
	res, err := e.buttons.Upload(context.Background(), userID, UploadInput{
		Name:         name,
		CategoryName: category,
		Image:        &Upload{Filename: strings.ToLower(name) + ".png", Body: strings.NewReader("png-bytes")},
		Sound:        &Upload{Filename: strings.ToLower(name) + ".mp3", Body: strings.NewReader("mp3-bytes")},
	})
	require.NoError(t, err)
	return res
}

func (e *testEnv) boardIDs(t *testing.T, userID int64) []int64 {
	t.Helper()
	board, err := e.board.List(context.Background(), userID)
	require.NoError(t, err)
	ids := make([]int64, len(board))
	for i, b := range board {
		ids[i] = b.ID
	}
	return ids
}

func (e *testEnv) fileExists(kind storage.Kind, name string) bool {
	_, err := os.Stat(filepath.Join(e.store.Root(), string(kind), name))
	return err == nil
}

func (e *testEnv) storedFiles(t *testing.T, kind storage.Kind) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(e.store.Root(), string(kind)))
	require.NoError(t, err)
	return entries
}

func intPtr(n int) *int       { return &n }
func int64Ptr(n int64) *int64 { return &n }
