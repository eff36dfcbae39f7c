package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/soundboard/internal/audit"
	"github.com/sakif/soundboard/internal/auth"
	"github.com/sakif/soundboard/internal/handler"
	"github.com/sakif/soundboard/internal/model"
	"github.com/sakif/soundboard/internal/repository/sqlite"
	"github.com/sakif/soundboard/internal/service"
	"github.com/sakif/soundboard/internal/storage"
)

// loggedAction is one synchronous audit call captured by fakeActions.
type loggedAction struct {
	Action    string
	Principal *auth.Principal
	Extra     map[string]any
}

type fakeActions struct {
	mu    sync.Mutex
	calls []loggedAction
}

func (f *fakeActions) LogAction(ctx context.Context, _ *http.Request, action string, extra map[string]any) {
	p, _ := auth.PrincipalFromContext(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, loggedAction{Action: action, Principal: p, Extra: extra})
}

func (f *fakeActions) all() []loggedAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]loggedAction(nil), f.calls...)
}

type fakeSessions struct {
	started   []*auth.Principal
	refreshed []*auth.Principal
	ended     int
	startErr  error
}

func (f *fakeSessions) StartSession(_ http.ResponseWriter, _ *http.Request, p *auth.Principal) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, p)
	return nil
}

func (f *fakeSessions) RefreshSession(_ *http.Request, p *auth.Principal) error {
	f.refreshed = append(f.refreshed, p)
	return nil
}

func (f *fakeSessions) EndSession(http.ResponseWriter, *http.Request) error {
	f.ended++
	return nil
}

// testEnv wires real services over an in-memory database to the handlers.
type testEnv struct {
	db        *sqlite.DB
	passwords *auth.PasswordService
	actions   *fakeActions
	sessions  *fakeSessions

	buttons *service.ButtonService
	board   *service.BoardService

	auth   *handler.AuthHandler
	button *handler.ButtonHandler
	boardH *handler.BoardHandler
	prefs  *handler.PreferenceHandler
	admin  *handler.AdminHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := storage.NewDiskStore(t.TempDir(), "/uploads", 1<<20)
	require.NoError(t, err)
	tokens, err := auth.NewTokenService("handler-test-secret-0123", time.Hour)
	require.NoError(t, err)
	passwords := auth.NewPasswordServiceForTest(bcrypt.MinCost)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	accounts := service.NewAuthService(db, tokens, passwords, store, logger)
	buttons := service.NewButtonService(db, db, db, db, store, logger)
	board := service.NewBoardService(db, db, store, logger)
	prefs := service.NewPreferenceService(db, db, store, logger)
	admin := service.NewAdminService(service.AdminDeps{
		Users: db, Buttons: db, Files: db, Categories: db, History: db, Store: store,
	}, logger)

	env := &testEnv{
		db:        db,
		passwords: passwords,
		actions:   &fakeActions{},
		sessions:  &fakeSessions{},
		buttons:   buttons,
		board:     board,
	}
	env.auth = handler.NewAuthHandler(accounts, env.sessions, env.actions, logger)
	env.button = handler.NewButtonHandler(buttons, logger)
	env.boardH = handler.NewBoardHandler(board, logger)
	env.prefs = handler.NewPreferenceHandler(prefs, logger)
	env.admin = handler.NewAdminHandler(admin, audit.NewService(db), prefs, env.actions, logger)
	return env
}

// createUser stores an account whose password is "password1".
func (e *testEnv) createUser(t *testing.T, username string, tier model.Tier) *auth.Principal {
	t.Helper()
	hash, err := e.passwords.Hash("password1")
	require.NoError(t, err)
	u := &model.User{Username: username, PasswordHash: hash, Tier: tier}
	require.NoError(t, e.db.CreateUser(context.Background(), u))
	return auth.PrincipalFromUser(u)
}

func (e *testEnv) upload(t *testing.T, userID int64, name, category string) *model.Button {
	t.Helper()
	res, err := e.buttons.Upload(context.Background(), userID, service.UploadInput{
		Name:         name,
		CategoryName: category,
		Image:        &service.Upload{Filename: "img.png", Body: strings.NewReader("png")},
		Sound:        &service.Upload{Filename: "snd.mp3", Body: strings.NewReader("mp3")},
	})
	require.NoError(t, err)
	return res.Button
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

// call routes one request through a chi router so URL parameters resolve.
// A non-nil principal is put in the request context the way the auth
// middleware would.
type call struct {
	method  string
	pattern string
	path    string
	body    any
	as      *auth.Principal
	header  http.Header
}

func serve(t *testing.T, h http.HandlerFunc, c call) *httptest.ResponseRecorder {
	t.Helper()

	var body io.Reader = http.NoBody
	switch b := c.body.(type) {
	case nil:
	case string:
		body = strings.NewReader(b)
	case *bytes.Buffer:
		body = b
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(c.method, c.path, body)
	for k, v := range c.header {
		req.Header[k] = v
	}
	if c.as != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), c.as))
	}

	pattern := c.pattern
	if pattern == "" {
		pattern = strings.SplitN(c.path, "?", 2)[0]
	}
	r := chi.NewRouter()
	r.Method(c.method, pattern, h)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

// decode reads the JSON envelope of a response.
func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body
}
