package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/soundboard/internal/auth"
	"github.com/sakif/soundboard/internal/middleware"
	"github.com/sakif/soundboard/internal/model"
)

// scope collects what a handler adds to the entry the middleware will write.
type scope struct {
	mu     sync.Mutex
	fields map[string]any
	actor  *auth.Principal
}

type scopeKey struct{}

func scopeFrom(ctx context.Context) *scope {
	s, _ := ctx.Value(scopeKey{}).(*scope)
	return s
}

// Annotate adds key to the details of the entry recorded for this request.
// Outside an audited route it does nothing.
func Annotate(ctx context.Context, key string, value any) {
	s := scopeFrom(ctx)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields[key] = value
}

// SetActor names the user the entry is attributed to when the route itself
// establishes the identity (registration).
func SetActor(ctx context.Context, p *auth.Principal) {
	s := scopeFrom(ctx)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actor = p
}

// Recorder builds audit entries from requests.
type Recorder struct {
	writer *Writer
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewRecorder(writer *Writer, store Store, logger *slog.Logger) *Recorder {
	return &Recorder{writer: writer, store: store, logger: logger, now: time.Now}
}

// Middleware records action after the handler returns, if and only if the
// response status is 2xx. The entry goes through the Writer, so the response
// is never held up by the insert.
//
// Details are {method, path, params, query, statusCode} plus any fields the
// handler added with Annotate.
func (rc *Recorder) Middleware(action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := &scope{fields: make(map[string]any)}
			r = r.WithContext(context.WithValue(r.Context(), scopeKey{}, s))
			rec := middleware.NewStatusRecorder(w)

			next.ServeHTTP(rec, r)

			status := rec.Status()
			if status < 200 || status > 299 {
				return
			}

			details := map[string]any{
				"method":     r.Method,
				"path":       r.URL.Path,
				"params":     routeParams(r),
				"query":      flattenQuery(r),
				"statusCode": status,
			}
			s.mu.Lock()
			for k, v := range s.fields {
				details[k] = v
			}
			actor := s.actor
			s.mu.Unlock()

			if actor == nil {
				actor, _ = auth.PrincipalFromContext(r.Context())
			}
			rc.writer.Enqueue(rc.entry(r, actor, action, details))
		})
	}
}

// LogAction writes an entry synchronously, whatever the response status will
// be. Details are {method, path} plus extra. The actor is the principal in
// ctx. A failed insert is logged and otherwise ignored.
func (rc *Recorder) LogAction(ctx context.Context, r *http.Request, action string, extra map[string]any) {
	details := map[string]any{
		"method": r.Method,
		"path":   r.URL.Path,
	}
	for k, v := range extra {
		details[k] = v
	}
	actor, _ := auth.PrincipalFromContext(ctx)

	if err := rc.store.CreateAuditLog(ctx, rc.entry(r, actor, action, details)); err != nil {
		rc.logger.Error("failed to log action",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}

func (rc *Recorder) entry(r *http.Request, actor *auth.Principal, action string, details map[string]any) *model.AuditLog {
	raw, err := json.Marshal(details)
	if err != nil {
		rc.logger.Warn("audit details not serializable",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
		raw = []byte("{}")
	}

	entry := &model.AuditLog{
		Username:  model.AnonymousUsername,
		Action:    action,
		Details:   raw,
		IPAddress: middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
		CreatedAt: rc.now().UTC().Truncate(time.Second),
	}
	if actor != nil {
		id := actor.ID
		entry.UserID = &id
		entry.Username = actor.Username
	}
	return entry
}

func routeParams(r *http.Request) map[string]string {
	params := make(map[string]string)
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return params
	}
	for i, key := range rctx.URLParams.Keys {
		if key == "*" || i >= len(rctx.URLParams.Values) {
			continue
		}
		params[key] = rctx.URLParams.Values[i]
	}
	return params
}

// flattenQuery turns single-valued parameters into plain strings.
func flattenQuery(r *http.Request) map[string]any {
	q := make(map[string]any)
	for k, vs := range r.URL.Query() {
		if len(vs) == 1 {
			q[k] = vs[0]
		} else {
			q[k] = vs
		}
	}
	return q
}
