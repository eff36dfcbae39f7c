package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStatusRecorder(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    int
		bytes   int64
	}{
		{"implicit 200", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) }, 200, 2},
		{"explicit status", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusCreated) }, 201, 0},
		{"first status wins", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.WriteHeader(http.StatusOK)
		}, 404, 0},
		{"status after body is ignored", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("body"))
			w.WriteHeader(http.StatusInternalServerError)
		}, 200, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := NewStatusRecorder(httptest.NewRecorder())
			tt.handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			assert.Equal(t, tt.want, rec.Status())
			assert.Equal(t, tt.bytes, rec.Written())
		})
	}
}

func TestNewStatusRecorder_DoesNotDoubleWrap(t *testing.T) {
	rec := NewStatusRecorder(httptest.NewRecorder())
	assert.Same(t, rec, NewStatusRecorder(rec))
}

func TestLogger_WritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/link", nil))

	line := buf.String()
	assert.Contains(t, line, "method=POST")
	assert.Contains(t, line, "path=/api/link")
	assert.Contains(t, line, "status=418")
}

func TestLoginThrottle_BurstThenReject(t *testing.T) {
	th := NewLoginThrottle(60, 3, discardLogger())
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	th.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, th.Allow("1.2.3.4"), "request %d should pass", i)
	}
	assert.False(t, th.Allow("1.2.3.4"))
	assert.True(t, th.Allow("5.6.7.8"), "other IPs have their own bucket")

	// one token per second at 60/min
	now = now.Add(time.Second)
	assert.True(t, th.Allow("1.2.3.4"))
}

func TestLoginThrottle_ForgetsIdleVisitors(t *testing.T) {
	th := NewLoginThrottle(60, 1, discardLogger())
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	th.now = func() time.Time { return now }

	th.Allow("1.2.3.4")
	now = now.Add(11 * time.Minute)
	th.Allow("5.6.7.8")
	assert.Len(t, th.visitors, 1)
}

func TestLoginThrottle_Middleware(t *testing.T) {
	th := NewLoginThrottle(1, 1, discardLogger())
	h := th.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
	req.RemoteAddr = "10.0.0.1:5555"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `"success":false`))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:1234"
	assert.Equal(t, "192.0.2.7", ClientIP(req))

	req.RemoteAddr = "192.0.2.8"
	assert.Equal(t, "192.0.2.8", ClientIP(req))
}

func TestLoginThrottle_CapsVisitors(t *testing.T) {
	th := NewLoginThrottle(60, 1, discardLogger())
	th.max = 3
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	th.now = func() time.Time { return now }

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"} {
		th.Allow(ip)
		now = now.Add(time.Millisecond)
	}
	assert.Len(t, th.visitors, 3)
	assert.NotContains(t, th.visitors, "10.0.0.1", "least recently seen bucket is evicted")
	assert.Contains(t, th.visitors, "10.0.0.4")
}

func TestRealIP(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	tests := []struct {
		name    string
		trusted []netip.Prefix
		peer    string
		want    string
	}{
		{"untrusted peer keeps its address", trusted, "198.51.100.9:4000", "198.51.100.9"},
		{"trusted proxy forwards", trusted, "10.1.1.1:4000", "203.0.113.5"},
		{"no trusted proxies", nil, "10.1.1.1:4000", "10.1.1.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := RealIP(tt.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = ClientIP(r)
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.peer
			req.Header.Set("X-Real-IP", "203.0.113.5")
			h.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.want, got)
		})
	}
}
