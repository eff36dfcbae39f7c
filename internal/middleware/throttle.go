package middleware

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxVisitors bounds the bucket map. When it is full the least recently
// seen bucket makes room for the new one.
const maxVisitors = 10000

// LoginThrottle limits requests per client IP with a token bucket. It guards
// the login route against password guessing.
//
// BUCKET LIFETIME:
// Buckets untouched for idle are swept at most once per idle/2, not on every
// call, so Allow stays cheap while the map is large. The map never holds
// more than maxVisitors buckets.
type LoginThrottle struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	idle      time.Duration
	max       int
	lastSweep time.Time
	now       func() time.Time
	logger    *slog.Logger
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLoginThrottle allows perMinute requests per IP on average with bursts
// of up to burst. Buckets untouched for ten minutes are forgotten.
func NewLoginThrottle(perMinute float64, burst int, logger *slog.Logger) *LoginThrottle {
	if perMinute <= 0 {
		perMinute = 10
	}
	if burst <= 0 {
		burst = 5
	}
	return &LoginThrottle{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(perMinute / 60),
		burst:    burst,
		idle:     10 * time.Minute,
		max:      maxVisitors,
		now:      time.Now,
		logger:   logger,
	}
}

// Allow reports whether key may proceed now, consuming a token if so.
func (t *LoginThrottle) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if now.Sub(t.lastSweep) >= t.idle/2 {
		t.sweep(now)
	}

	v, ok := t.visitors[key]
	if !ok {
		if len(t.visitors) >= t.max {
			t.evictOldest()
		}
		v = &visitor{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (t *LoginThrottle) sweep(now time.Time) {
	for k, v := range t.visitors {
		if now.Sub(v.lastSeen) > t.idle {
			delete(t.visitors, k)
		}
	}
	t.lastSweep = now
}

func (t *LoginThrottle) evictOldest() {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, v := range t.visitors {
		if oldestKey == "" || v.lastSeen.Before(oldest) {
			oldestKey, oldest = k, v.lastSeen
		}
	}
	delete(t.visitors, oldestKey)
}

// Middleware answers 429 once the caller's bucket is empty.
func (t *LoginThrottle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		if !t.Allow(ip) {
			t.logger.Warn("login throttled", slog.String("ip", ip))
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{
				"success": false,
				"message": "Too many login attempts, try again later",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the host part of r.RemoteAddr. For requests from a
// trusted proxy, RealIP has already replaced it with the forwarded address.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
