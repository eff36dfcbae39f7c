package auth

import (
	"context"
	"sync"
	"time"

	"github.com/rs/xid"
)

// DefaultSessionTTL is used when a store is built with a zero TTL.
const DefaultSessionTTL = 7 * 24 * time.Hour

// SessionStore keeps the principal established at login, keyed by the
// session id carried in the session cookie.
//
// Load returns (nil, nil) for an unknown or expired id.
type SessionStore interface {
	Load(ctx context.Context, id string) (*Principal, error)
	Save(ctx context.Context, id string, p *Principal) error
	Clear(ctx context.Context, id string) error
}

// NewSessionID returns a globally unique, URL-safe session id.
func NewSessionID() string {
	return xid.New().String()
}

type memorySession struct {
	principal Principal
	expires   time.Time
}

// MemorySessionStore keeps sessions in process memory. Sessions are lost on
// restart and are not shared between instances; use RedisSessionStore for that.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]memorySession
	ttl      time.Duration
	now      func() time.Time
}

var _ SessionStore = (*MemorySessionStore)(nil)

func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &MemorySessionStore{
		sessions: make(map[string]memorySession),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *MemorySessionStore) Load(_ context.Context, id string) (*Principal, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if !s.now().Before(sess.expires) {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		return nil, nil
	}
	p := sess.principal
	return &p, nil
}

// Save stores p and restarts the session's TTL.
func (s *MemorySessionStore) Save(_ context.Context, id string, p *Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = memorySession{principal: *p, expires: s.now().Add(s.ttl)}
	return nil
}

func (s *MemorySessionStore) Clear(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Len reports the number of stored sessions, expired ones included.
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
