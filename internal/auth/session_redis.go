package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultSessionPrefix namespaces session keys when no prefix is configured.
const DefaultSessionPrefix = "soundboard:session"

// RedisSessionStore keeps sessions in Redis as JSON with a key TTL, so
// several server instances share one login state.
type RedisSessionStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ SessionStore = (*RedisSessionStore)(nil)

func NewRedisSessionStore(client *redis.Client, prefix string, ttl time.Duration) *RedisSessionStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultSessionPrefix
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisSessionStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisSessionStore) key(id string) string {
	return s.prefix + ":" + id
}

func (s *RedisSessionStore) Load(ctx context.Context, id string) (*Principal, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("auth: loading session: %w", err)
	}
	var p Principal
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("auth: decoding session: %w", err)
	}
	return &p, nil
}

func (s *RedisSessionStore) Save(ctx context.Context, id string, p *Principal) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("auth: encoding session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(id), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("auth: saving session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Clear(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("auth: clearing session: %w", err)
	}
	return nil
}
