package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// DefaultSessionTTL — срок жизни сессии без обращений.
const DefaultSessionTTL = 30 * 24 * time.Hour

// SessionStore хранит значения сессии в Redis-хэше `session:<id>`.
// Каждая запись продлевает TTL всего хэша, как продление cookie.
type SessionStore struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

// NewSessionStore создаёт хранилище. ttl <= 0 заменяется DefaultSessionTTL.
func NewSessionStore(client goredis.UniversalClient, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{client: client, ttl: ttl}
}

func (s *SessionStore) Get(ctx context.Context, sessionID, key string) (string, bool, error) {
	if sessionID == "" {
		return "", false, domain.ErrSessionRequired
	}

	value, err := s.client.HGet(ctx, sessionKey(sessionID), key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis hget failed: %w", err)
	}
	return value, true, nil
}

func (s *SessionStore) Set(ctx context.Context, sessionID, key, value string) error {
	if sessionID == "" {
		return domain.ErrSessionRequired
	}

	hashKey := sessionKey(sessionID)
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, hashKey, key, value)
		pipe.Expire(ctx, hashKey, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis hset failed: %w", err)
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, sessionID string, keys ...string) error {
	if sessionID == "" {
		return domain.ErrSessionRequired
	}
	if len(keys) == 0 {
		return nil
	}

	if err := s.client.HDel(ctx, sessionKey(sessionID), keys...).Err(); err != nil {
		return fmt.Errorf("redis hdel failed: %w", err)
	}
	return nil
}

// Ping проверяет доступность Redis (используется readiness-проверкой).
func (s *SessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

var _ domain.SessionStore = (*SessionStore)(nil)
