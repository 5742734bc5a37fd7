package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// SessionStore — in-memory key/value хранилище сессий, эквивалент набора cookie.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string]string
}

// NewSessionStore создаёт пустое хранилище сессий.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]map[string]string)}
}

func (s *SessionStore) Get(_ context.Context, sessionID, key string) (string, bool, error) {
	if sessionID == "" {
		return "", false, domain.ErrSessionRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.sessions[sessionID][key]
	return value, ok, nil
}

func (s *SessionStore) Set(_ context.Context, sessionID, key, value string) error {
	if sessionID == "" {
		return domain.ErrSessionRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	values, ok := s.sessions[sessionID]
	if !ok {
		values = make(map[string]string)
		s.sessions[sessionID] = values
	}
	values[key] = value
	return nil
}

func (s *SessionStore) Delete(_ context.Context, sessionID string, keys ...string) error {
	if sessionID == "" {
		return domain.ErrSessionRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	values := s.sessions[sessionID]
	for _, key := range keys {
		delete(values, key)
	}
	if len(values) == 0 {
		delete(s.sessions, sessionID)
	}
	return nil
}

var _ domain.SessionStore = (*SessionStore)(nil)
