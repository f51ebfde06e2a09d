package session

import (
	"context"
	"sync"
)

// Store drivers selectable through session.driver.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Store is durable per-context session storage. Save writes token and user
// atomically; Load returns nil, nil when nothing is stored.
type Store interface {
	Load(ctx context.Context, contextID string) (*Session, error)
	Save(ctx context.Context, contextID string, s *Session) error
	Delete(ctx context.Context, contextID string) error
}

// MemoryStore keeps sessions in process memory. Sessions survive page
// reloads but not restarts.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

func (m *MemoryStore) Load(_ context.Context, contextID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[contextID]
	if !ok {
		return nil, nil
	}
	return s.clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, contextID string, s *Session) error {
	if s == nil {
		return ErrMissingUser
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[contextID] = *s.clone()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, contextID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, contextID)
	return nil
}

// Len reports the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (s *Session) clone() *Session {
	c := *s
	c.User.Permissions = make(Permissions, len(s.User.Permissions))
	for p := range s.User.Permissions {
		c.User.Permissions[p] = struct{}{}
	}
	return &c
}
