package state

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryStore struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
	now      func() time.Time
}

// NewMemoryStore constructs a process-local Store. Sessions are lost on restart.
func NewMemoryStore() Store {
	return &memoryStore{
		sessions: make(map[int64]*Session),
		now:      time.Now,
	}
}

func (m *memoryStore) GetOrCreate(_ context.Context, userID int64) (*Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[userID]; ok {
		return s.Clone(), false, nil
	}
	s := New(userID, m.now().UTC())
	m.sessions[userID] = s
	return s.Clone(), true, nil
}

func (m *memoryStore) Get(_ context.Context, userID int64) (*Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[userID]
	if !ok {
		return nil, false, nil
	}
	return s.Clone(), true, nil
}

func (m *memoryStore) Update(_ context.Context, s *Session) error {
	if s == nil {
		return ErrSessionNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.UserID]; !ok {
		return ErrSessionNotFound
	}
	m.sessions[s.UserID] = s.Clone()
	return nil
}

func (m *memoryStore) Remove(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, userID)
	return nil
}

func (m *memoryStore) List(_ context.Context) ([]*Session, error) {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
