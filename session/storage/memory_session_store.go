package storage

import (
	"context"
	"sync"
	"time"

	"github.com/freekieb7/cinder/session"
)

const MemorySessionStoreName = "memory"

type MemorySessionStore struct {
	mu   sync.RWMutex
	data map[string]session.Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		data: make(map[string]session.Session),
	}
}

func (m *MemorySessionStore) Close() error {
	return nil
}

func (m *MemorySessionStore) Get(_ context.Context, token string) (session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, found := m.data[token]
	if !found {
		return session.Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (m *MemorySessionStore) Save(_ context.Context, s session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[s.Token] = s
	return nil
}

func (m *MemorySessionStore) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, found := m.data[token]; !found {
		return ErrSessionNotFound
	}
	delete(m.data, token)
	return nil
}

func (m *MemorySessionStore) DeleteAccount(_ context.Context, accountID string) (int, error) {
	return m.deleteWhere(func(s session.Session) bool { return s.AccountID == accountID }), nil
}

func (m *MemorySessionStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	return m.deleteWhere(func(s session.Session) bool { return s.Expired(now) }), nil
}

func (m *MemorySessionStore) deleteWhere(match func(session.Session) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for token, s := range m.data {
		if match(s) {
			delete(m.data, token)
			deleted++
		}
	}
	return deleted
}
