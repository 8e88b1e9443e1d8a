package auth

import (
	"context"
	"sync"

	"github.com/freekieb7/cinder/uuid"
)

type AccountStore interface {
	Close() error
	// Insert fails with ErrEmailTaken when the e-mail address is in use.
	Insert(ctx context.Context, account Account) error
	Find(ctx context.Context, id uuid.UUID) (Account, error)
	FindByEmail(ctx context.Context, email string) (Account, error)
	Update(ctx context.Context, account Account) error
	Delete(ctx context.Context, id uuid.UUID) error
}

const MemoryAccountStoreName = "memory"

type MemoryAccountStore struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]Account
	byEmail map[string]uuid.UUID
}

func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{
		byID:    make(map[uuid.UUID]Account),
		byEmail: make(map[string]uuid.UUID),
	}
}

func (m *MemoryAccountStore) Close() error {
	return nil
}

func (m *MemoryAccountStore) Insert(_ context.Context, account Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.byEmail[account.Email]; taken {
		return ErrEmailTaken
	}
	m.byID[account.ID] = account
	m.byEmail[account.Email] = account.ID
	return nil
}

func (m *MemoryAccountStore) Find(_ context.Context, id uuid.UUID) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	account, found := m.byID[id]
	if !found {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (m *MemoryAccountStore) FindByEmail(ctx context.Context, email string) (Account, error) {
	m.mu.RLock()
	id, found := m.byEmail[NormalizeEmail(email)]
	m.mu.RUnlock()

	if !found {
		return Account{}, ErrAccountNotFound
	}
	return m.Find(ctx, id)
}

// Update replaces the stored account. The e-mail address is fixed at
// insert time.
func (m *MemoryAccountStore) Update(_ context.Context, account Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, found := m.byID[account.ID]
	if !found {
		return ErrAccountNotFound
	}
	account.Email = existing.Email
	m.byID[account.ID] = account
	return nil
}

func (m *MemoryAccountStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, found := m.byID[id]
	if !found {
		return ErrAccountNotFound
	}
	delete(m.byID, id)
	delete(m.byEmail, account.Email)
	return nil
}
