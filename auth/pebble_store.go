package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/freekieb7/cinder/uuid"
)

const PebbleAccountStoreName = "pebble"

// PebbleAccountStore keeps accounts as JSON under "account:<id>" with an
// "account-email:<email>" index pointing at the id. Writes are serialised
// so the e-mail uniqueness check and the insert cannot interleave.
type PebbleAccountStore struct {
	mu sync.Mutex
	db *pebble.DB
}

func NewPebbleAccountStore(db *pebble.DB) *PebbleAccountStore {
	return &PebbleAccountStore{db: db}
}

// Close is a no-op; the shared handle is closed by whoever opened it.
func (p *PebbleAccountStore) Close() error {
	return nil
}

func accountKey(id uuid.UUID) []byte {
	return []byte("account:" + id.String())
}

func emailKey(email string) []byte {
	return []byte("account-email:" + email)
}

func (p *PebbleAccountStore) Insert(_ context.Context, account Account) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, closer, err := p.db.Get(emailKey(account.Email))
	if err == nil {
		closer.Close()
		return ErrEmailTaken
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return err
	}

	data, err := json.Marshal(account)
	if err != nil {
		return err
	}

	batch := p.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(accountKey(account.ID), data, nil); err != nil {
		return err
	}
	if err := batch.Set(emailKey(account.Email), []byte(account.ID.String()), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (p *PebbleAccountStore) Find(_ context.Context, id uuid.UUID) (Account, error) {
	return p.get(accountKey(id))
}

func (p *PebbleAccountStore) FindByEmail(_ context.Context, email string) (Account, error) {
	value, closer, err := p.db.Get(emailKey(NormalizeEmail(email)))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	id, err := uuid.Parse(string(value))
	closer.Close()
	if err != nil {
		return Account{}, fmt.Errorf("account store: e-mail index for %s: %w", email, err)
	}
	return p.get(accountKey(id))
}

func (p *PebbleAccountStore) get(key []byte) (Account, error) {
	value, closer, err := p.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	defer closer.Close()

	var account Account
	if err := json.Unmarshal(value, &account); err != nil {
		return Account{}, fmt.Errorf("account store: decode %s: %w", key, err)
	}
	return account, nil
}

func (p *PebbleAccountStore) Update(_ context.Context, account Account) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	existing, err := p.get(accountKey(account.ID))
	if err != nil {
		return err
	}
	account.Email = existing.Email

	data, err := json.Marshal(account)
	if err != nil {
		return err
	}
	return p.db.Set(accountKey(account.ID), data, pebble.Sync)
}

func (p *PebbleAccountStore) Delete(_ context.Context, id uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	account, err := p.get(accountKey(id))
	if err != nil {
		return err
	}

	batch := p.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(accountKey(id), nil); err != nil {
		return err
	}
	if err := batch.Delete(emailKey(account.Email), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}
