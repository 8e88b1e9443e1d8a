package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/freekieb7/cinder/database"
	"github.com/freekieb7/cinder/session"
)

const PebbleSessionStoreName = "pebble"

var sessionPrefix = []byte("session:")

// PebbleSessionStore keeps sessions as JSON under "session:<token>". The
// database handle is shared with other stores and owned by the caller.
type PebbleSessionStore struct {
	db *pebble.DB
}

func NewPebbleSessionStore(db *pebble.DB) *PebbleSessionStore {
	return &PebbleSessionStore{db: db}
}

// Close is a no-op; the shared handle is closed by whoever opened it.
func (p *PebbleSessionStore) Close() error {
	return nil
}

func sessionKey(token string) []byte {
	return append(bytes.Clone(sessionPrefix), token...)
}

func (p *PebbleSessionStore) Get(_ context.Context, token string) (session.Session, error) {
	value, closer, err := p.db.Get(sessionKey(token))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return session.Session{}, ErrSessionNotFound
		}
		return session.Session{}, err
	}
	defer closer.Close()

	var s session.Session
	if err := json.Unmarshal(value, &s); err != nil {
		return session.Session{}, fmt.Errorf("session store: decode %s: %w", token, err)
	}
	return s, nil
}

func (p *PebbleSessionStore) Save(_ context.Context, s session.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return p.db.Set(sessionKey(s.Token), data, pebble.Sync)
}

func (p *PebbleSessionStore) Delete(ctx context.Context, token string) error {
	if _, err := p.Get(ctx, token); err != nil {
		return err
	}
	return p.db.Delete(sessionKey(token), pebble.Sync)
}

func (p *PebbleSessionStore) DeleteAccount(ctx context.Context, accountID string) (int, error) {
	return p.deleteWhere(ctx, func(s session.Session) bool { return s.AccountID == accountID })
}

func (p *PebbleSessionStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return p.deleteWhere(ctx, func(s session.Session) bool { return s.Expired(now) })
}

func (p *PebbleSessionStore) deleteWhere(ctx context.Context, match func(session.Session) bool) (int, error) {
	batch := p.db.NewBatch()
	defer batch.Close()

	deleted := 0
	err := database.Scan(p.db, sessionPrefix, func(key, value []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var s session.Session
		if err := json.Unmarshal(value, &s); err != nil {
			return fmt.Errorf("session store: decode %s: %w", key, err)
		}
		if !match(s) {
			return nil
		}
		deleted++
		return batch.Delete(bytes.Clone(key), nil)
	})
	if err != nil {
		return 0, err
	}
	if deleted == 0 {
		return 0, nil
	}
	return deleted, batch.Commit(pebble.Sync)
}
