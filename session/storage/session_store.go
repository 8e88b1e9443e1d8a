package storage

import (
	"context"
	"errors"
	"time"

	"github.com/freekieb7/cinder/session"
)

var ErrSessionNotFound = errors.New("session store: session not found")

type SessionStore interface {
	Close() error
	Get(ctx context.Context, token string) (session.Session, error)
	Save(ctx context.Context, s session.Session) error
	Delete(ctx context.Context, token string) error
	// DeleteAccount removes every session of one account.
	DeleteAccount(ctx context.Context, accountID string) (int, error)
	// DeleteExpired removes sessions that expired before now.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
