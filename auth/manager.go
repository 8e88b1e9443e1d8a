package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/freekieb7/cinder/mail"
	"github.com/freekieb7/cinder/session"
	"github.com/freekieb7/cinder/session/storage"
	"github.com/freekieb7/cinder/uuid"
)

const (
	DefaultVerifyTTL = 30 * 24 * time.Hour
	DefaultSender    = "noreply@localhost"
)

// Manager runs the account and session workflows on top of the stores.
type Manager struct {
	Accounts AccountStore
	Sessions storage.SessionStore
	Mailer   mail.Mailer
	Logger   *slog.Logger

	Sender     string
	SessionTTL time.Duration
	VerifyTTL  time.Duration
	SecretTTL  time.Duration
	Cost       int

	now func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

func NewManager(accounts AccountStore, sessions storage.SessionStore, mailer mail.Mailer) *Manager {
	return &Manager{
		Accounts:   accounts,
		Sessions:   sessions,
		Mailer:     mailer,
		Logger:     slog.Default(),
		Sender:     DefaultSender,
		SessionTTL: session.DefaultTTL,
		VerifyTTL:  DefaultVerifyTTL,
		Cost:       bcrypt.DefaultCost,
		now:        time.Now,
	}
}

// IsSessionError reports whether err means the presented token is no good,
// as opposed to the store failing.
func IsSessionError(err error) bool {
	return errors.Is(err, storage.ErrSessionNotFound) || errors.Is(err, session.ErrSessionExpired)
}

// CreateAccount registers an unverified account and mails its code.
func (m *Manager) CreateAccount(ctx context.Context, email, secret string) (Account, error) {
	account, err := NewAccount(email, secret, m.Cost, m.VerifyTTL, m.SecretTTL, m.now())
	if err != nil {
		return Account{}, err
	}
	if err := m.Accounts.Insert(ctx, account); err != nil {
		return Account{}, err
	}
	if err := m.sendVerifyMail(ctx, account); err != nil {
		return Account{}, err
	}

	m.Logger.InfoContext(ctx, "account created", slog.String("account", account.ID.String()))
	return account, nil
}

// ResetVerification issues and mails a new code for an unverified account.
func (m *Manager) ResetVerification(ctx context.Context, email, secret string) error {
	account, err := m.authenticate(ctx, email, secret)
	if err != nil {
		return err
	}
	if account.Verified {
		return ErrAlreadyVerified
	}
	if err := account.ResetVerification(m.VerifyTTL, m.now()); err != nil {
		return err
	}
	if err := m.Accounts.Update(ctx, account); err != nil {
		return err
	}
	return m.sendVerifyMail(ctx, account)
}

// VerifyAccount checks the code and opens the first session.
func (m *Manager) VerifyAccount(ctx context.Context, email, secret, code string) (session.Session, error) {
	account, err := m.authenticate(ctx, email, secret)
	if err != nil {
		return session.Session{}, err
	}
	if err := account.CheckVerifyCode(code, m.now()); err != nil {
		return session.Session{}, err
	}

	account.MarkVerified()
	if err := m.Accounts.Update(ctx, account); err != nil {
		return session.Session{}, err
	}
	return m.openSession(ctx, account)
}

// DeleteAccount removes the account and every session it holds.
func (m *Manager) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	if err := m.Accounts.Delete(ctx, id); err != nil {
		return err
	}
	if _, err := m.Sessions.DeleteAccount(ctx, id.String()); err != nil {
		return err
	}
	m.Logger.InfoContext(ctx, "account deleted", slog.String("account", id.String()))
	return nil
}

func (m *Manager) FindValidSession(ctx context.Context, token string) (session.Session, error) {
	s, err := m.Sessions.Get(ctx, token)
	if err != nil {
		return session.Session{}, err
	}
	if s.Expired(m.now()) {
		return session.Session{}, session.ErrSessionExpired
	}
	return s, nil
}

func (m *Manager) Login(ctx context.Context, email, secret string) (session.Session, error) {
	account, err := m.authenticate(ctx, email, secret)
	if err != nil {
		return session.Session{}, err
	}
	if err := account.CheckVerified(); err != nil {
		return session.Session{}, err
	}
	return m.openSession(ctx, account)
}

func (m *Manager) Logout(ctx context.Context, token string) error {
	return m.Sessions.Delete(ctx, token)
}

// PurgeExpiredSessions is run by the scheduler.
func (m *Manager) PurgeExpiredSessions(ctx context.Context) (int, error) {
	n, err := m.Sessions.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.Logger.InfoContext(ctx, "expired sessions purged", slog.Int("count", n))
	}
	return n, nil
}

func (m *Manager) authenticate(ctx context.Context, email, secret string) (Account, error) {
	account, err := m.Accounts.FindByEmail(ctx, email)
	if errors.Is(err, ErrAccountNotFound) {
		// Unknown addresses still cost one comparison.
		bcrypt.CompareHashAndPassword(m.unknownAccountHash(), []byte(secret))
		return Account{}, err
	}
	if err != nil {
		return Account{}, err
	}
	if err := account.CheckSecret(secret, m.now()); err != nil {
		return Account{}, err
	}
	return account, nil
}

// unknownAccountHash is hashed once at the manager's cost.
func (m *Manager) unknownAccountHash() []byte {
	m.dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("unknown account"), m.Cost)
		if err != nil {
			m.Logger.Error("hashing placeholder secret", slog.Any("error", err))
			return
		}
		m.dummyHash = hash
	})
	return m.dummyHash
}

func (m *Manager) openSession(ctx context.Context, account Account) (session.Session, error) {
	s, err := session.New(account.ID.String(), m.SessionTTL)
	if err != nil {
		return session.Session{}, err
	}
	if err := m.Sessions.Save(ctx, s); err != nil {
		return session.Session{}, err
	}
	return s, nil
}

func (m *Manager) sendVerifyMail(ctx context.Context, account Account) error {
	verify := mail.New().
		WithSender(m.Sender).
		WithReceivers(account.Email).
		WithSubject("Account verification").
		WithText(fmt.Sprintf("Verify code: %s\n", account.VerifyCode))
	if err := m.Mailer.Send(ctx, verify); err != nil {
		return fmt.Errorf("auth: verification mail: %w", err)
	}
	return nil
}
