package auth

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/freekieb7/cinder/session"
	"github.com/freekieb7/cinder/uuid"
)

var (
	ErrAccountNotFound = errors.New("auth: account not found")
	ErrEmailTaken      = errors.New("auth: e-mail address already registered")
	ErrBadSecret       = errors.New("auth: secret does not match")
	ErrSecretExpired   = errors.New("auth: secret expired")
	ErrNotVerified     = errors.New("auth: account not verified")
	ErrAlreadyVerified = errors.New("auth: account already verified")
	ErrBadCode         = errors.New("auth: verification code does not match")
	ErrVerifyExpired   = errors.New("auth: verification code expired")
)

// Account authenticates one user. Until it is verified it carries a
// verification code that was mailed to the owner.
type Account struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	Secret        string    `json:"secret"`
	SecretTimeout time.Time `json:"secretTimeout"`
	Verified      bool      `json:"verified"`
	VerifyCode    string    `json:"verifyCode,omitempty"`
	VerifyTimeout time.Time `json:"verifyTimeout"`
}

// NewAccount hashes secret with bcrypt at the given cost. A zero secretTTL
// means the secret never expires.
func NewAccount(email, secret string, cost int, verifyTTL, secretTTL time.Duration, now time.Time) (Account, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return Account{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return Account{}, err
	}

	account := Account{
		ID:     id,
		Email:  NormalizeEmail(email),
		Secret: string(hash),
	}
	if secretTTL > 0 {
		account.SecretTimeout = now.Add(secretTTL).UTC()
	}
	if err := account.ResetVerification(verifyTTL, now); err != nil {
		return Account{}, err
	}
	return account, nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (a *Account) CheckSecret(secret string, now time.Time) error {
	if err := bcrypt.CompareHashAndPassword([]byte(a.Secret), []byte(secret)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrBadSecret
		}
		return err
	}
	if !a.SecretTimeout.IsZero() && now.After(a.SecretTimeout) {
		return ErrSecretExpired
	}
	return nil
}

// CheckVerified fails for accounts that still wait for their code.
func (a *Account) CheckVerified() error {
	if !a.Verified {
		return ErrNotVerified
	}
	return nil
}

func (a *Account) CheckVerifyCode(code string, now time.Time) error {
	if a.Verified {
		return ErrAlreadyVerified
	}
	if code == "" || code != a.VerifyCode {
		return ErrBadCode
	}
	if now.After(a.VerifyTimeout) {
		return ErrVerifyExpired
	}
	return nil
}

// ResetVerification issues a fresh code and marks the account unverified.
func (a *Account) ResetVerification(verifyTTL time.Duration, now time.Time) error {
	code, err := session.NewToken()
	if err != nil {
		return err
	}
	a.Verified = false
	a.VerifyCode = code
	a.VerifyTimeout = now.Add(verifyTTL).UTC()
	return nil
}

func (a *Account) MarkVerified() {
	a.Verified = true
	a.VerifyCode = ""
	a.VerifyTimeout = time.Time{}
}
