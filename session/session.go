package session

import (
	"crypto/rand"
	"errors"
	"time"
)

const (
	TokenLength = 30
	DefaultTTL  = 30 * 24 * time.Hour
)

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var ErrSessionExpired = errors.New("session: expired")

// Session is the result of a successful login. The token is the only
// credential a client presents afterwards.
type Session struct {
	Token     string    `json:"token"`
	AccountID string    `json:"accountId"`
	Expires   time.Time `json:"expires"`
}

func New(accountID string, ttl time.Duration) (Session, error) {
	token, err := NewToken()
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		AccountID: accountID,
		Expires:   time.Now().Add(ttl).UTC(),
	}, nil
}

func (s Session) Expired(now time.Time) bool {
	return now.After(s.Expires)
}

// NewToken returns TokenLength random alphanumeric characters.
func NewToken() (string, error) {
	out := make([]byte, 0, TokenLength)
	var buf [TokenLength]byte
	for len(out) < TokenLength {
		if _, err := rand.Read(buf[:]); err != nil {
			return "", err
		}
		// 248 is the largest multiple of 62 that fits a byte
		for _, b := range buf {
			if b < 248 && len(out) < TokenLength {
				out = append(out, alphanumeric[int(b)%len(alphanumeric)])
			}
		}
	}
	return string(out), nil
}
