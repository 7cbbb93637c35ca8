package security

import (
	"crypto/rand"
	"fmt"
	"time"
)

// SessionTokenLength is the length, in characters, of a session token.
const SessionTokenLength = 32

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Session is the shared representation backing the owner session on
// LocalNode, the client session on ClientNode, and the parent session
// held against a remote ServerNode.
type Session struct {
	Token     string
	ExpiresAt time.Time
}

// NewSession issues a session token with ExpiresAt set duration from now.
func NewSession(now time.Time, duration time.Duration) (Session, error) {
	token, err := GenerateToken()
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: now.Add(duration)}, nil
}

// GenerateToken returns a fresh random session token.
func GenerateToken() (string, error) {
	buf := make([]byte, SessionTokenLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	out := make([]byte, SessionTokenLength)
	for i, b := range buf {
		out[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(out), nil
}

// Expired reports whether the session has passed its expiry at the given
// instant.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Valid reports whether token matches this session and it has not
// expired.
func (s Session) Valid(token string, now time.Time) bool {
	return s.Token == token && !s.Expired(now)
}
