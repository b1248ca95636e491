// Package hosttoken issues and verifies host tokens. The host is only
// conceptually privileged; the token lets the store layer gate host-only
// operations (restart-for-everyone) without any participant accounts.
package hosttoken

import (
	"crypto/rand"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid host token")
	ErrExpiredToken = errors.New("host token has expired")
	ErrWrongSession = errors.New("host token issued for a different session")
)

// Claims represents host token claims. The token is scoped to a single
// session and expires with it.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id"`
}

// Manager signs and verifies host tokens with a shared HMAC secret.
type Manager struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

// NewManager creates a host token manager. If secret is empty a random
// per-process secret is generated; tokens then survive only as long as the
// process, which matches the session TTL model for single-instance deploys.
func NewManager(secret string, ttl time.Duration) *Manager {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic(err)
		}
	}
	return &Manager{
		secret: key,
		ttl:    ttl,
		issuer: "couchsync",
	}
}

// Issue creates a host token for the given session.
func (m *Manager) Issue(sessionID string) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		SessionID: sessionID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Verify validates a token and checks it was issued for sessionID.
func (m *Manager) Verify(tokenString, sessionID string) error {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return ErrInvalidToken
	}
	if claims.SessionID != sessionID {
		return ErrWrongSession
	}

	return nil
}
