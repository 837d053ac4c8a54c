package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken is returned when the session holds no token.
var ErrNoToken = errors.New("session has no token")

// Claims are the registered claims carried by a JWT access token.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// Claims decodes the token without verifying its signature; the server
// remains the authority on validity. Opaque (non-JWT) tokens return an error.
func (s *Session) Claims() (*Claims, error) {
	token := s.Token()
	if token == "" {
		return nil, ErrNoToken
	}

	var registered jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &registered); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims := &Claims{Subject: registered.Subject}
	if registered.ExpiresAt != nil {
		claims.ExpiresAt = registered.ExpiresAt.Time
	}
	if registered.IssuedAt != nil {
		claims.IssuedAt = registered.IssuedAt.Time
	}
	return claims, nil
}

// Expired reports whether the token carries an expiry at or before now.
// Sessions without a token are expired; opaque tokens and tokens without
// an exp claim never are.
func (s *Session) Expired(now time.Time) bool {
	claims, err := s.Claims()
	if errors.Is(err, ErrNoToken) {
		return true
	}
	if err != nil || claims.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(claims.ExpiresAt)
}
