// Package auth implements the shared-secret gates in front of the SOS HTTP
// endpoint and WebSocket joins.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrNotConfigured means the server has no secret to compare against. For
	// the HTTP surface this is a server misconfiguration, not a client error.
	ErrNotConfigured      = errors.New("shared secret not configured")
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// SharedSecret compares presented credentials against one configured secret.
type SharedSecret struct {
	Expected string
}

// Verify reports nil only when credential equals the configured secret.
func (s SharedSecret) Verify(credential string) error {
	if s.Expected == "" {
		return ErrNotConfigured
	}
	if credential == "" {
		return ErrMissingCredentials
	}
	if subtle.ConstantTimeCompare([]byte(credential), []byte(s.Expected)) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

// Configured reports whether a secret is set.
func (s SharedSecret) Configured() bool {
	return s.Expected != ""
}

// HeaderGate guards HTTP handlers with a shared secret carried in a request
// header.
type HeaderGate struct {
	Secret SharedSecret
	Header string
}

// Check returns ErrNotConfigured, ErrMissingCredentials, ErrInvalidCredentials
// or nil.
func (g HeaderGate) Check(r *http.Request) error {
	if !g.Secret.Configured() {
		return ErrNotConfigured
	}
	// Only one value is accepted; repeated headers are treated as missing.
	values := r.Header.Values(g.Header)
	if len(values) != 1 {
		return ErrMissingCredentials
	}
	return g.Secret.Verify(strings.TrimSpace(values[0]))
}

// JoinGate is the WebSocket join-time check. Unlike the HTTP surface, an
// unset secret admits every join.
type JoinGate struct {
	Secret SharedSecret
}

// Required reports whether joins must carry a token.
func (g JoinGate) Required() bool {
	return g.Secret.Configured()
}

// Allow reports whether a join carrying token may proceed.
func (g JoinGate) Allow(token string) bool {
	if !g.Secret.Configured() {
		return true
	}
	return g.Secret.Verify(token) == nil
}

// IsUnauthorized reports whether err is a client credential failure rather
// than server misconfiguration.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrMissingCredentials) || errors.Is(err, ErrInvalidCredentials)
}
