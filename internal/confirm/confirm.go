// Package confirm implements the two-phase confirmation protocol that gates
// destructive operations. Phase one registers a pending request and hands the
// caller a short-lived token; phase two verifies the token against the
// original parameters and consumes it. Tokens are single use and never
// survive a process restart.
package confirm

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// tokenLength is the number of hex characters in a confirmation token.
const tokenLength = 5

// Confirmation failures, distinguished so callers can report precisely why
// a phase-two request was refused.
var (
	ErrInvalidToken      = errors.New("invalid confirmation token")
	ErrTokenExpired      = errors.New("confirmation token has expired")
	ErrParameterMismatch = errors.New("request parameters do not match the original request for this token")
)

// Pending is one registered confirmation. Path and Recursive are stored
// exactly as the client sent them; phase two matches on the raw values.
type Pending struct {
	Path      string    `json:"path"`
	Recursive bool      `json:"recursive"`
	ExpiresAt time.Time `json:"expiry"`
}

// Store is the confirmation registry. Implementations serialize every
// load+mutate+save sequence internally; two concurrent confirmations of the
// same token must never both succeed.
//
// Confirm checks, in order: token existence (ErrInvalidToken), expiry
// (ErrTokenExpired, consuming the entry), parameter match
// (ErrParameterMismatch, leaving the entry intact), then consumes the token.
// The expiry check runs on the looked-up entry before any purge so an
// elapsed token always reports ErrTokenExpired rather than ErrInvalidToken.
type Store interface {
	Create(ctx context.Context, path string, recursive bool) (token string, p Pending, err error)
	Confirm(ctx context.Context, token, path string, recursive bool) error
	Purge(ctx context.Context) (int, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

// newToken returns a fresh random token: three bytes from crypto/rand,
// hex-encoded and truncated to tokenLength characters.
func newToken() (string, error) {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf)[:tokenLength], nil
}
