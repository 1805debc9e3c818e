// Package cache holds the short-lived OAuth CSRF state values.
//
// A state is written when the login redirect is issued and consumed exactly
// once by the matching callback. Two stores are provided: an in-process one
// for single-instance deployments and tests, and a Redis one shared by every
// instance behind a load balancer.
package cache

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrEmptyState is returned when an empty state value is saved.
var ErrEmptyState = errors.New("cache: state cannot be empty")

// StateStore keeps issued OAuth states until they are consumed or expire.
type StateStore interface {
	// Save records state as issued.
	Save(ctx context.Context, state string) error
	// Consume reports whether state was issued and still live, and removes it.
	// A second Consume of the same value returns false.
	Consume(ctx context.Context, state string) (bool, error)
}

// NewStateToken returns 32 random bytes encoded as unpadded base64url.
func NewStateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("cache: generating state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
