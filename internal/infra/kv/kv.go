// Package kv defines the key-value capability shared-state components are
// built on.
//
// Two implementations ship:
//   - RedisStore: durable, shared across worker processes
//   - FileStore: JSON file under a state dir, single-node degraded mode
//
// The implementation is selected by configuration, never by probing.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist or has expired.
var ErrNotFound = errors.New("kv: key not found")

// Store is the capability interface for shared mutable state.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value under key. ttl of zero means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value only if key is absent. Returns true if stored.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// TTL returns the remaining lifetime of key, zero if the key has no
	// expiry, and ErrNotFound if it does not exist.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// IncrByFloat atomically adds delta to the float stored at key,
	// creating it at zero if absent, and returns the new value.
	IncrByFloat(ctx context.Context, key string, delta float64) (float64, error)
}
