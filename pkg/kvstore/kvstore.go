// Package kvstore provides a thin key-value abstraction with TTL support.
// Backends: in-memory (testing, single node), Redis (production), Badger
// (embedded single-node deployments).
package kvstore

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for the key-value layer.
var (
	ErrUnavailable = errors.New("kvstore: backend unavailable")
	ErrInvalidKey  = errors.New("kvstore: invalid key")
)

// Store is the interface over a key-value engine with TTL support.
// Get returns (value, found, error): found=false with a nil error means the
// key legitimately does not exist; a non-nil error means the backend failed
// and callers should degrade rather than trust the miss.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes a value. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	Delete(ctx context.Context, keys ...string) error

	// DeleteByPrefix removes every key starting with prefix and returns
	// the number of deleted keys.
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)

	// Ping checks backend liveness.
	Ping(ctx context.Context) error

	Close() error
}
