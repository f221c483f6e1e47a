// Package session defines the key-value provider interface used for
// session records and the federation index.
//
// Providers store opaque string values under string keys with a TTL, plus
// optional set operations used by the federation index. Implementations
// that lack native sets can rely on the JSON-list fallback in SetOps.
package session

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by all session providers.
var (
	// ErrKeyNotFound is returned when a key does not exist or has expired.
	ErrKeyNotFound = errors.New("key not found")

	// ErrProviderClosed is returned for operations on a closed provider.
	ErrProviderClosed = errors.New("session provider closed")
)

// Provider is the minimal key-value contract. All values are strings
// (callers serialize to JSON); ttl <= 0 means no expiry.
type Provider interface {
	// Get returns the value for key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) (string, error)

	// SetEx stores value under key with the given TTL.
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Absent keys succeed.
	Delete(ctx context.Context, key string) error

	// Expire resets the TTL of an existing key. Returns ErrKeyNotFound
	// when the key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Keys returns all keys matching the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases provider resources.
	Close() error
}

// SetProvider is implemented by providers with native set support
// (e.g. Redis). Providers without it get the JSON-list fallback.
type SetProvider interface {
	// SAdd adds members to the set at key.
	SAdd(ctx context.Context, key string, members ...string) error

	// SRem removes members from the set at key.
	SRem(ctx context.Context, key string, members ...string) error

	// SMembers returns all members of the set at key. A missing set is an
	// empty set, not an error.
	SMembers(ctx context.Context, key string) ([]string, error)
}

// IsNotFound reports whether err indicates a missing key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}
