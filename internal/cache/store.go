// Package cache provides the optional key/value accelerator used in front of
// slow lookups. Stores never return errors: a backend that cannot be reached
// behaves like an empty cache that accepts and discards writes.
package cache

import (
	"context"
	"time"
)

// Health describes the reachability of a cache backend.
type Health string

const (
	Healthy     Health = "Healthy"
	Degraded    Health = "Degraded"
	Unavailable Health = "Unavailable"
)

// Store is the capability the rest of the system sees. Implementations must
// be safe for concurrent use and must not block longer than their configured
// operation timeout.
type Store interface {
	// Get returns the value and true on a hit. Expired, absent or unreachable
	// entries are all reported as a miss.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set upserts value with the given ttl. Failures are logged and dropped.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	// Delete removes keys. Failures are logged and dropped.
	Delete(ctx context.Context, keys ...string)
	// DeletePrefix removes every key starting with prefix and reports how
	// many were removed.
	DeletePrefix(ctx context.Context, prefix string) int
	// Health actively pings the backend.
	Health(ctx context.Context) Health
	// Enabled reports whether a live backend is currently serving requests.
	Enabled() bool
}

// NoopStore is selected when no cache backend is configured.
type NoopStore struct{}

// NewNoopStore returns a store that never caches anything.
func NewNoopStore() NoopStore { return NoopStore{} }

func (NoopStore) Get(context.Context, string) ([]byte, bool)         { return nil, false }
func (NoopStore) Set(context.Context, string, []byte, time.Duration) {}
func (NoopStore) Delete(context.Context, ...string)                  {}
func (NoopStore) DeletePrefix(context.Context, string) int           { return 0 }
func (NoopStore) Health(context.Context) Health                      { return Unavailable }
func (NoopStore) Enabled() bool                                      { return false }
