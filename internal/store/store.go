// Package store provides the key-value store client used by the caching
// layer. The Client interface abstracts the Redis wire client so that a real
// network implementation and an in-memory fake satisfy the same contract.
package store

import (
	"context"
	"time"
)

// Client is the narrow store contract required by the services above it:
// plain KV with TTL, set-if-not-exists, atomic counters, pattern scans, and
// the set/sorted-set primitives backing tag indexes and sliding windows.
//
// Methods return errors verbatim; retry, fallback, and circuit breaking are
// the resilience envelope's job, not the client's. Get returns
// errors.ErrNotFound on a miss so callers can distinguish miss from failure.
type Client interface {
	// Connect establishes the connection. It is idempotent and safe to call
	// again after Close to support reconnection after store restarts.
	Connect(ctx context.Context) error
	Close() error
	Ping(ctx context.Context) error

	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX sets key only when absent, returning whether it was set.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	// Incr atomically increments the integer at key, creating it at 1.
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL returns the remaining lifetime of key; negative when the key has
	// no expiry or does not exist.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// ScanPattern returns every key matching a Redis-style glob pattern.
	ScanPattern(ctx context.Context, pattern string) ([]string, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SRem(ctx context.Context, key string, members ...string) error

	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error
	ZCard(ctx context.Context, key string) (int64, error)

	FlushAll(ctx context.Context) error
}
