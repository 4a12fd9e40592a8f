// Package cache defines the key-value backend contract shared by the feature
// layer: scalar get/set with TTL plus sorted-set range operations for
// windowed counting. The production deployment points this at Redis; the
// in-process Memory backend serves tests and single-node runs.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates the backend could not be reached. Callers are
// expected to fail open (default profile, zero velocity) rather than block.
var ErrUnavailable = errors.New("cache backend unavailable")

// Backend is the minimal store contract consumed by the feature layer.
// All operations honor context cancellation and deadlines.
type Backend interface {
	// Get returns the value for key, or ok=false on a miss.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores value under key with the given TTL. A zero TTL means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// ZAdd inserts member into the sorted set at key with the given score.
	// Re-adding an existing member updates its score.
	ZAdd(ctx context.Context, key, member string, score float64) error

	// ZCount returns the number of members with score in [min, max].
	ZCount(ctx context.Context, key string, min, max float64) (int, error)

	// ZRemoveRangeByScore removes members with score in [min, max].
	ZRemoveRangeByScore(ctx context.Context, key string, min, max float64) error

	// Expire sets or refreshes the TTL on key. Unknown keys are a no-op.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Ping reports backend reachability, for health checks.
	Ping(ctx context.Context) error
}
