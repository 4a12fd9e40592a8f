package feature

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/txscreen/txscreen/internal/cache"
	"github.com/txscreen/txscreen/internal/circuitbreaker"
	"github.com/txscreen/txscreen/internal/metrics"
)

const velocityBreakerKey = "velocity"

// VelocityTracker counts a user's transactions inside trailing time windows.
// Windows live in the cache backend as score-ordered sets keyed by user id,
// scored by epoch milliseconds, so counting is a range query and never a scan.
type VelocityTracker struct {
	backend   cache.Backend
	breaker   *circuitbreaker.Breaker
	retention time.Duration
	opTimeout time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewVelocityTracker creates a tracker over the given backend. retention
// bounds window memory; opTimeout caps every backend round trip.
func NewVelocityTracker(backend cache.Backend, breaker *circuitbreaker.Breaker, retention, opTimeout time.Duration, logger *slog.Logger) *VelocityTracker {
	return &VelocityTracker{
		backend:   backend,
		breaker:   breaker,
		retention: retention,
		opTimeout: opTimeout,
		logger:    logger,
		now:       time.Now,
	}
}

// CountInWindow returns the number of the user's events with timestamp in
// [now-window, now]. Fail-open: an unreachable backend counts as zero so
// velocity unavailability never blocks a decision.
func (t *VelocityTracker) CountInWindow(ctx context.Context, userID string, window time.Duration) int {
	if !t.breaker.Allow(velocityBreakerKey) {
		metrics.FeatureErrors.WithLabelValues("velocity").Inc()
		return 0
	}

	ctx, cancel := context.WithTimeout(ctx, t.opTimeout)
	defer cancel()

	now := t.now()
	min := float64(now.Add(-window).UnixMilli())
	max := float64(now.UnixMilli())

	count, err := t.backend.ZCount(ctx, velocityKeyPrefix+userID, min, max)
	if err != nil {
		t.breaker.RecordFailure(velocityBreakerKey)
		metrics.FeatureErrors.WithLabelValues("velocity").Inc()
		t.logger.Warn("velocity count degraded to zero", "user_id", userID, "window", window, "error", err)
		return 0
	}
	t.breaker.RecordSuccess(velocityBreakerKey)
	return count
}

// Record appends one event to the user's window and prunes entries older
// than the retention horizon. Best-effort: failures are counted and logged,
// never returned. Duplicate redelivery of the same transaction produces a
// distinct entry and inflates the count; upstream owns deduplication.
func (t *VelocityTracker) Record(ctx context.Context, userID string, ts time.Time) {
	if !t.breaker.Allow(velocityBreakerKey) {
		metrics.FeatureErrors.WithLabelValues("velocity").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(ctx, t.opTimeout)
	defer cancel()

	key := velocityKeyPrefix + userID
	score := float64(ts.UnixMilli())
	member := strconv.FormatInt(ts.UnixNano(), 10)

	if err := t.backend.ZAdd(ctx, key, member, score); err != nil {
		t.breaker.RecordFailure(velocityBreakerKey)
		metrics.FeatureErrors.WithLabelValues("velocity").Inc()
		t.logger.Warn("velocity record dropped", "user_id", userID, "error", err)
		return
	}
	t.breaker.RecordSuccess(velocityBreakerKey)

	// Opportunistic maintenance: refresh the key TTL and prune entries that
	// fell out of the retention horizon. Both are best-effort.
	if err := t.backend.Expire(ctx, key, t.retention); err != nil {
		t.logger.Debug("velocity expire failed", "user_id", userID, "error", err)
	}
	cutoff := float64(t.now().Add(-t.retention).UnixMilli())
	if err := t.backend.ZRemoveRangeByScore(ctx, key, 0, cutoff); err != nil {
		t.logger.Debug("velocity prune failed", "user_id", userID, "error", err)
	}
}
