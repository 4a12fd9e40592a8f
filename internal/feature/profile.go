package feature

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/txscreen/txscreen/internal/cache"
	"github.com/txscreen/txscreen/internal/circuitbreaker"
	"github.com/txscreen/txscreen/internal/metrics"
)

const profileBreakerKey = "profile"

// ProfileCache serves per-user behavioral profiles with a bounded TTL.
// Expiry is enforced by the backend; a miss after expiry manufactures a
// fresh default profile.
type ProfileCache struct {
	backend   cache.Backend
	breaker   *circuitbreaker.Breaker
	ttl       time.Duration
	opTimeout time.Duration
	logger    *slog.Logger
}

// NewProfileCache creates a profile cache over the given backend.
func NewProfileCache(backend cache.Backend, breaker *circuitbreaker.Breaker, ttl, opTimeout time.Duration, logger *slog.Logger) *ProfileCache {
	return &ProfileCache{
		backend:   backend,
		breaker:   breaker,
		ttl:       ttl,
		opTimeout: opTimeout,
		logger:    logger,
	}
}

// GetProfile returns the user's cached profile. It never fails: a miss or a
// backend error yields a manufactured default so enrichment cannot block a
// decision. The default is written back best-effort on a clean miss.
func (c *ProfileCache) GetProfile(ctx context.Context, userID string) *UserProfile {
	if !c.breaker.Allow(profileBreakerKey) {
		metrics.FeatureErrors.WithLabelValues("profile").Inc()
		return DefaultProfile(userID)
	}

	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	raw, ok, err := c.backend.Get(opCtx, profileKeyPrefix+userID)
	if err != nil {
		c.breaker.RecordFailure(profileBreakerKey)
		metrics.FeatureErrors.WithLabelValues("profile").Inc()
		c.logger.Warn("profile read degraded to default", "user_id", userID, "error", err)
		return DefaultProfile(userID)
	}
	c.breaker.RecordSuccess(profileBreakerKey)

	if !ok {
		metrics.FeatureCacheMisses.WithLabelValues("profile").Inc()
		profile := DefaultProfile(userID)
		if err := c.PutProfile(ctx, userID, profile); err != nil {
			c.logger.Debug("default profile write-back failed", "user_id", userID, "error", err)
		}
		return profile
	}

	var profile UserProfile
	if err := json.Unmarshal(raw, &profile); err != nil {
		metrics.FeatureErrors.WithLabelValues("profile").Inc()
		c.logger.Warn("profile unmarshal failed, using default", "user_id", userID, "error", err)
		return DefaultProfile(userID)
	}
	metrics.FeatureCacheHits.WithLabelValues("profile").Inc()
	return &profile
}

// PutProfile writes the profile back with a refreshed TTL.
func (c *ProfileCache) PutProfile(ctx context.Context, userID string, profile *UserProfile) error {
	raw, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	if err := c.backend.Set(ctx, profileKeyPrefix+userID, raw, c.ttl); err != nil {
		c.breaker.RecordFailure(profileBreakerKey)
		metrics.FeatureErrors.WithLabelValues("profile").Inc()
		return fmt.Errorf("store profile %s: %w", userID, err)
	}
	c.breaker.RecordSuccess(profileBreakerKey)
	return nil
}

// UpdateAfterTransaction folds a completed transaction into the profile: the
// running average is recomputed count-weighted, the device and merchant join
// their trust sets, and the TTL is refreshed.
//
// newAvg = (oldAvg*(n-1) + amount) / n where n is the post-increment count;
// the first transaction sets the average outright.
func (c *ProfileCache) UpdateAfterTransaction(ctx context.Context, userID, deviceID, merchant string, amount decimal.Decimal) error {
	profile := c.GetProfile(ctx, userID)

	profile.TotalTransactionCount++
	profile.AverageTransactionAmount = nextAverage(profile.AverageTransactionAmount, amount, profile.TotalTransactionCount)
	profile.TrustedDevices = appendUnique(profile.TrustedDevices, deviceID)
	profile.FrequentMerchants = appendUnique(profile.FrequentMerchants, merchant)

	return c.PutProfile(ctx, userID, profile)
}

// nextAverage recomputes the count-weighted running average at 2 decimal
// places, rounding half-up.
func nextAverage(oldAvg, amount decimal.Decimal, count int) decimal.Decimal {
	if count <= 1 {
		return amount.Round(2)
	}
	n := decimal.NewFromInt(int64(count))
	total := oldAvg.Mul(n.Sub(decimal.NewFromInt(1))).Add(amount)
	return total.DivRound(n, 2)
}
