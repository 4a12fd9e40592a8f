// Package engine orchestrates a transaction's path from enrichment to a
// final decision.
//
// Evaluation runs in stages: feature enrichment (profile + velocity, fetched
// concurrently), rule evaluation, risk scoring, outcome resolution. The
// decision is returned to the caller synchronously; persistence, feature
// updates, publishing and feed broadcast run as tracked background side
// effects that never delay or fail the decision.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/txscreen/txscreen/internal/audit"
	"github.com/txscreen/txscreen/internal/decision"
	"github.com/txscreen/txscreen/internal/feature"
	"github.com/txscreen/txscreen/internal/metrics"
	"github.com/txscreen/txscreen/internal/publish"
	"github.com/txscreen/txscreen/internal/rules"
	"github.com/txscreen/txscreen/internal/scoring"
	"github.com/txscreen/txscreen/internal/traces"
)

const sideEffectTimeout = 5 * time.Second

// Broadcaster pushes finished decisions to live feed subscribers.
type Broadcaster interface {
	BroadcastDecision(d *decision.Decision)
}

// Engine evaluates transactions end to end.
type Engine struct {
	profiles  *feature.ProfileCache
	velocity  *feature.VelocityTracker
	evaluator *rules.Evaluator
	scorer    *scoring.Heuristic
	store     audit.Store
	publisher publish.Publisher
	topic     string
	feed      Broadcaster
	logger    *slog.Logger
	now       func() time.Time

	sideEffects sync.WaitGroup
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithBroadcaster wires a live decision feed.
func WithBroadcaster(b Broadcaster) Option {
	return func(e *Engine) { e.feed = b }
}

// New creates an engine. All collaborators except options are required.
func New(
	profiles *feature.ProfileCache,
	velocity *feature.VelocityTracker,
	evaluator *rules.Evaluator,
	scorer *scoring.Heuristic,
	store audit.Store,
	publisher publish.Publisher,
	topic string,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		profiles:  profiles,
		velocity:  velocity,
		evaluator: evaluator,
		scorer:    scorer,
		store:     store,
		publisher: publisher,
		topic:     topic,
		logger:    logger.With("component", "engine"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate produces a decision for txn. The transaction must already be
// validated. Exactly one decision comes out of every successful call.
func (e *Engine) Evaluate(ctx context.Context, txn *decision.Transaction) (*decision.Decision, error) {
	start := e.now()

	ctx, span := traces.StartSpan(ctx, "engine.Evaluate",
		traces.TransactionID(txn.TransactionID),
		traces.UserID(txn.UserID),
	)
	defer span.End()

	profile, v1m, v5m, err := e.enrich(ctx, txn)
	if err != nil {
		metrics.DecisionErrorsTotal.WithLabelValues(string(decision.StageEnrichment)).Inc()
		return nil, &decision.EvaluationError{
			TransactionID: txn.TransactionID,
			Stage:         decision.StageEnrichment,
			Err:           err,
		}
	}

	result := e.evaluator.Evaluate(txn, profile, v1m, v5m)
	score := e.scorer.Score(txn, profile, v1m, v5m)
	outcome := decision.Resolve(result.Suggested(), score)

	d := &decision.Decision{
		TransactionID: txn.TransactionID,
		UserID:        txn.UserID,
		Outcome:       outcome,
		RiskScore:     score,
		ReasonCodes:   result.ReasonCodes,
		RuleVersion:   e.evaluator.Version(),
		LatencyMs:     e.now().Sub(start).Milliseconds(),
		DecidedAt:     e.now().UTC(),
	}

	span.SetAttributes(traces.Outcome(string(outcome)), traces.RiskScore(score))
	metrics.DecisionsTotal.WithLabelValues(string(outcome)).Inc()
	metrics.DecisionLatency.WithLabelValues(string(outcome)).Observe(float64(d.LatencyMs) / 1000)
	metrics.RiskScore.Set(score)

	e.logger.Info("decision",
		"transaction_id", d.TransactionID,
		"user_id", d.UserID,
		"outcome", d.Outcome,
		"risk_score", d.RiskScore,
		"reason_codes", d.ReasonCodes,
		"latency_ms", d.LatencyMs)

	e.sideEffects.Add(1)
	go func() {
		defer e.sideEffects.Done()
		e.finish(txn, d)
	}()

	return d, nil
}

// enrich fetches the user profile and velocity counts concurrently. Feature
// lookups degrade to defaults on cache trouble; the only failure here is a
// dead context.
func (e *Engine) enrich(ctx context.Context, txn *decision.Transaction) (*feature.UserProfile, int, int, error) {
	ctx, span := traces.StartSpan(ctx, "engine.enrich", traces.Stage(string(decision.StageEnrichment)))
	defer span.End()

	var (
		wg      sync.WaitGroup
		profile *feature.UserProfile
		v1m     int
		v5m     int
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		profile = e.profiles.GetProfile(ctx, txn.UserID)
	}()
	go func() {
		defer wg.Done()
		v1m = e.velocity.CountInWindow(ctx, txn.UserID, time.Minute)
	}()
	go func() {
		defer wg.Done()
		v5m = e.velocity.CountInWindow(ctx, txn.UserID, 5*time.Minute)
	}()
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, 0, 0, err
	}
	return profile, v1m, v5m, nil
}

// finish runs the post-decision side effects. Each one is independent and
// best-effort.
func (e *Engine) finish(txn *decision.Transaction, d *decision.Decision) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()

	if err := e.store.Save(ctx, d); err != nil {
		metrics.AuditSaveErrorsTotal.Inc()
		e.logger.Error("audit save failed",
			"transaction_id", d.TransactionID,
			"error", err)
	}

	// Velocity is stamped with the decision time, not the client-supplied
	// transaction timestamp. A replayed event with a stale timestamp would
	// otherwise land outside the counting windows and undercount.
	e.velocity.Record(ctx, txn.UserID, d.DecidedAt)
	if err := e.profiles.UpdateAfterTransaction(ctx, txn.UserID, txn.DeviceID, txn.Merchant, txn.Amount); err != nil {
		e.logger.Warn("profile update failed",
			"user_id", txn.UserID,
			"error", err)
	}

	payload, err := json.Marshal(d)
	if err == nil {
		// WebhookPublisher records its own publish metrics.
		if err := e.publisher.Publish(ctx, e.topic, d.TransactionID, payload); err != nil {
			e.logger.Warn("publish failed",
				"transaction_id", d.TransactionID,
				"error", err)
		}
	}

	if e.feed != nil {
		e.feed.BroadcastDecision(d)
	}
}

// Close waits for in-flight side effects to drain.
func (e *Engine) Close() {
	e.sideEffects.Wait()
}
