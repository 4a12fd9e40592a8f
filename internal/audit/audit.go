// Package audit persists decided transactions for traceability and serves
// the read-only query surface over them. Writes from the evaluation path are
// best-effort: a failed save is counted and logged, never surfaced to the
// caller of evaluate.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/txscreen/txscreen/internal/decision"
)

// ErrNotFound is returned when no decision exists for a lookup key.
var ErrNotFound = errors.New("decision not found")

// Stats is the aggregate view served by the query surface.
type Stats struct {
	TotalDecisions int64   `json:"totalDecisions"`
	AvgLatencyMs   float64 `json:"avgLatencyMs"`
}

// Store persists decisions for the audit trail.
type Store interface {
	// Save records a decision. Transaction id is the deduplication key:
	// saving the same id twice keeps the first record.
	Save(ctx context.Context, d *decision.Decision) error

	// GetByTransactionID returns the decision for a transaction, or ErrNotFound.
	GetByTransactionID(ctx context.Context, transactionID string) (*decision.Decision, error)

	// ListByUser returns the user's decisions, most recent first, up to limit.
	ListByUser(ctx context.Context, userID string, limit int) ([]*decision.Decision, error)

	// Stats aggregates decision count and average latency since the given time.
	Stats(ctx context.Context, since time.Time) (*Stats, error)
}
