package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/txscreen/txscreen/internal/decision"
)

// PostgresStore persists decisions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed audit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the decisions table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS decisions (
			id             BIGSERIAL PRIMARY KEY,
			transaction_id VARCHAR(64) NOT NULL UNIQUE,
			user_id        VARCHAR(64) NOT NULL,
			outcome        VARCHAR(10) NOT NULL CHECK (outcome IN ('APPROVE', 'REVIEW', 'REJECT')),
			risk_score     NUMERIC(5,2) NOT NULL CHECK (risk_score >= 0 AND risk_score <= 100),
			reason_codes   TEXT NOT NULL DEFAULT '',
			rule_version   VARCHAR(32) NOT NULL,
			latency_ms     BIGINT NOT NULL,
			decided_at     TIMESTAMPTZ NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_decisions_user_id
			ON decisions (user_id, decided_at DESC);

		CREATE INDEX IF NOT EXISTS idx_decisions_decided_at
			ON decisions (decided_at DESC);

		CREATE INDEX IF NOT EXISTS idx_decisions_outcome
			ON decisions (outcome);
	`)
	return err
}

func (s *PostgresStore) Save(ctx context.Context, d *decision.Decision) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (transaction_id, user_id, outcome, risk_score, reason_codes, rule_version, latency_ms, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (transaction_id) DO NOTHING
	`,
		d.TransactionID,
		d.UserID,
		string(d.Outcome),
		d.RiskScore,
		strings.Join(d.ReasonCodes, ","),
		d.RuleVersion,
		d.LatencyMs,
		d.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("save decision %s: %w", d.TransactionID, err)
	}
	return nil
}

func (s *PostgresStore) GetByTransactionID(ctx context.Context, transactionID string) (*decision.Decision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT transaction_id, user_id, outcome, risk_score, reason_codes, rule_version, latency_ms, decided_at
		FROM decisions
		WHERE transaction_id = $1
	`, transactionID)

	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get decision %s: %w", transactionID, err)
	}
	return d, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*decision.Decision, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, user_id, outcome, risk_score, reason_codes, rule_version, latency_ms, decided_at
		FROM decisions
		WHERE user_id = $1
		ORDER BY decided_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list decisions for %s: %w", userID, err)
	}
	defer func() { _ = rows.Close() }()

	var result []*decision.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (s *PostgresStore) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	stats := &Stats{}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM decisions`,
	).Scan(&stats.TotalDecisions); err != nil {
		return nil, fmt.Errorf("count decisions: %w", err)
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		`SELECT AVG(latency_ms) FROM decisions WHERE decided_at >= $1`, since,
	).Scan(&avg); err != nil {
		return nil, fmt.Errorf("average latency: %w", err)
	}
	if avg.Valid {
		stats.AvgLatencyMs = avg.Float64
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner) (*decision.Decision, error) {
	var d decision.Decision
	var outcome, reasonCodes string
	if err := row.Scan(
		&d.TransactionID,
		&d.UserID,
		&outcome,
		&d.RiskScore,
		&reasonCodes,
		&d.RuleVersion,
		&d.LatencyMs,
		&d.DecidedAt,
	); err != nil {
		return nil, err
	}
	d.Outcome = decision.Outcome(outcome)
	if reasonCodes != "" {
		d.ReasonCodes = strings.Split(reasonCodes, ",")
	}
	return &d, nil
}
