// Package decision defines the core domain types of the screening pipeline:
// incoming transactions, the closed set of outcomes, and the immutable
// decision record that gets persisted and published.
package decision

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Outcome is the verdict assigned to a transaction.
type Outcome string

const (
	OutcomeApprove Outcome = "APPROVE"
	OutcomeReview  Outcome = "REVIEW"
	OutcomeReject  Outcome = "REJECT"
)

// Severity orders outcomes for conservative merging: REJECT > REVIEW > APPROVE.
// The zero Outcome ("no suggestion") has severity 0.
func (o Outcome) Severity() int {
	switch o {
	case OutcomeApprove:
		return 1
	case OutcomeReview:
		return 2
	case OutcomeReject:
		return 3
	default:
		return 0
	}
}

// Valid reports whether o is one of the three defined outcomes.
func (o Outcome) Valid() bool {
	return o == OutcomeApprove || o == OutcomeReview || o == OutcomeReject
}

// Transaction is an incoming payment event. Validated once at the ingestion
// boundary; downstream components treat it as immutable and well-formed.
type Transaction struct {
	TransactionID    string          `json:"transactionId"`
	UserID           string          `json:"userId"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Merchant         string          `json:"merchant"`
	MerchantCategory string          `json:"merchantCategory"`
	DeviceID         string          `json:"deviceId"`
	Location         string          `json:"location,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
}

// Validate checks boundary invariants on an inbound transaction.
func (t *Transaction) Validate() error {
	switch {
	case t.TransactionID == "":
		return fmt.Errorf("transactionId is required")
	case t.UserID == "":
		return fmt.Errorf("userId is required")
	case t.Merchant == "":
		return fmt.Errorf("merchant is required")
	case t.DeviceID == "":
		return fmt.Errorf("deviceId is required")
	case !t.Amount.IsPositive():
		return fmt.Errorf("amount must be positive, got %s", t.Amount)
	}
	return nil
}

// Decision is the immutable output of one evaluation. One Decision is created
// per transaction and never mutated after construction.
type Decision struct {
	TransactionID string    `json:"transactionId"`
	UserID        string    `json:"userId"`
	Outcome       Outcome   `json:"outcome"`
	RiskScore     float64   `json:"riskScore"`
	ReasonCodes   []string  `json:"reasonCodes"`
	RuleVersion   string    `json:"ruleVersion"`
	LatencyMs     int64     `json:"latencyMs"`
	DecidedAt     time.Time `json:"decidedAt"`
}

// Score thresholds for the resolver.
const (
	RejectScoreThreshold = 80.0
	ReviewScoreThreshold = 50.0
)

// Resolve fuses the rule engine's suggestion with the numeric risk score.
// Precedence, in order:
//  1. a rule REJECT always stands, regardless of score
//  2. score >= 80 forces REJECT
//  3. score >= 50 forces at least REVIEW
//  4. otherwise the rule suggestion, if any
//  5. otherwise APPROVE
//
// A score in [50,80) can escalate a milder suggestion to REVIEW but never
// downgrade a REJECT.
func Resolve(suggested Outcome, riskScore float64) Outcome {
	if suggested == OutcomeReject {
		return OutcomeReject
	}
	if riskScore >= RejectScoreThreshold {
		return OutcomeReject
	}
	if riskScore >= ReviewScoreThreshold {
		return OutcomeReview
	}
	if suggested != "" {
		return suggested
	}
	return OutcomeApprove
}
