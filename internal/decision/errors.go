package decision

import "fmt"

// Stage identifies the pipeline step where an evaluation failed.
type Stage string

const (
	StageEnrichment Stage = "enrichment"
	StageRules      Stage = "rules"
	StageScoring    Stage = "scoring"
)

// EvaluationError is returned when a transaction cannot be decided.
// Callers receive either a complete Decision or an EvaluationError, never a
// partially-populated decision. Upstream owns redelivery/dead-letter policy.
type EvaluationError struct {
	TransactionID string
	Stage         Stage
	Err           error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate transaction %s: %s stage: %v", e.TransactionID, e.Stage, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }
