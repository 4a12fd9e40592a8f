// Package rules implements the ordered deterministic rule pass of the
// decision pipeline. Evaluation is a pure function of the transaction, the
// user profile, and the two velocity counts: identical inputs always yield
// an identical Result.
//
// Rules run in a fixed order. High-severity rules short-circuit the pass;
// later rules accumulate reason codes and may raise, but never lower, the
// suggested outcome.
package rules

import (
	"github.com/shopspring/decimal"

	"github.com/txscreen/txscreen/internal/decision"
	"github.com/txscreen/txscreen/internal/feature"
)

// Rule thresholds.
var (
	highAmountRejectThreshold = decimal.NewFromInt(10000)
	highAmountReviewThreshold = decimal.NewFromInt(5000)
	deviationMultiplier       = decimal.NewFromInt(5)
)

const (
	velocity1mRejectThreshold = 5
	velocity5mReviewThreshold = 10
)

// Rule names.
const (
	RuleHighAmountNewDevice      = "HIGH_AMOUNT_NEW_DEVICE"
	RuleHighVelocity1m           = "HIGH_VELOCITY_1M"
	RuleMediumVelocity5m         = "MEDIUM_VELOCITY_5M"
	RuleNewDeviceUnusualLocation = "NEW_DEVICE_UNUSUAL_LOCATION"
	RuleHighAmountThreshold      = "HIGH_AMOUNT_THRESHOLD"
	RuleAmountDeviation          = "AMOUNT_DEVIATION"
	RuleDefaultApprove           = "DEFAULT_APPROVE"
)

// Reason codes.
const (
	ReasonHighAmountNewDevice = "HIGH_AMOUNT_NEW_DEVICE"
	ReasonHighVelocity        = "HIGH_VELOCITY"
	ReasonElevatedVelocity    = "ELEVATED_VELOCITY"
	ReasonNewDevice           = "NEW_DEVICE"
	ReasonUnusualLocation     = "UNUSUAL_LOCATION"
	ReasonHighAmount          = "HIGH_AMOUNT"
	ReasonAmountAnomaly       = "AMOUNT_ANOMALY"
)

// Result accumulates one evaluation pass. The suggested outcome only ever
// rises in severity; fired rules and reason codes grow in insertion order,
// duplicates allowed.
type Result struct {
	suggested   decision.Outcome
	FiredRules  []string
	ReasonCodes []string
	RuleVersion string
}

// Suggest raises the suggested outcome to o if o is more severe than the
// current suggestion. A REVIEW can never overwrite a REJECT.
func (r *Result) Suggest(o decision.Outcome) {
	if o.Severity() > r.suggested.Severity() {
		r.suggested = o
	}
}

// Suggested returns the suggested outcome, or the empty Outcome if no rule
// made a suggestion.
func (r *Result) Suggested() decision.Outcome { return r.suggested }

// Fire records a fired rule and its reason codes.
func (r *Result) Fire(rule string, reasons ...string) {
	r.FiredRules = append(r.FiredRules, rule)
	r.ReasonCodes = append(r.ReasonCodes, reasons...)
}

// action tells the fold whether to keep evaluating.
type action int

const (
	actionContinue action = iota
	actionStop
)

// Input carries one evaluation's features.
type Input struct {
	Txn        *decision.Transaction
	Profile    *feature.UserProfile
	Velocity1m int
	Velocity5m int
}

type rule struct {
	name  string
	apply func(in Input, r *Result) action
}

// Evaluator applies the ordered rule list. The rule-set version is injected
// at construction and stamped on every Result for audit traceability.
type Evaluator struct {
	version string
	rules   []rule
}

// NewEvaluator creates an evaluator tagged with the given rule-set version.
func NewEvaluator(version string) *Evaluator {
	return &Evaluator{
		version: version,
		rules: []rule{
			{RuleHighAmountNewDevice, ruleHighAmountNewDevice},
			{RuleHighVelocity1m, ruleHighVelocity1m},
			{RuleMediumVelocity5m, ruleMediumVelocity5m},
			{RuleNewDeviceUnusualLocation, ruleNewDeviceUnusualLocation},
			{RuleHighAmountThreshold, ruleHighAmountThreshold},
			{RuleAmountDeviation, ruleAmountDeviation},
		},
	}
}

// Version returns the active rule-set version tag.
func (e *Evaluator) Version() string { return e.version }

// Evaluate folds the rule list left-to-right over a fresh Result. If no rule
// makes a suggestion the transaction defaults to APPROVE.
func (e *Evaluator) Evaluate(txn *decision.Transaction, profile *feature.UserProfile, velocity1m, velocity5m int) *Result {
	in := Input{Txn: txn, Profile: profile, Velocity1m: velocity1m, Velocity5m: velocity5m}
	result := &Result{RuleVersion: e.version}

	for _, rl := range e.rules {
		if rl.apply(in, result) == actionStop {
			return result
		}
	}

	if result.suggested == "" {
		result.Suggest(decision.OutcomeApprove)
		result.Fire(RuleDefaultApprove)
	}
	return result
}

// Rule 1: very high amount from an untrusted device is an outright reject.
func ruleHighAmountNewDevice(in Input, r *Result) action {
	if in.Txn.Amount.GreaterThan(highAmountRejectThreshold) && in.Profile.IsNewDevice(in.Txn.DeviceID) {
		r.Suggest(decision.OutcomeReject)
		r.Fire(RuleHighAmountNewDevice, ReasonHighAmountNewDevice)
		return actionStop
	}
	return actionContinue
}

// Rule 2: burst velocity in the last minute is an outright reject.
func ruleHighVelocity1m(in Input, r *Result) action {
	if in.Velocity1m >= velocity1mRejectThreshold {
		r.Suggest(decision.OutcomeReject)
		r.Fire(RuleHighVelocity1m, ReasonHighVelocity)
		return actionStop
	}
	return actionContinue
}

// Rule 3: elevated 5-minute velocity flags for review.
func ruleMediumVelocity5m(in Input, r *Result) action {
	if in.Velocity5m >= velocity5mReviewThreshold {
		r.Suggest(decision.OutcomeReview)
		r.Fire(RuleMediumVelocity5m, ReasonElevatedVelocity)
	}
	return actionContinue
}

// Rule 4: an untrusted device away from the user's home location flags for
// review. Skipped when the transaction carries no location.
func ruleNewDeviceUnusualLocation(in Input, r *Result) action {
	if in.Profile.IsNewDevice(in.Txn.DeviceID) && in.Profile.IsUnusualLocation(in.Txn.Location) {
		r.Suggest(decision.OutcomeReview)
		r.Fire(RuleNewDeviceUnusualLocation, ReasonNewDevice, ReasonUnusualLocation)
	}
	return actionContinue
}

// Rule 5: amounts above the review threshold always leave a reason code,
// even when a trusted device already earned a suggestion.
func ruleHighAmountThreshold(in Input, r *Result) action {
	if in.Txn.Amount.GreaterThan(highAmountReviewThreshold) {
		r.Suggest(decision.OutcomeReview)
		r.Fire(RuleHighAmountThreshold, ReasonHighAmount)
	}
	return actionContinue
}

// Rule 6: amount far outside the user's running average flags for review.
func ruleAmountDeviation(in Input, r *Result) action {
	threshold := in.Profile.AverageTransactionAmount.Mul(deviationMultiplier)
	if in.Txn.Amount.GreaterThan(threshold) {
		r.Suggest(decision.OutcomeReview)
		r.Fire(RuleAmountDeviation, ReasonAmountAnomaly)
	}
	return actionContinue
}
