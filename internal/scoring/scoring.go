// Package scoring computes a normalized 0-100 risk score from weighted
// feature signals. The heuristic here is a designed substitution point: a
// learned model can replace it later without changing the contract, which is
// a pure, side-effect-free function of its inputs.
package scoring

import (
	"github.com/shopspring/decimal"

	"github.com/txscreen/txscreen/internal/decision"
	"github.com/txscreen/txscreen/internal/feature"
)

// Feature weights. They sum to 1.0 so the weighted sum stays in [0,1]
// before normalization.
const (
	weightAmount   = 0.25
	weightVelocity = 0.30
	weightDevice   = 0.20
	weightLocation = 0.15
	weightMerchant = 0.10
)

var noHistoryAmountThreshold = decimal.NewFromInt(1000)

// Heuristic is the weighted-sum risk scorer.
type Heuristic struct{}

// NewHeuristic creates the heuristic scorer.
func NewHeuristic() *Heuristic { return &Heuristic{} }

// Score returns the transaction's risk in [0,100], rounded half-up to two
// decimal places. Deterministic: identical inputs always yield the same score.
func (h *Heuristic) Score(txn *decision.Transaction, profile *feature.UserProfile, velocity1m, velocity5m int) float64 {
	score := amountScore(txn.Amount, profile.AverageTransactionAmount)*weightAmount +
		velocityScore(velocity1m, velocity5m)*weightVelocity +
		deviceScore(txn.DeviceID, profile)*weightDevice +
		locationScore(txn.Location, profile)*weightLocation +
		merchantScore(txn.Merchant, profile)*weightMerchant

	score *= 100
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return round2(score)
}

// amountScore rates the amount against the user's running average. Without
// usable history only the absolute amount matters; with history the ratio is
// bucketed, exclusive lower bounds evaluated highest-first.
func amountScore(amount, avg decimal.Decimal) float64 {
	if avg.IsZero() {
		if amount.GreaterThan(noHistoryAmountThreshold) {
			return 0.5
		}
		return 0.1
	}

	ratio := amount.DivRound(avg, 4)
	switch {
	case ratio.GreaterThan(decimal.NewFromInt(10)):
		return 1.0
	case ratio.GreaterThan(decimal.NewFromInt(5)):
		return 0.8
	case ratio.GreaterThan(decimal.NewFromInt(3)):
		return 0.5
	case ratio.GreaterThan(decimal.NewFromInt(2)):
		return 0.3
	default:
		return 0.1
	}
}

// velocityScore saturates at 1.0 on a 1-minute burst; otherwise the two
// windows contribute independently, capped at 1.0.
func velocityScore(velocity1m, velocity5m int) float64 {
	if velocity1m >= 5 {
		return 1.0
	}

	score := 0.0
	if velocity1m >= 3 {
		score += 0.6
	} else if velocity1m >= 2 {
		score += 0.3
	}

	if velocity5m >= 15 {
		score += 0.4
	} else if velocity5m >= 10 {
		score += 0.2
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

func deviceScore(deviceID string, profile *feature.UserProfile) float64 {
	if profile.IsNewDevice(deviceID) {
		return 0.8
	}
	return 0.1
}

func locationScore(location string, profile *feature.UserProfile) float64 {
	if location == "" {
		return 0.0
	}
	if profile.IsUnusualLocation(location) {
		return 0.7
	}
	return 0.1
}

func merchantScore(merchant string, profile *feature.UserProfile) float64 {
	if profile.IsFrequentMerchant(merchant) {
		return 0.0
	}
	return 0.4
}

// round2 rounds to two decimal places, half-up.
func round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}
