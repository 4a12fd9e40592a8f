package scoring

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/txscreen/txscreen/internal/decision"
	"github.com/txscreen/txscreen/internal/feature"
)

func testTxn(amount string) *decision.Transaction {
	return &decision.Transaction{
		TransactionID: "txn-1",
		UserID:        "u1",
		Amount:        decimal.RequireFromString(amount),
		Currency:      "USD",
		Merchant:      "acme",
		DeviceID:      "dev-1",
		Timestamp:     time.Now(),
	}
}

func testProfile() *feature.UserProfile {
	return &feature.UserProfile{
		UserID:                   "u1",
		AverageTransactionAmount: decimal.RequireFromString("100.00"),
		HomeLocation:             "US",
		TrustedDevices:           []string{"dev-1"},
		FrequentMerchants:        []string{"acme"},
	}
}

func TestAmountScore_RatioBuckets(t *testing.T) {
	avg := decimal.RequireFromString("100.00")
	tests := []struct {
		amount string
		want   float64
	}{
		{"10000.00", 1.0}, // 100x
		{"1000.01", 1.0},  // just above 10x
		{"1000.00", 0.8},  // exactly 10x: bound is exclusive
		{"501.00", 0.8},
		{"500.00", 0.5},
		{"301.00", 0.5},
		{"300.00", 0.3},
		{"201.00", 0.3},
		{"200.00", 0.1},
		{"50.00", 0.1},
	}
	for _, tt := range tests {
		got := amountScore(decimal.RequireFromString(tt.amount), avg)
		assert.Equal(t, tt.want, got, "amount %s vs avg 100", tt.amount)
	}
}

func TestAmountScore_NoHistory(t *testing.T) {
	assert.Equal(t, 0.5, amountScore(decimal.RequireFromString("1000.01"), decimal.Zero))
	assert.Equal(t, 0.1, amountScore(decimal.RequireFromString("1000.00"), decimal.Zero))
	assert.Equal(t, 0.1, amountScore(decimal.RequireFromString("50.00"), decimal.Zero))
}

func TestVelocityScore(t *testing.T) {
	tests := []struct {
		name   string
		v1, v5 int
		want   float64
	}{
		{"burst short-circuits", 5, 0, 1.0},
		{"burst ignores 5m", 6, 20, 1.0},
		{"quiet", 0, 0, 0.0},
		{"v1 two", 2, 0, 0.3},
		{"v1 three", 3, 0, 0.6},
		{"v5 ten", 0, 10, 0.2},
		{"v5 fifteen", 0, 15, 0.4},
		{"combined", 3, 15, 1.0},
		{"combined capped", 4, 16, 1.0},
		{"mid combined", 2, 10, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, velocityScore(tt.v1, tt.v5), 1e-9)
		})
	}
}

func TestScore_RangeInvariant(t *testing.T) {
	h := NewHeuristic()
	profiles := []*feature.UserProfile{testProfile(), {UserID: "u2"}}
	amounts := []string{"0.01", "100", "5000", "999999"}
	for _, p := range profiles {
		for _, a := range amounts {
			for _, v1 := range []int{0, 2, 6} {
				for _, v5 := range []int{0, 10, 20} {
					score := h.Score(testTxn(a), p, v1, v5)
					assert.GreaterOrEqual(t, score, 0.0)
					assert.LessOrEqual(t, score, 100.0)
				}
			}
		}
	}
}

func TestScore_AmountDeviationContribution(t *testing.T) {
	h := NewHeuristic()
	// Average 100, amount 10000: amount sub-score 1.0 contributes 25 points.
	// Device trusted (0.1*20=2), location absent (0), merchant frequent (0),
	// velocity quiet (0).
	score := h.Score(testTxn("10000.00"), testProfile(), 0, 0)
	assert.InDelta(t, 27.0, score, 1e-9)
}

func TestScore_BurstVelocitySubScore(t *testing.T) {
	h := NewHeuristic()
	// velocity1m=6 saturates the velocity sub-score: 30 points, plus trusted
	// device 2 and low amount 2.5.
	score := h.Score(testTxn("50.00"), testProfile(), 6, 0)
	assert.InDelta(t, 34.5, score, 1e-9)
}

func TestScore_AllSignalsHot(t *testing.T) {
	h := NewHeuristic()
	txn := testTxn("10000.00")
	txn.DeviceID = "unknown"
	txn.Location = "BR"
	txn.Merchant = "never-seen"

	score := h.Score(txn, testProfile(), 6, 20)
	// 0.25 + 0.30 + 0.8*0.20 + 0.7*0.15 + 0.4*0.10 = 0.855
	assert.InDelta(t, 85.5, score, 1e-9)
}

func TestScore_Deterministic(t *testing.T) {
	h := NewHeuristic()
	txn := testTxn("333.33")
	txn.Location = "FR"
	a := h.Score(txn, testProfile(), 2, 10)
	b := h.Score(txn, testProfile(), 2, 10)
	assert.Equal(t, a, b)
}

func TestScore_RoundedToTwoPlaces(t *testing.T) {
	h := NewHeuristic()
	score := h.Score(testTxn("50.00"), testProfile(), 0, 0)
	assert.Equal(t, round2(score), score)
}
