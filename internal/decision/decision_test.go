package decision

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestResolve_Precedence(t *testing.T) {
	tests := []struct {
		name      string
		suggested Outcome
		score     float64
		want      Outcome
	}{
		{"rule reject wins over low score", OutcomeReject, 5.0, OutcomeReject},
		{"rule reject wins over mid score", OutcomeReject, 65.0, OutcomeReject},
		{"high score forces reject over approve", OutcomeApprove, 80.0, OutcomeReject},
		{"high score forces reject with no suggestion", "", 92.5, OutcomeReject},
		{"mid score forces review with no suggestion", "", 50.0, OutcomeReview},
		{"mid score escalates approve to review", OutcomeApprove, 60.0, OutcomeReview},
		{"mid score keeps review", OutcomeReview, 55.0, OutcomeReview},
		{"low score keeps rule review", OutcomeReview, 10.0, OutcomeReview},
		{"low score keeps rule approve", OutcomeApprove, 10.0, OutcomeApprove},
		{"no suggestion, low score approves", "", 49.99, OutcomeApprove},
		{"just below reject threshold reviews", "", 79.99, OutcomeReview},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.suggested, tt.score))
		})
	}
}

func TestOutcomeSeverity(t *testing.T) {
	assert.Greater(t, OutcomeReject.Severity(), OutcomeReview.Severity())
	assert.Greater(t, OutcomeReview.Severity(), OutcomeApprove.Severity())
	assert.Greater(t, OutcomeApprove.Severity(), Outcome("").Severity())
}

func TestTransactionValidate(t *testing.T) {
	valid := Transaction{
		TransactionID: "txn-1",
		UserID:        "user-1",
		Amount:        decimal.NewFromInt(100),
		Currency:      "USD",
		Merchant:      "acme",
		DeviceID:      "dev-1",
		Timestamp:     time.Now(),
	}
	assert.NoError(t, valid.Validate())

	zeroAmount := valid
	zeroAmount.Amount = decimal.Zero
	assert.Error(t, zeroAmount.Validate())

	negative := valid
	negative.Amount = decimal.NewFromInt(-10)
	assert.Error(t, negative.Validate())

	noUser := valid
	noUser.UserID = ""
	assert.Error(t, noUser.Validate())

	noDevice := valid
	noDevice.DeviceID = ""
	assert.Error(t, noDevice.Validate())
}
