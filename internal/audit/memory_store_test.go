package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txscreen/txscreen/internal/decision"
)

func testDecision(txnID, userID string, score float64, decidedAt time.Time) *decision.Decision {
	return &decision.Decision{
		TransactionID: txnID,
		UserID:        userID,
		Outcome:       decision.OutcomeApprove,
		RiskScore:     score,
		ReasonCodes:   []string{"DEFAULT_APPROVE"},
		RuleVersion:   "v1",
		LatencyMs:     3,
		DecidedAt:     decidedAt,
	}
}

func TestMemoryStoreSaveAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	d := testDecision("txn-1", "user-1", 12.5, time.Now())
	require.NoError(t, store.Save(ctx, d))

	got, err := store.GetByTransactionID(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, "txn-1", got.TransactionID)
	assert.Equal(t, 12.5, got.RiskScore)

	_, err = store.GetByTransactionID(ctx, "txn-unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreFirstWriteWins(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first := testDecision("txn-1", "user-1", 10, time.Now())
	require.NoError(t, store.Save(ctx, first))

	second := testDecision("txn-1", "user-1", 90, time.Now())
	second.Outcome = decision.OutcomeReject
	require.NoError(t, store.Save(ctx, second))

	got, err := store.GetByTransactionID(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, decision.OutcomeApprove, got.Outcome)
	assert.Equal(t, 10.0, got.RiskScore)
}

func TestMemoryStoreListByUser(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Now()

	for i := 0; i < 5; i++ {
		d := testDecision("txn-"+string(rune('a'+i)), "user-1", float64(i), base.Add(time.Duration(i)*time.Second))
		require.NoError(t, store.Save(ctx, d))
	}
	require.NoError(t, store.Save(ctx, testDecision("txn-other", "user-2", 1, base)))

	decisions, err := store.ListByUser(ctx, "user-1", 3)
	require.NoError(t, err)
	require.Len(t, decisions, 3)

	// Most recent first.
	assert.Equal(t, "txn-e", decisions[0].TransactionID)
	assert.Equal(t, "txn-d", decisions[1].TransactionID)
	assert.Equal(t, "txn-c", decisions[2].TransactionID)
}

func TestMemoryStoreListByUserEmpty(t *testing.T) {
	store := NewMemoryStore()
	decisions, err := store.ListByUser(context.Background(), "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, decisions)
}

func TestMemoryStoreStats(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	old := testDecision("txn-old", "user-1", 5, now.Add(-2*time.Hour))
	old.LatencyMs = 100
	require.NoError(t, store.Save(ctx, old))

	recent := testDecision("txn-new", "user-1", 5, now)
	recent.LatencyMs = 10
	require.NoError(t, store.Save(ctx, recent))

	recent2 := testDecision("txn-new2", "user-2", 5, now)
	recent2.LatencyMs = 20
	require.NoError(t, store.Save(ctx, recent2))

	stats, err := store.Stats(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalDecisions)
	assert.Equal(t, 15.0, stats.AvgLatencyMs)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, testDecision("txn-1", "user-1", 10, time.Now())))

	got, err := store.GetByTransactionID(ctx, "txn-1")
	require.NoError(t, err)
	got.RiskScore = 99
	got.ReasonCodes[0] = "mutated"

	again, err := store.GetByTransactionID(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, again.RiskScore)
	assert.Equal(t, "DEFAULT_APPROVE", again.ReasonCodes[0])
}
