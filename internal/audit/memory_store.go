package audit

import (
	"context"
	"sync"
	"time"

	"github.com/txscreen/txscreen/internal/decision"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu     sync.RWMutex
	byTxn  map[string]*decision.Decision
	byUser map[string][]*decision.Decision // insertion order
}

// NewMemoryStore creates an in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byTxn:  make(map[string]*decision.Decision),
		byUser: make(map[string][]*decision.Decision),
	}
}

func (s *MemoryStore) Save(ctx context.Context, d *decision.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byTxn[d.TransactionID]; exists {
		return nil // First write wins; redelivery is harmless here.
	}

	cp := copyDecision(d)
	s.byTxn[d.TransactionID] = cp
	s.byUser[d.UserID] = append(s.byUser[d.UserID], cp)
	return nil
}

func (s *MemoryStore) GetByTransactionID(ctx context.Context, transactionID string) (*decision.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.byTxn[transactionID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDecision(d), nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]*decision.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.byUser[userID]
	if len(all) == 0 {
		return nil, nil
	}

	start := len(all) - limit
	if limit <= 0 || start < 0 {
		start = 0
	}

	// Most recent first.
	result := make([]*decision.Decision, 0, len(all)-start)
	for i := len(all) - 1; i >= start; i-- {
		result = append(result, copyDecision(all[i]))
	}
	return result, nil
}

func (s *MemoryStore) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{TotalDecisions: int64(len(s.byTxn))}

	var recent int64
	var latencySum int64
	for _, d := range s.byTxn {
		if !d.DecidedAt.Before(since) {
			recent++
			latencySum += d.LatencyMs
		}
	}
	if recent > 0 {
		stats.AvgLatencyMs = float64(latencySum) / float64(recent)
	}
	return stats, nil
}

func copyDecision(d *decision.Decision) *decision.Decision {
	cp := *d
	cp.ReasonCodes = append([]string(nil), d.ReasonCodes...)
	return &cp
}
