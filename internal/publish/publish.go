// Package publish delivers decision results to downstream consumers.
//
// Delivery is best-effort: the decision pipeline never blocks or fails on
// publish errors, it only records them.
package publish

import (
	"context"
	"sync"
)

// Message is a single record on a topic. Key carries the partition/routing
// key (the transaction id for decision results).
type Message struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// Publisher sends messages to a named topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, key string, value []byte) error
	Close() error
}

// MemoryPublisher collects published messages in memory. Used in tests and
// when no downstream endpoint is configured.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages map[string][]Message
}

// NewMemoryPublisher creates an empty in-memory publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{messages: make(map[string][]Message)}
}

func (m *MemoryPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.messages[topic] = append(m.messages[topic], Message{Key: key, Value: v})
	return nil
}

func (m *MemoryPublisher) Close() error { return nil }

// Messages returns a copy of everything published to topic.
func (m *MemoryPublisher) Messages(topic string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.messages[topic]))
	copy(out, m.messages[topic])
	return out
}
