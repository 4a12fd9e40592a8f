package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Backend. Sorted sets keep their members ordered by
// score so range counts are two binary searches, not a scan.
type Memory struct {
	mu      sync.RWMutex
	scalars map[string]*scalarEntry
	zsets   map[string]*zset
	now     func() time.Time
}

type scalarEntry struct {
	value     []byte
	expiresAt time.Time // zero = no expiry
}

type zset struct {
	members   []zmember // ordered by score ascending
	scores    map[string]float64
	expiresAt time.Time
}

type zmember struct {
	member string
	score  float64
}

// NewMemory creates an empty in-process backend.
func NewMemory() *Memory {
	return &Memory{
		scalars: make(map[string]*scalarEntry),
		zsets:   make(map[string]*zset),
		now:     time.Now,
	}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	e, ok := m.scalars[key]
	m.mu.RUnlock()
	if !ok || m.expired(e.expiresAt) {
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v := make([]byte, len(value))
	copy(v, value)
	e := &scalarEntry{value: v}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.scalars[key] = e
	m.mu.Unlock()
	return nil
}

func (m *Memory) ZAdd(ctx context.Context, key, member string, score float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	z := m.liveZSet(key)
	if z == nil {
		z = &zset{scores: make(map[string]float64)}
		m.zsets[key] = z
	}
	if old, ok := z.scores[member]; ok {
		z.removeMember(member, old)
	}
	z.scores[member] = score
	i := sort.Search(len(z.members), func(i int) bool { return z.members[i].score >= score })
	z.members = append(z.members, zmember{})
	copy(z.members[i+1:], z.members[i:])
	z.members[i] = zmember{member: member, score: score}
	return nil
}

func (m *Memory) ZCount(ctx context.Context, key string, min, max float64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	z, ok := m.zsets[key]
	if !ok || m.expired(z.expiresAt) {
		return 0, nil
	}
	lo := sort.Search(len(z.members), func(i int) bool { return z.members[i].score >= min })
	hi := sort.Search(len(z.members), func(i int) bool { return z.members[i].score > max })
	return hi - lo, nil
}

func (m *Memory) ZRemoveRangeByScore(ctx context.Context, key string, min, max float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	z := m.liveZSet(key)
	if z == nil {
		return nil
	}
	lo := sort.Search(len(z.members), func(i int) bool { return z.members[i].score >= min })
	hi := sort.Search(len(z.members), func(i int) bool { return z.members[i].score > max })
	for _, mb := range z.members[lo:hi] {
		delete(z.scores, mb.member)
	}
	z.members = append(z.members[:lo], z.members[hi:]...)
	if len(z.members) == 0 {
		delete(m.zsets, key)
	}
	return nil
}

func (m *Memory) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	deadline := m.now().Add(ttl)
	if e, ok := m.scalars[key]; ok && !m.expired(e.expiresAt) {
		e.expiresAt = deadline
	}
	if z := m.liveZSet(key); z != nil {
		z.expiresAt = deadline
	}
	return nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

// liveZSet returns the sorted set at key, dropping it if expired.
// Caller must hold m.mu for writing.
func (m *Memory) liveZSet(key string) *zset {
	z, ok := m.zsets[key]
	if !ok {
		return nil
	}
	if m.expired(z.expiresAt) {
		delete(m.zsets, key)
		return nil
	}
	return z
}

func (m *Memory) expired(at time.Time) bool {
	return !at.IsZero() && m.now().After(at)
}

func (z *zset) removeMember(member string, score float64) {
	i := sort.Search(len(z.members), func(i int) bool { return z.members[i].score >= score })
	for i < len(z.members) && z.members[i].score == score {
		if z.members[i].member == member {
			z.members = append(z.members[:i], z.members[i+1:]...)
			break
		}
		i++
	}
	delete(z.scores, member)
}
