package ratelimit

import (
	"context"
	"sync"
	"time"
)

const sweepEvery = 1024

type bucket struct {
	count int
	start time.Time
}

// Memory is an in-process fixed-window limiter. Build one per concern; it
// is safe for concurrent use.
type Memory struct {
	policy Policy
	clock  func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	calls   int
}

type MemoryOption func(*Memory)

// WithClock overrides time.Now, for tests.
func WithClock(clock func() time.Time) MemoryOption {
	return func(m *Memory) { m.clock = clock }
}

func NewMemory(p Policy, opts ...MemoryOption) (*Memory, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	m := &Memory{
		policy:  p,
		clock:   time.Now,
		buckets: make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	now := m.clock()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.calls%sweepEvery == 0 {
		m.sweepLocked(now)
	}

	b, ok := m.buckets[key]
	if !ok || m.expired(b, now) {
		b = &bucket{start: now}
		m.buckets[key] = b
	}
	b.count++
	return decide(m.policy, b.count, b.start.Add(m.policy.Window), now), nil
}

func (m *Memory) RetryAfter(_ context.Context, key string) (time.Duration, error) {
	now := m.clock()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok || m.expired(b, now) || b.count <= m.policy.Limit {
		return 0, nil
	}
	return b.start.Add(m.policy.Window).Sub(now), nil
}

// Len reports the number of live buckets.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// The window is over once now reaches start+window; never before.
func (m *Memory) expired(b *bucket, now time.Time) bool {
	return !now.Before(b.start.Add(m.policy.Window))
}

func (m *Memory) sweepLocked(now time.Time) {
	for k, b := range m.buckets {
		if m.expired(b, now) {
			delete(m.buckets, k)
		}
	}
}
