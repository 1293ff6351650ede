package audit

import (
	"context"
	"sync"
)

// MemoryRepo is a simple in-memory append-only repository useful for tests.
// It is not intended for production use.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *MemoryRepo) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns events of the given type, oldest first.
func (r *MemoryRepo) OfType(t EventType) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *MemoryRepo) RecentLogins(_ context.Context, q LoginQuery) ([]Login, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Login
	for i := len(r.events) - 1; i >= 0 && len(out) < q.Limit; i-- {
		e := r.events[i]
		if e.Type != EventLoginSuccess || e.TenantID != q.TenantID {
			continue
		}
		if q.UserID != "" && e.UserID != q.UserID {
			continue
		}
		out = append(out, Login{Event: e})
	}
	return out, nil
}
