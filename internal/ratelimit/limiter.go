package ratelimit

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidPolicy = errors.New("ratelimit: limit and window must be positive")

// Policy is a fixed-window budget: at most Limit hits per Window per key.
type Policy struct {
	Limit  int
	Window time.Duration
}

func (p Policy) validate() error {
	if p.Limit <= 0 || p.Window <= 0 {
		return ErrInvalidPolicy
	}
	return nil
}

// Decision is the outcome of one counted hit.
type Decision struct {
	Allowed   bool
	Count     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is zero when Allowed.
	RetryAfter time.Duration
}

// Limiter counts hits per key. Every call to Allow counts, allowed or not.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
	// RetryAfter reports how long until key's window resets; zero if the key
	// is not currently limited.
	RetryAfter(ctx context.Context, key string) (time.Duration, error)
}

// RetryAfterSeconds rounds up to whole seconds for the Retry-After header.
// A limited caller always waits at least one second.
func RetryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

func decide(p Policy, count int, resetAt, now time.Time) Decision {
	d := Decision{
		Allowed: count <= p.Limit,
		Count:   count,
		ResetAt: resetAt,
	}
	if rem := p.Limit - count; rem > 0 {
		d.Remaining = rem
	}
	if !d.Allowed {
		d.RetryAfter = resetAt.Sub(now)
		if d.RetryAfter < time.Second {
			d.RetryAfter = time.Second
		}
	}
	return d
}
