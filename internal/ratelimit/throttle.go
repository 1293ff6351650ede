package ratelimit

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const visitorIdle = 10 * time.Minute

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

// Throttle is a per-client-IP token bucket for the whole API surface.
type Throttle struct {
	limit rate.Limit
	burst int
	clock func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
	calls    int
}

func NewThrottle(perSecond float64, burst int) *Throttle {
	if burst < 1 {
		burst = 1
	}
	return &Throttle{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		clock:    time.Now,
		visitors: make(map[string]*visitor),
	}
}

// Allow reports whether ip may proceed, and if not, how long to wait.
func (t *Throttle) Allow(ip string) (bool, time.Duration) {
	if ip == "" {
		ip = "unknown"
	}
	now := t.clock()

	t.mu.Lock()
	t.calls++
	if t.calls%sweepEvery == 0 {
		for k, v := range t.visitors {
			if now.Sub(v.seen) > visitorIdle {
				delete(t.visitors, k)
			}
		}
	}
	v, ok := t.visitors[ip]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(t.limit, t.burst)}
		t.visitors[ip] = v
	}
	v.seen = now
	t.mu.Unlock()

	if v.lim.AllowN(now, 1) {
		return true, 0
	}
	wait := time.Second
	if t.limit > 0 {
		wait = time.Duration(float64(time.Second) / float64(t.limit))
	}
	return false, wait
}

// Middleware rejects over-budget clients via onLimit, which must write the response.
func (t *Throttle) Middleware(onLimit func(c *gin.Context, retryAfter time.Duration)) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := t.Allow(c.ClientIP())
		if !ok {
			onLimit(c, wait)
			c.Abort()
			return
		}
		c.Next()
	}
}
