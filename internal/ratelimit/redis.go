package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript counts one hit and returns {count, pttl_ms}.
var fixedWindowScript = redis.NewScript(`
-- KEYS[1] = counter key
-- ARGV[1] = window_ms (int)
local current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  -- Key lost its TTL; restart the window rather than limit forever.
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// Redis is a fixed-window limiter shared across processes.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
	policy Policy
	clock  func() time.Time
}

// NewRedis builds a limiter whose keys live under prefix (e.g. "rl:login:").
func NewRedis(rdb redis.UniversalClient, prefix string, p Policy) (*Redis, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if rdb == nil {
		return nil, fmt.Errorf("ratelimit: redis client is required")
	}
	return &Redis{rdb: rdb, prefix: prefix, policy: p, clock: time.Now}, nil
}

func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := fixedWindowScript.Run(ctx, r.rdb, []string{r.prefix + key}, r.policy.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis allow: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script result %v", res)
	}
	now := r.clock()
	resetAt := now.Add(time.Duration(res[1]) * time.Millisecond)
	return decide(r.policy, int(res[0]), resetAt, now), nil
}

func (r *Redis) RetryAfter(ctx context.Context, key string) (time.Duration, error) {
	k := r.prefix + key
	count, err := r.rdb.Get(ctx, k).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ratelimit: redis get: %w", err)
	}
	if count <= r.policy.Limit {
		return 0, nil
	}
	ttl, err := r.rdb.PTTL(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("ratelimit: redis pttl: %w", err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}
