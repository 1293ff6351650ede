package main

import (
	"context"

	"lms-platform/internal/config"
	"lms-platform/internal/ratelimit"
	"lms-platform/internal/session"
	"lms-platform/pkg/utils"
)

// buildLimiters picks the counter backend. The returned func releases any
// connection it opened.
func buildLimiters(ctx context.Context, cfg config.Config) (session.Limiters, func(), error) {
	rl := cfg.RateLimit
	policy := func(w config.Window) ratelimit.Policy {
		return ratelimit.Policy{Limit: w.Max, Window: w.Window}
	}

	if rl.Backend != "redis" {
		login, err := ratelimit.NewMemory(policy(rl.Login))
		if err != nil {
			return session.Limiters{}, nil, err
		}
		refresh, err := ratelimit.NewMemory(policy(rl.Refresh))
		if err != nil {
			return session.Limiters{}, nil, err
		}
		switchNode, err := ratelimit.NewMemory(policy(rl.SwitchNode))
		if err != nil {
			return session.Limiters{}, nil, err
		}
		return session.Limiters{Login: login, Refresh: refresh, SwitchNode: switchNode}, func() {}, nil
	}

	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		return session.Limiters{}, nil, err
	}
	closeFn := func() { _ = rdb.Close() }

	login, err := ratelimit.NewRedis(rdb, "rl:login:", policy(rl.Login))
	if err != nil {
		closeFn()
		return session.Limiters{}, nil, err
	}
	refresh, err := ratelimit.NewRedis(rdb, "rl:refresh:", policy(rl.Refresh))
	if err != nil {
		closeFn()
		return session.Limiters{}, nil, err
	}
	switchNode, err := ratelimit.NewRedis(rdb, "rl:switch-node:", policy(rl.SwitchNode))
	if err != nil {
		closeFn()
		return session.Limiters{}, nil, err
	}
	return session.Limiters{Login: login, Refresh: refresh, SwitchNode: switchNode}, closeFn, nil
}
