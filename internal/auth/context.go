package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxSession ctxKey = iota
	ctxClientIP
)

// WithSession stores verified claims on the request context.
func WithSession(ctx context.Context, c Claims) context.Context {
	return context.WithValue(ctx, ctxSession, c)
}

func SessionFrom(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(ctxSession).(Claims)
	return c, ok && c.UserID != ""
}

func UserID(ctx context.Context) (string, error) {
	if c, ok := SessionFrom(ctx); ok {
		return c.UserID, nil
	}
	return "", errors.New("user id not in context")
}

func TenantID(ctx context.Context) (string, error) {
	if c, ok := SessionFrom(ctx); ok && c.TenantID != "" {
		return c.TenantID, nil
	}
	return "", errors.New("tenant id not in context")
}

func Role(ctx context.Context) (string, error) {
	if c, ok := SessionFrom(ctx); ok && c.ActiveRole != "" {
		return c.ActiveRole, nil
	}
	return "", errors.New("role not in context")
}

// WithClientIP attaches the resolved client IP for audit and rate limiting.
func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxClientIP, ip)
}

func ClientIP(ctx context.Context) string {
	if s, ok := ctx.Value(ctxClientIP).(string); ok {
		return s
	}
	return ""
}
