package auth

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies failures that reach the client.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidCredentials
	KindAccountDisabled
	KindNotVerified
	KindRateLimited
	KindNoToken
	KindTokenExpired
	KindTokenInvalid
	KindTokenRevoked
	KindReuseDetected
	KindUserInactive
	KindUnauthenticated
	KindForbidden
	KindNodeInactive
	KindNotFound
	KindValidation
)

var kindNames = map[Kind]string{
	KindInternal:           "internal",
	KindInvalidCredentials: "invalid_credentials",
	KindAccountDisabled:    "account_disabled",
	KindNotVerified:        "not_verified",
	KindRateLimited:        "rate_limited",
	KindNoToken:            "no_token",
	KindTokenExpired:       "token_expired",
	KindTokenInvalid:       "token_invalid",
	KindTokenRevoked:       "token_revoked",
	KindReuseDetected:      "reuse_detected",
	KindUserInactive:       "user_inactive",
	KindUnauthenticated:    "unauthenticated",
	KindForbidden:          "forbidden",
	KindNodeInactive:       "node_inactive",
	KindNotFound:           "not_found",
	KindValidation:         "validation_failed",
}

// String is used as the audit "reason" and metrics label.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Error is the typed failure returned by auth, session and guard code.
type Error struct {
	Kind    Kind
	Message string

	// RetryAfter is set for KindRateLimited.
	RetryAfter time.Duration
	// Fields holds per-field messages for KindValidation.
	Fields map[string]string
	// Detail is only surfaced outside production (e.g. the missing permission).
	Detail string

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func WrapError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func RateLimited(retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Message: "Too many requests", RetryAfter: retryAfter}
}

// KindOf returns the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
