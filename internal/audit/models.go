package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
//   - Events are never updated or deleted.
//   - tenant_id is required once a tenant is known; only pre-authentication
//     events (failed logins, rejected refreshes) may omit it.
//   - ip and user agent capture are best-effort.
//
// Storage (Postgres): table auth_audit_log with an INSERT-only policy.
type Event struct {
	ID       string    `json:"id" db:"id"`
	TenantID string    `json:"tenantId,omitempty" db:"tenant_id"`
	Type     EventType `json:"eventType" db:"event_type"`
	Severity Severity  `json:"severity" db:"severity"`

	// UserID is the user the event is about (the actor for self-service flows).
	UserID string `json:"userId,omitempty" db:"user_id"`
	// TargetUserID is set when an admin acts on another account.
	TargetUserID string `json:"targetUserId,omitempty" db:"target_user_id"`

	IPAddress string `json:"ipAddress,omitempty" db:"ip_address"`
	UserAgent string `json:"userAgent,omitempty" db:"user_agent"`

	Metadata map[string]any `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

type EventType string

const (
	EventLoginSuccess         EventType = "LOGIN_SUCCESS"
	EventLoginFail            EventType = "LOGIN_FAIL"
	EventLogout               EventType = "LOGOUT"
	EventLogoutAll            EventType = "LOGOUT_ALL"
	EventTokenRefresh         EventType = "TOKEN_REFRESH"
	EventRefreshFailed        EventType = "REFRESH_FAILED"
	EventRefreshReuseDetected EventType = "REFRESH_REUSE_DETECTED"
	EventNodeSwitch           EventType = "NODE_SWITCH"
	EventSessionRevoke        EventType = "SESSION_REVOKE"
	EventRateLimitExceeded    EventType = "RATE_LIMIT_EXCEEDED"
	EventUnauthorizedAccess   EventType = "UNAUTHORIZED_ACCESS"
	EventAPIAccess            EventType = "API_ACCESS"
)

// Events that can legitimately happen before a tenant is known.
var preAuthEvents = map[EventType]struct{}{
	EventLoginFail:          {},
	EventRefreshFailed:      {},
	EventRateLimitExceeded:  {},
	EventUnauthorizedAccess: {},
}

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// SeverityOf classifies an event type for alerting.
func SeverityOf(t EventType) Severity {
	switch t {
	case EventRefreshReuseDetected:
		return SeverityCritical
	case EventLoginFail, EventRefreshFailed, EventRateLimitExceeded, EventUnauthorizedAccess, EventSessionRevoke:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
