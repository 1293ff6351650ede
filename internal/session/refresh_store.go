package session

import (
	"context"
	"errors"
	"time"
)

var (
	ErrRefreshNotFound = errors.New("session: refresh token not found")
	// ErrRefreshReused means the record was already rotated.
	ErrRefreshReused = errors.New("session: refresh token reused")
	// ErrRefreshRevoked means the record was revoked by logout or revocation.
	ErrRefreshRevoked = errors.New("session: refresh token revoked")
	ErrRefreshExpired = errors.New("session: refresh token expired")
)

// RefreshRecord is the server-side state of one refresh token. A family is
// every token descended from one login.
type RefreshRecord struct {
	ID           string     `json:"id" db:"id"`
	FamilyID     string     `json:"familyId" db:"family_id"`
	UserID       string     `json:"userId" db:"user_id"`
	TenantID     string     `json:"tenantId" db:"tenant_id"`
	TokenVersion int64      `json:"tokenVersion" db:"token_version"`
	IssuedAt     time.Time  `json:"issuedAt" db:"issued_at"`
	ExpiresAt    time.Time  `json:"expiresAt" db:"expires_at"`
	RotatedAt    *time.Time `json:"rotatedAt,omitempty" db:"rotated_at"`
	ReplacedBy   string     `json:"replacedBy,omitempty" db:"replaced_by"`
	RevokedAt    *time.Time `json:"revokedAt,omitempty" db:"revoked_at"`
	IPAddress    string     `json:"ipAddress,omitempty" db:"ip_address"`
	UserAgent    string     `json:"userAgent,omitempty" db:"user_agent"`
}

// RefreshStore persists refresh records.
type RefreshStore interface {
	Create(ctx context.Context, r RefreshRecord) error
	// Rotate marks oldID rotated and inserts next in one atomic step. Exactly
	// one concurrent caller succeeds; the rest get ErrRefreshReused.
	Rotate(ctx context.Context, oldID string, next RefreshRecord, now time.Time) error
	Revoke(ctx context.Context, id string, now time.Time) error
	RevokeFamily(ctx context.Context, familyID string, now time.Time) error
	RevokeUser(ctx context.Context, tenantID, userID string, now time.Time) error
}
