package users

import (
	"context"
	"time"
)

// Store is the credential store contract. Lookups by id are global because
// ids are unique across tenants; mutations are always tenant-scoped.
type Store interface {
	FindUserByEmail(ctx context.Context, email string) (User, error)
	FindUserByID(ctx context.Context, userID string) (User, error)
	UpdateLastLogin(ctx context.Context, tenantID, userID string, at time.Time) error
	// BumpTokenVersion atomically increments and returns the new version.
	BumpTokenVersion(ctx context.Context, tenantID, userID string) (int64, error)
	// SessionState backs full token verification.
	SessionState(ctx context.Context, userID string) (version int64, active bool, found bool, err error)
	FindNode(ctx context.Context, tenantID, nodeID string) (Node, error)
}
