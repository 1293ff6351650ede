package users

import (
	"errors"
	"time"

	"lms-platform/internal/rbac"
)

var ErrNotFound = errors.New("not found")

// User is the credential-store view of an account.
type User struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenantId" db:"tenant_id"`
	Email    string `json:"email" db:"email"`

	Username  string `json:"username" db:"username"`
	FirstName string `json:"firstName" db:"first_name"`
	LastName  string `json:"lastName" db:"last_name"`
	Avatar    string `json:"avatar,omitempty" db:"avatar"`

	PasswordHash string `json:"-" db:"password_hash"`

	ActiveRole rbac.Role      `json:"activeRole" db:"active_role"`
	Roles      []rbac.Role    `json:"roles" db:"roles"`
	Overrides  rbac.Overrides `json:"-" db:"rbac_overrides"`

	// TokenVersion is bumped to invalidate every outstanding session.
	TokenVersion int64 `json:"-" db:"token_version"`

	// NodeID is the selected branch; NodeIDs are the branches the user may switch to.
	NodeID  string   `json:"nodeId,omitempty" db:"node_id"`
	NodeIDs []string `json:"-" db:"node_ids"`

	Active   bool `json:"-" db:"is_active"`
	Verified bool `json:"-" db:"is_verified"`
	Disabled bool `json:"-" db:"is_disabled"`

	LastLoginAt *time.Time `json:"-" db:"last_login_at"`
}

// CanSignIn reports whether the account may hold sessions at all.
func (u User) CanSignIn() bool {
	return u.Active && !u.Disabled
}

// Subject is the user's input to permission resolution.
func (u User) Subject() rbac.Subject {
	return rbac.Subject{ActiveRole: u.ActiveRole, Roles: u.Roles, Overrides: u.Overrides}
}

// AssignedTo reports whether the user is explicitly assigned to nodeID.
func (u User) AssignedTo(nodeID string) bool {
	if nodeID == "" {
		return false
	}
	if u.NodeID == nodeID {
		return true
	}
	for _, n := range u.NodeIDs {
		if n == nodeID {
			return true
		}
	}
	return false
}

// Node is a branch within a tenant.
type Node struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenantId" db:"tenant_id"`
	Name     string `json:"name" db:"name"`
	Active   bool   `json:"active" db:"is_active"`
}
