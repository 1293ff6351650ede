package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported access-token claims shape for this service.
// Multi-tenant invariant: TenantID must be present on every session.
type Claims struct {
	jwt.RegisteredClaims

	UserID       string    `json:"userId"`
	Email        string    `json:"email,omitempty"`
	ActiveRole   string    `json:"activeRole"`
	TenantID     string    `json:"tenantId"`
	NodeID       string    `json:"nodeId,omitempty"`
	TokenVersion int64     `json:"tokenVersion"`
	TokenType    TokenType `json:"typ"`
}

// RefreshClaims carry only what rotation needs. Role and node are re-read
// from the store on every refresh.
type RefreshClaims struct {
	jwt.RegisteredClaims

	UserID       string    `json:"userId"`
	TenantID     string    `json:"tenantId"`
	FamilyID     string    `json:"fid"`
	TokenVersion int64     `json:"tokenVersion"`
	TokenType    TokenType `json:"typ"`
}
