package auth

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RequireSession verifies the access token (cookie or bearer) with full
// verification and injects the session into request context.
// It does not perform RBAC checks; those belong to internal/rbac.
func RequireSession(m *Manager, src VersionSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := m.VerifyAccessTokenFull(c.Request.Context(), SessionToken(c), time.Now(), src)
		if err != nil {
			status := http.StatusUnauthorized
			msg := "Authentication required"
			if KindOf(err) == KindInternal {
				status = http.StatusInternalServerError
				msg = "Internal server error"
				_ = c.Error(err)
			}
			c.AbortWithStatusJSON(status, gin.H{"error": "UNAUTHORIZED", "message": msg})
			return
		}

		ctx := WithSession(c.Request.Context(), claims)
		c.Request = c.Request.WithContext(ctx)

		// Also store on gin context for handler convenience.
		c.Set("user_id", claims.UserID)
		c.Set("tenant_id", claims.TenantID)
		c.Set("role", claims.ActiveRole)

		c.Next()
	}
}
