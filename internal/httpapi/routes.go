package httpapi

import (
	"lms-platform/internal/audit"
	"lms-platform/internal/auth"
	"lms-platform/internal/guard"
	"lms-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register mounts the auth API under api (normally the "/api" group).
// Revocation-sensitive routes use full verification; the rest trust the
// signature until expiry.
func (h Handlers) Register(api *gin.RouterGroup, g *guard.Guard) {
	public := guard.Options{Public: true}

	a := api.Group("/auth")
	{
		a.POST("/login", g.Wrap(public, h.Login))
		a.POST("/logout", g.Wrap(public, h.Logout))
		a.POST("/refresh", g.Wrap(public, h.Refresh))
		a.GET("/refresh-and-redirect", g.Wrap(public, h.RefreshAndRedirect))

		a.GET("/me", g.Wrap(guard.Options{Verify: auth.VerifyFull}, h.Me))
		a.GET("/permissions", g.RequireAuth(h.Permissions))
		a.POST("/logout-all", g.Wrap(guard.Options{Verify: auth.VerifyFull}, h.LogoutAll))
		a.POST("/switch-node", g.Wrap(guard.Options{TenantScoped: true}, h.SwitchNode))
	}

	// The admin group is gated by full verification and role before the
	// per-route permission check runs.
	admin := api.Group("/admin/security")
	admin.Use(auth.RequireSession(h.Tokens, h.Versions))
	admin.Use(rbac.RequireTenant())
	admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
	{
		admin.GET("/sessions", g.Wrap(guard.Options{
			Permission:   rbac.PermSessionsRead,
			TenantScoped: true,
			AuditEvent:   audit.EventAPIAccess,
		}, h.ListSessions))
		admin.DELETE("/sessions", g.Wrap(guard.Options{
			Permission:   rbac.PermSessionsRevoke,
			TenantScoped: true,
		}, h.RevokeSessions))
	}
}
