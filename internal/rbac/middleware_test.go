package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"lms-platform/internal/auth"

	"github.com/gin-gonic/gin"
)

func withSession(tenantID string, role Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := auth.WithSession(c.Request.Context(), auth.Claims{UserID: "u", TenantID: tenantID, ActiveRole: string(role)})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func serve(r *gin.Engine) int {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRequireAnyRole_AllowsListedRole(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", withSession("t", RoleInstructor), RequireTenant(), RequireAnyRole(RoleAdmin, RoleInstructor), func(c *gin.Context) {
		c.Status(200)
	})
	if code := serve(r); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_NoAdminBypass(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", withSession("t", RoleAdmin), RequireTenant(), RequireAnyRole(RoleSuperInstructor), func(c *gin.Context) {
		c.Status(200)
	})
	if code := serve(r); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireAnyRole_UnauthenticatedIs401(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", RequireAnyRole(RoleAdmin), func(c *gin.Context) {
		c.Status(200)
	})
	if code := serve(r); code != 401 {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestRequireTenant_Required(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", withSession("", RoleAdmin), RequireTenant(), RequireAnyRole(RoleAdmin), func(c *gin.Context) {
		c.Status(200)
	})
	if code := serve(r); code != 401 {
		t.Fatalf("expected 401, got %d", code)
	}
}
