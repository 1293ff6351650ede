package guard

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lms-platform/internal/auth"
	"lms-platform/internal/config"
	"lms-platform/internal/rbac"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTokens(t *testing.T) *auth.Manager {
	t.Helper()
	m, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "edge-secret",
		JWTIssuer:       "lms-auth",
		JWTAudience:     "lms-api",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: time.Hour,
	}, rbac.RoleNames()...)
	require.NoError(t, err)
	return m
}

func sessionFor(t *testing.T, m *auth.Manager, role rbac.Role) string {
	t.Helper()
	tok, _, err := m.SignAccessToken(time.Now(), auth.Claims{
		UserID:     "u-1",
		TenantID:   "t-1",
		ActiveRole: string(role),
	})
	require.NoError(t, err)
	return tok
}

func edgeRequest(target string, cookies map[string]string, headers map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range cookies {
		r.AddCookie(&http.Cookie{Name: k, Value: v})
	}
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestEdge_PublicAndDisabled(t *testing.T) {
	g := NewEdgeGuard(DefaultEdgeConfig(), newTokens(t), nil)

	for _, p := range []string{"/", "/login", "/login/sso", "/api/auth/me", "/_next/static/chunk.js", "/logo.svg", "/files/a", "/healthz"} {
		assert.Equal(t, EdgeAllow, g.Decide(edgeRequest(p, nil, nil)).Action, p)
	}

	d := g.Decide(edgeRequest("/candidate/jobs", nil, nil))
	assert.Equal(t, EdgeRedirect, d.Action)
	assert.Equal(t, "/admin", d.Location)

	d = g.Decide(edgeRequest("/superadmin", map[string]string{auth.SessionCookie: "x"}, nil))
	assert.Equal(t, "/admin", d.Location)
}

func TestEdge_RoleMatrix(t *testing.T) {
	tokens := newTokens(t)
	g := NewEdgeGuard(DefaultEdgeConfig(), tokens, nil)

	cases := []struct {
		role rbac.Role
		path string
		want string // "" means allow
	}{
		{rbac.RoleAdmin, "/admin/users", ""},
		{rbac.RoleAdmin, "/instructor/courses", ""},
		{rbac.RoleAdmin, "/super-instructor", "/admin"},
		{rbac.RoleSuperInstructor, "/admin", "/super-instructor"},
		{rbac.RoleSuperInstructor, "/instructor", ""},
		{rbac.RoleInstructor, "/admin/reports", "/instructor"},
		{rbac.RoleInstructor, "/super-instructor/x", "/instructor"},
		{rbac.RoleLearner, "/instructor", "/learner"},
		{rbac.RoleLearner, "/admin", "/learner"},
		{rbac.RoleLearner, "/learner/catalog", ""},
		{rbac.RoleLearner, "/administrator", ""},
	}
	for _, tc := range cases {
		d := g.Decide(edgeRequest(tc.path, map[string]string{auth.SessionCookie: sessionFor(t, tokens, tc.role)}, nil))
		if tc.want == "" {
			assert.Equal(t, EdgeAllow, d.Action, "%s %s", tc.role, tc.path)
			continue
		}
		assert.Equal(t, EdgeRedirect, d.Action, "%s %s", tc.role, tc.path)
		assert.Equal(t, tc.want, d.Location, "%s %s", tc.role, tc.path)
	}
}

func TestEdge_InvalidSession(t *testing.T) {
	g := NewEdgeGuard(DefaultEdgeConfig(), newTokens(t), nil)

	d := g.Decide(edgeRequest("/admin/users?page=2", nil, nil))
	assert.Equal(t, EdgeRedirect, d.Action)
	assert.Equal(t, "/login?redirect=%2Fadmin%2Fusers", d.Location)

	d = g.Decide(edgeRequest("/admin/users?page=2", map[string]string{auth.SessionCookie: "expired", auth.RefreshCookie: "r"}, nil))
	assert.Equal(t, EdgeRedirect, d.Action)
	assert.Equal(t, "/api/auth/refresh-and-redirect?redirect=%2Fadmin%2Fusers%3Fpage%3D2", d.Location)
}

func TestEdge_PrefetchNeverRefreshes(t *testing.T) {
	g := NewEdgeGuard(DefaultEdgeConfig(), newTokens(t), nil)
	refresh := map[string]string{auth.RefreshCookie: "r"}

	for _, h := range []map[string]string{
		{"Next-Router-Prefetch": "1"},
		{"Purpose": "prefetch"},
		{"Sec-Purpose": "prefetch"},
		{"Accept": "text/x-component"},
		{"RSC": "1"},
		{"Next-Router-State-Tree": "%5B%22%22%5D"},
	} {
		assert.Equal(t, EdgeAllow, g.Decide(edgeRequest("/admin", refresh, h)).Action, h)
		assert.Equal(t, EdgeAllow, g.Decide(edgeRequest("/admin", nil, h)).Action, h)
	}
	assert.Equal(t, EdgeAllow, g.Decide(edgeRequest("/admin?_rsc=abc", refresh, nil)).Action)
}

func TestEdge_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	g := NewEdgeGuard(DefaultEdgeConfig(), newTokens(t), nil)

	r := gin.New()
	r.Use(g.Middleware())
	r.GET("/admin", func(c *gin.Context) { c.String(http.StatusOK, "dashboard") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, edgeRequest("/admin", nil, nil))
	assert.Equal(t, http.StatusTemporaryRedirect, w.Code)
	assert.Equal(t, "/login?redirect=%2Fadmin", w.Header().Get("Location"))
}

func TestHasPrefixSegment(t *testing.T) {
	assert.True(t, hasPrefixSegment("/admin", "/admin"))
	assert.True(t, hasPrefixSegment("/admin/x", "/admin"))
	assert.False(t, hasPrefixSegment("/administrator", "/admin"))
	assert.False(t, hasPrefixSegment("/adm", "/admin"))
}
