package guard

import (
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"lms-platform/internal/auth"
	"lms-platform/internal/metrics"
	"lms-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// RoleRoute restricts a page prefix to a set of roles.
type RoleRoute struct {
	Prefix string
	Roles  []rbac.Role
}

// EdgeConfig drives the page-level guard. Prefixes match whole path segments.
type EdgeConfig struct {
	PublicPrefixes []string
	// PublicExact lists paths that are public only when matched exactly.
	PublicExact []string

	DisabledPrefixes []string
	DisabledFallback string

	// RoleRoutes are checked in order; the first matching prefix wins.
	RoleRoutes []RoleRoute

	LoginPath           string
	RefreshRedirectPath string
}

func DefaultEdgeConfig() EdgeConfig {
	return EdgeConfig{
		PublicPrefixes: []string{
			"/login", "/signup", "/reset-password", "/forgot-password",
			"/api", "/healthz", "/metrics",
			"/_next", "/static", "/favicon.ico", "/files",
		},
		PublicExact:      []string{"/"},
		DisabledPrefixes: []string{"/candidate", "/superadmin"},
		DisabledFallback: "/admin",
		RoleRoutes: []RoleRoute{
			{Prefix: "/super-instructor", Roles: []rbac.Role{rbac.RoleSuperInstructor}},
			{Prefix: "/admin", Roles: []rbac.Role{rbac.RoleAdmin}},
			{Prefix: "/instructor", Roles: []rbac.Role{rbac.RoleAdmin, rbac.RoleSuperInstructor, rbac.RoleInstructor}},
		},
		LoginPath:           "/login",
		RefreshRedirectPath: "/api/auth/refresh-and-redirect",
	}
}

// LightVerifier is the signature-only half of the token codec.
type LightVerifier interface {
	VerifyAccessTokenLight(token string, now time.Time) (auth.Claims, error)
}

type EdgeAction int

const (
	EdgeAllow EdgeAction = iota
	EdgeRedirect
)

// EdgeDecision is the outcome for one page request.
type EdgeDecision struct {
	Action   EdgeAction
	Location string
	// Reason labels denials for metrics.
	Reason string
}

// EdgeGuard decides page access from cookies alone. It never touches the
// credential store and never rotates tokens itself.
type EdgeGuard struct {
	cfg     EdgeConfig
	tokens  LightVerifier
	metrics *metrics.Metrics
	clock   func() time.Time
}

func NewEdgeGuard(cfg EdgeConfig, tokens LightVerifier, m *metrics.Metrics) *EdgeGuard {
	return &EdgeGuard{cfg: cfg, tokens: tokens, metrics: m, clock: time.Now}
}

// Middleware applies Decide to every request.
func (g *EdgeGuard) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		d := g.Decide(c.Request)
		if d.Action == EdgeRedirect {
			g.metrics.GuardDenied("edge_" + d.Reason)
			c.Redirect(http.StatusTemporaryRedirect, d.Location)
			c.Abort()
			return
		}
		c.Next()
	}
}

func (g *EdgeGuard) Decide(r *http.Request) EdgeDecision {
	p := r.URL.Path
	if p == "" {
		p = "/"
	}

	if matchAny(p, g.cfg.DisabledPrefixes) {
		return EdgeDecision{Action: EdgeRedirect, Location: g.cfg.DisabledFallback, Reason: "disabled"}
	}
	if g.isPublic(p) {
		return EdgeDecision{Action: EdgeAllow}
	}

	var (
		claims auth.Claims
		valid  bool
	)
	if ck, err := r.Cookie(auth.SessionCookie); err == nil && ck.Value != "" {
		if c, err := g.tokens.VerifyAccessTokenLight(ck.Value, g.clock()); err == nil {
			claims, valid = c, true
		}
	}

	if !valid {
		// Speculative requests must never start a refresh; let them through.
		if IsPrefetch(r) {
			return EdgeDecision{Action: EdgeAllow}
		}
		if ck, err := r.Cookie(auth.RefreshCookie); err == nil && ck.Value != "" {
			q := url.Values{"redirect": {r.URL.RequestURI()}}
			return EdgeDecision{Action: EdgeRedirect, Location: g.cfg.RefreshRedirectPath + "?" + q.Encode(), Reason: "refresh"}
		}
		q := url.Values{"redirect": {p}}
		return EdgeDecision{Action: EdgeRedirect, Location: g.cfg.LoginPath + "?" + q.Encode(), Reason: "login"}
	}

	role := rbac.Role(claims.ActiveRole)
	for _, rr := range g.cfg.RoleRoutes {
		if !hasPrefixSegment(p, rr.Prefix) {
			continue
		}
		if !rbac.HasRole(role, rr.Roles...) {
			return EdgeDecision{Action: EdgeRedirect, Location: landing(role), Reason: "role"}
		}
		break
	}
	return EdgeDecision{Action: EdgeAllow}
}

func (g *EdgeGuard) isPublic(p string) bool {
	for _, e := range g.cfg.PublicExact {
		if p == e {
			return true
		}
	}
	if matchAny(p, g.cfg.PublicPrefixes) {
		return true
	}
	// Static assets: anything whose last segment carries an extension.
	return strings.Contains(path.Base(p), ".")
}

// IsPrefetch reports router prefetches and partial (RSC) renders.
func IsPrefetch(r *http.Request) bool {
	h := r.Header
	switch {
	case h.Get("Next-Router-Prefetch") == "1",
		strings.EqualFold(h.Get("Purpose"), "prefetch"),
		strings.EqualFold(h.Get("Sec-Purpose"), "prefetch"),
		strings.Contains(h.Get("Accept"), "text/x-component"),
		h.Get("RSC") == "1",
		h.Get("Next-Router-State-Tree") != "":
		return true
	}
	return r.URL.Query().Has("_rsc")
}

func landing(r rbac.Role) string {
	if l := rbac.LandingRoute(r); l != "/login" {
		return l
	}
	return rbac.LandingRoute(rbac.RoleLearner)
}

func matchAny(p string, prefixes []string) bool {
	for _, pre := range prefixes {
		if hasPrefixSegment(p, pre) {
			return true
		}
	}
	return false
}

// hasPrefixSegment matches "/admin" against "/admin" and "/admin/x" but not "/administrator".
func hasPrefixSegment(p, prefix string) bool {
	if !strings.HasPrefix(p, prefix) {
		return false
	}
	return len(p) == len(prefix) || p[len(prefix)] == '/' || strings.HasSuffix(prefix, "/")
}
