package guard

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"lms-platform/internal/audit"
	"lms-platform/internal/auth"
	"lms-platform/internal/metrics"
	"lms-platform/internal/rbac"
	"lms-platform/internal/users"

	"github.com/gin-gonic/gin"
)

// Authenticator resolves the current session from an access token.
type Authenticator interface {
	Authenticate(ctx context.Context, token string, mode auth.Verification) (auth.Claims, error)
}

// UserFinder loads the permission overrides of the session's user.
type UserFinder interface {
	FindUserByID(ctx context.Context, userID string) (users.User, error)
}

type Auditor interface {
	Record(ctx context.Context, e audit.Event)
}

type Config struct {
	Authenticator Authenticator
	Users         UserFinder
	Resolver      *rbac.Resolver
	Audit         Auditor
	Metrics       *metrics.Metrics
	Log           *slog.Logger
	Production    bool
}

// Guard wraps API handlers with authentication, authorization and error
// translation.
type Guard struct {
	authn      Authenticator
	users      UserFinder
	resolver   *rbac.Resolver
	audit      Auditor
	metrics    *metrics.Metrics
	log        *slog.Logger
	production bool
}

func New(cfg Config) *Guard {
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = rbac.DefaultResolver()
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Guard{
		authn:      cfg.Authenticator,
		users:      cfg.Users,
		resolver:   resolver,
		audit:      cfg.Audit,
		metrics:    cfg.Metrics,
		log:        log,
		production: cfg.Production,
	}
}

// Options declares what a route requires.
type Options struct {
	// Public skips authentication; a valid session is still attached if present.
	Public bool
	// Roles, when set, restricts the active role.
	Roles []rbac.Role
	// Permission must be present in the resolved set.
	Permission rbac.Permission
	// AnyPermissions requires at least one of the listed permissions.
	AnyPermissions []rbac.Permission
	// Verify selects light or full token verification.
	Verify auth.Verification
	// TenantScoped injects the session tenant into the request context for
	// downstream queries.
	TenantScoped bool
	// AuditEvent is recorded after the handler succeeds.
	AuditEvent audit.EventType
}

// HandlerFunc is a guarded handler. Returned errors are translated by WriteError.
type HandlerFunc func(c *gin.Context, gc *Context) error

// Context is the per-request view handed to guarded handlers.
type Context struct {
	Session       auth.Claims
	Authenticated bool
	TenantID      string
	NodeID        string

	guard *Guard
	ctx   context.Context

	perms    rbac.Set
	permsErr error
	loaded   bool
}

// Permissions resolves the session's effective permissions once per request.
func (gc *Context) Permissions() (rbac.Set, error) {
	if gc.loaded {
		return gc.perms, gc.permsErr
	}
	gc.loaded = true
	if !gc.Authenticated {
		gc.perms = rbac.NewSet()
		return gc.perms, nil
	}

	u, err := gc.guard.users.FindUserByID(gc.ctx, gc.Session.UserID)
	switch {
	case errors.Is(err, users.ErrNotFound), err == nil && u.TenantID != gc.TenantID:
		gc.permsErr = auth.NewError(auth.KindTokenRevoked, "Session has been revoked")
	case err != nil:
		gc.permsErr = auth.WrapError(auth.KindInternal, "permission lookup failed", err)
	default:
		sub := u.Subject()
		sub.ActiveRole = rbac.Role(gc.Session.ActiveRole)
		gc.perms = gc.guard.resolver.Resolve(sub)
	}
	return gc.perms, gc.permsErr
}

// Can reports whether the session holds p. Lookup failures deny.
func (gc *Context) Can(p rbac.Permission) bool {
	set, err := gc.Permissions()
	return err == nil && set.Has(p)
}

// Scope hides resources of other tenants behind a 404.
func (gc *Context) Scope(resourceTenantID string) error {
	if resourceTenantID == "" || resourceTenantID != gc.TenantID {
		return auth.NewError(auth.KindNotFound, "Not found")
	}
	return nil
}

// RequireNodeScope returns the node downstream queries must filter on.
// ADMIN sessions are tenant-wide and get "".
func (gc *Context) RequireNodeScope() (string, error) {
	if rbac.IsAdmin(rbac.Role(gc.Session.ActiveRole)) {
		return "", nil
	}
	if gc.NodeID == "" {
		return "", auth.NewError(auth.KindForbidden, "No node selected")
	}
	return gc.NodeID, nil
}

// RequireAuth guards h with authentication only.
func (g *Guard) RequireAuth(h HandlerFunc) gin.HandlerFunc {
	return g.Wrap(Options{}, h)
}

func (g *Guard) Wrap(opts Options, h HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		gc := &Context{guard: g, ctx: c.Request.Context()}

		claims, err := g.authn.Authenticate(c.Request.Context(), auth.SessionToken(c), opts.Verify)
		switch {
		case err == nil:
			gc.Session = claims
			gc.Authenticated = true
			gc.TenantID = claims.TenantID
			gc.NodeID = claims.NodeID
		case opts.Public:
		default:
			g.metrics.GuardDenied(auth.KindOf(err).String())
			g.WriteError(c, err)
			return
		}

		if gc.Authenticated {
			ctx := auth.WithSession(c.Request.Context(), claims)
			ctx = auth.WithClientIP(ctx, c.ClientIP())
			c.Request = c.Request.WithContext(ctx)
			gc.ctx = ctx
			c.Set("user_id", claims.UserID)
			c.Set("role", claims.ActiveRole)
			if opts.TenantScoped {
				c.Set("tenant_id", claims.TenantID)
			}
		}

		if !opts.Public {
			if err := g.authorize(c, gc, opts); err != nil {
				g.WriteError(c, err)
				return
			}
		}

		if err := h(c, gc); err != nil {
			g.WriteError(c, err)
			return
		}

		if opts.AuditEvent != "" && gc.Authenticated && c.Writer.Status() < 400 {
			g.record(c, audit.Event{
				TenantID: gc.TenantID,
				Type:     opts.AuditEvent,
				UserID:   gc.Session.UserID,
				Metadata: map[string]any{"method": c.Request.Method, "path": c.FullPath()},
			})
		}
	}
}

func (g *Guard) authorize(c *gin.Context, gc *Context, opts Options) error {
	role := rbac.Role(gc.Session.ActiveRole)
	if len(opts.Roles) > 0 && !rbac.HasRole(role, opts.Roles...) {
		e := auth.NewError(auth.KindForbidden, "Forbidden: Insufficient role")
		e.Detail = "requires one of: " + joinRoles(opts.Roles)
		return g.denied(c, gc, "role", e)
	}

	if opts.Permission == "" && len(opts.AnyPermissions) == 0 {
		return nil
	}
	set, err := gc.Permissions()
	if err != nil {
		return err
	}
	if opts.Permission != "" && !set.Has(opts.Permission) {
		e := auth.NewError(auth.KindForbidden, "Forbidden: Insufficient permissions")
		e.Detail = "missing permission: " + string(opts.Permission)
		return g.denied(c, gc, "permission", e)
	}
	if len(opts.AnyPermissions) > 0 && !set.HasAny(opts.AnyPermissions...) {
		e := auth.NewError(auth.KindForbidden, "Forbidden: Insufficient permissions")
		e.Detail = "requires any of: " + joinPermissions(opts.AnyPermissions)
		return g.denied(c, gc, "permission", e)
	}
	return nil
}

func (g *Guard) denied(c *gin.Context, gc *Context, reason string, e *auth.Error) error {
	g.metrics.GuardDenied(reason)
	g.record(c, audit.Event{
		TenantID: gc.TenantID,
		Type:     audit.EventUnauthorizedAccess,
		UserID:   gc.Session.UserID,
		Metadata: map[string]any{"reason": reason, "detail": e.Detail, "path": c.Request.URL.Path},
	})
	return e
}

func (g *Guard) record(c *gin.Context, e audit.Event) {
	if g.audit == nil {
		return
	}
	e.IPAddress = c.ClientIP()
	e.UserAgent = c.Request.UserAgent()
	g.audit.Record(context.WithoutCancel(c.Request.Context()), e)
}

// WriteError translates err with this guard's production setting.
func (g *Guard) WriteError(c *gin.Context, err error) {
	WriteError(c, err, g.production)
}

func joinRoles(rs []rbac.Role) string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r)
	}
	return strings.Join(out, ", ")
}

func joinPermissions(ps []rbac.Permission) string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = string(p)
	}
	return strings.Join(out, ", ")
}
