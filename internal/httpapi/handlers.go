package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"lms-platform/internal/audit"
	"lms-platform/internal/auth"
	"lms-platform/internal/guard"
	"lms-platform/internal/rbac"
	"lms-platform/internal/session"

	"github.com/gin-gonic/gin"
)

// LoginLister backs the admin sessions view.
type LoginLister interface {
	RecentLogins(ctx context.Context, q audit.LoginQuery) ([]audit.Login, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Sessions *session.Service
	Tokens   *auth.Manager
	Versions auth.VersionSource
	Logins   LoginLister
}

func meta(c *gin.Context) session.Meta {
	return session.Meta{IP: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}

// --- Login / logout ---

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h Handlers) Login(c *gin.Context, _ *guard.Context) error {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return err
	}
	res, err := h.Sessions.Login(c.Request.Context(), session.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		Meta:     meta(c),
	})
	if err != nil {
		return err
	}

	h.Tokens.SetSessionCookie(c, res.AccessToken)
	h.Tokens.SetRefreshCookie(c, res.RefreshToken)
	c.JSON(http.StatusOK, gin.H{
		"ok":         true,
		"userId":     res.User.ID,
		"activeRole": res.User.ActiveRole,
		"redirect":   rbac.LandingRoute(res.User.ActiveRole),
		"user":       res.User,
	})
	return nil
}

// Logout is public: it clears cookies even when the session already expired.
func (h Handlers) Logout(c *gin.Context, gc *guard.Context) error {
	in := session.LogoutInput{RefreshToken: auth.RefreshToken(c), Meta: meta(c)}
	if gc.Authenticated {
		s := gc.Session
		in.Session = &s
	}
	h.Sessions.Logout(c.Request.Context(), in)

	h.Tokens.ClearCookies(c)
	c.JSON(http.StatusOK, gin.H{"ok": true})
	return nil
}

func (h Handlers) LogoutAll(c *gin.Context, gc *guard.Context) error {
	if _, err := h.Sessions.LogoutAll(c.Request.Context(), gc.Session, meta(c)); err != nil {
		return err
	}
	h.Tokens.ClearCookies(c)
	c.JSON(http.StatusOK, gin.H{"ok": true})
	return nil
}

// --- Session ---

func (h Handlers) Me(c *gin.Context, gc *guard.Context) error {
	u, err := h.Sessions.CurrentUser(c.Request.Context(), gc.Session)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, gin.H{
		"ok": true,
		"claims": gin.H{
			"userId":       gc.Session.UserID,
			"email":        gc.Session.Email,
			"activeRole":   gc.Session.ActiveRole,
			"tenantId":     gc.Session.TenantID,
			"nodeId":       gc.Session.NodeID,
			"tokenVersion": gc.Session.TokenVersion,
			"expiresAt":    expiry(gc.Session),
		},
		"user": u,
	})
	return nil
}

func (h Handlers) Permissions(c *gin.Context, gc *guard.Context) error {
	set, err := gc.Permissions()
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, gin.H{
		"activeRole":  gc.Session.ActiveRole,
		"permissions": set.Sorted(),
	})
	return nil
}

// --- Refresh ---

func (h Handlers) Refresh(c *gin.Context, _ *guard.Context) error {
	res, err := h.Sessions.Refresh(c.Request.Context(), session.RefreshInput{
		Token: auth.RefreshToken(c),
		Meta:  meta(c),
	})
	if err != nil {
		if status, _ := guard.Status(auth.KindOf(err)); status == http.StatusUnauthorized {
			h.Tokens.ClearCookies(c)
		}
		return err
	}

	h.Tokens.SetSessionCookie(c, res.AccessToken)
	h.Tokens.SetRefreshCookie(c, res.RefreshToken)
	c.JSON(http.StatusOK, gin.H{
		"ok":         true,
		"userId":     res.User.ID,
		"activeRole": res.User.ActiveRole,
	})
	return nil
}

// RefreshAndRedirect serves browser navigations bounced by the edge guard.
// It always answers with a redirect.
func (h Handlers) RefreshAndRedirect(c *gin.Context, _ *guard.Context) error {
	target := SafeRedirect(c.Query("redirect"))

	token := auth.RefreshToken(c)
	if token == "" {
		c.Redirect(http.StatusFound, "/login?"+url.Values{"redirect": {target}}.Encode())
		return nil
	}

	res, err := h.Sessions.Refresh(c.Request.Context(), session.RefreshInput{Token: token, Meta: meta(c)})
	if err != nil {
		reason := "expired"
		switch auth.KindOf(err) {
		case auth.KindUserInactive:
			reason = "inactive"
		case auth.KindInternal:
			reason = "error"
			_ = c.Error(err)
		}
		h.Tokens.ClearCookies(c)
		c.Redirect(http.StatusFound, "/login?session="+reason)
		return nil
	}

	h.Tokens.SetSessionCookie(c, res.AccessToken)
	h.Tokens.SetRefreshCookie(c, res.RefreshToken)
	c.Redirect(http.StatusFound, target)
	return nil
}

// SafeRedirect keeps redirects on this origin: only absolute paths are
// accepted, and protocol-relative or backslash tricks fall back to "/".
func SafeRedirect(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.ContainsAny(raw, "\\\r\n") {
		return "/"
	}
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() || u.Host != "" {
		return "/"
	}
	return raw
}

// --- Node switch ---

type switchNodeRequest struct {
	NodeID string `json:"nodeId" binding:"required"`
}

func (h Handlers) SwitchNode(c *gin.Context, gc *guard.Context) error {
	var req switchNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return err
	}
	res, err := h.Sessions.SwitchNode(c.Request.Context(), gc.Session, req.NodeID, meta(c))
	if err != nil {
		return err
	}
	h.Tokens.SetSessionCookie(c, res.AccessToken)
	c.JSON(http.StatusOK, gin.H{"ok": true, "nodeId": res.NodeID})
	return nil
}

// --- Admin: sessions ---

var mobileUA = regexp.MustCompile(`(?i)mobile|android|iphone|ipad`)

type sessionView struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	UserEmail    string    `json:"userEmail"`
	UserName     string    `json:"userName"`
	IP           string    `json:"ip"`
	UserAgent    string    `json:"userAgent"`
	DeviceType   string    `json:"deviceType"`
	ActiveRole   any       `json:"activeRole,omitempty"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	CreatedAt    time.Time `json:"createdAt"`
	// Login events carry no session id, so the caller's own row is unknown.
	IsCurrent bool `json:"isCurrent"`
}

func newSessionView(l audit.Login) sessionView {
	v := sessionView{
		ID:           l.ID,
		UserID:       l.UserID,
		UserEmail:    l.UserEmail,
		UserName:     strings.TrimSpace(l.FirstName + " " + l.LastName),
		IP:           l.IPAddress,
		UserAgent:    l.UserAgent,
		DeviceType:   "desktop",
		ActiveRole:   l.Metadata["activeRole"],
		LastActiveAt: l.CreatedAt,
		CreatedAt:    l.CreatedAt,
	}
	if v.UserEmail == "" {
		v.UserEmail = "unknown"
	}
	if l.FirstName == "" {
		v.UserName = "Unknown User"
	}
	if v.IP == "" {
		v.IP = "0.0.0.0"
	}
	if mobileUA.MatchString(l.UserAgent) {
		v.DeviceType = "mobile"
	}
	return v
}

func (h Handlers) ListSessions(c *gin.Context, gc *guard.Context) error {
	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			e := auth.NewError(auth.KindValidation, "Invalid query")
			e.Fields = map[string]string{"limit": "must be between 1 and 500"}
			return e
		}
		limit = n
	}

	logins, err := h.Logins.RecentLogins(c.Request.Context(), audit.LoginQuery{
		TenantID: gc.TenantID,
		UserID:   c.Query("userId"),
		Limit:    limit,
	})
	if err != nil {
		return err
	}

	out := make([]sessionView, 0, len(logins))
	for _, l := range logins {
		out = append(out, newSessionView(l))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
	return nil
}

func (h Handlers) RevokeSessions(c *gin.Context, gc *guard.Context) error {
	v, err := h.Sessions.RevokeUser(c.Request.Context(), gc.Session, c.Query("userId"), meta(c))
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"message":      "User sessions revoked globally",
		"tokenVersion": v,
	})
	return nil
}

func expiry(c auth.Claims) *time.Time {
	if c.ExpiresAt == nil {
		return nil
	}
	t := c.ExpiresAt.Time
	return &t
}
