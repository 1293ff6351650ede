package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"lms-platform/internal/audit"
	"lms-platform/internal/auth"
	"lms-platform/internal/ids"
	"lms-platform/internal/metrics"
	"lms-platform/internal/ratelimit"
	"lms-platform/internal/rbac"
	"lms-platform/internal/users"

	"github.com/golang-jwt/jwt/v5"
)

// Auditor records audit events without failing the caller.
type Auditor interface {
	Record(ctx context.Context, e audit.Event)
}

// Limiters holds one limiter per rate-limited concern.
type Limiters struct {
	Login      ratelimit.Limiter
	Refresh    ratelimit.Limiter
	SwitchNode ratelimit.Limiter
}

type Deps struct {
	Users    users.Store
	Refresh  RefreshStore
	Tokens   *auth.Manager
	Audit    Auditor
	Limiters Limiters
	Metrics  *metrics.Metrics
	Log      *slog.Logger

	RequireVerified bool
}

// Service owns login, refresh rotation, logout and node switching.
type Service struct {
	users   users.Store
	refresh RefreshStore
	tokens  *auth.Manager
	audit   Auditor
	limits  Limiters
	metrics *metrics.Metrics
	log     *slog.Logger
	clock   func() time.Time

	requireVerified bool
}

func NewService(d Deps) (*Service, error) {
	switch {
	case d.Users == nil:
		return nil, errors.New("session: users store is required")
	case d.Refresh == nil:
		return nil, errors.New("session: refresh store is required")
	case d.Tokens == nil:
		return nil, errors.New("session: token manager is required")
	case d.Audit == nil:
		return nil, errors.New("session: auditor is required")
	case d.Limiters.Login == nil || d.Limiters.Refresh == nil || d.Limiters.SwitchNode == nil:
		return nil, errors.New("session: all limiters are required")
	}
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		users:           d.Users,
		refresh:         d.Refresh,
		tokens:          d.Tokens,
		audit:           d.Audit,
		limits:          d.Limiters,
		metrics:         d.Metrics,
		log:             log,
		clock:           time.Now,
		requireVerified: d.RequireVerified,
	}, nil
}

// Meta is per-request client information used for limits and audit.
type Meta struct {
	IP        string
	UserAgent string
}

type Tokens struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

type LoginInput struct {
	Email    string
	Password string
	Meta
}

type LoginResult struct {
	Tokens
	User   users.User
	Claims auth.Claims
}

type RefreshInput struct {
	Token string
	Meta
}

type RefreshResult struct {
	Tokens
	User   users.User
	Claims auth.Claims
}

type LogoutInput struct {
	RefreshToken string
	// Session is nil when the caller had no valid access token.
	Session *auth.Claims
	Meta
}

type SwitchResult struct {
	AccessToken string
	ExpiresAt   time.Time
	NodeID      string
}

var errInvalidCredentials = auth.NewError(auth.KindInvalidCredentials, "Invalid email or password")

/* ===================== LOGIN ===================== */

func (s *Service) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || in.Password == "" {
		e := auth.NewError(auth.KindValidation, "Email and password are required")
		e.Fields = map[string]string{}
		if email == "" {
			e.Fields["email"] = "required"
		}
		if in.Password == "" {
			e.Fields["password"] = "required"
		}
		return LoginResult{}, e
	}

	if err := s.allow(ctx, s.limits.Login, "login", in.IP+":"+email, in.Meta, "", ""); err != nil {
		s.metrics.Login(auth.KindOf(err).String())
		return LoginResult{}, err
	}

	now := s.clock()
	u, err := s.users.FindUserByEmail(ctx, email)
	if errors.Is(err, users.ErrNotFound) {
		auth.CompareDummy(in.Password)
		s.loginFailed(ctx, users.User{}, email, in.Meta, "invalid_credentials")
		return LoginResult{}, errInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, auth.WrapError(auth.KindInternal, "user lookup failed", err)
	}

	if !auth.ComparePassword(u.PasswordHash, in.Password) {
		s.loginFailed(ctx, u, email, in.Meta, "invalid_password")
		return LoginResult{}, errInvalidCredentials
	}
	if !u.CanSignIn() {
		s.loginFailed(ctx, u, email, in.Meta, "account_disabled")
		return LoginResult{}, auth.NewError(auth.KindAccountDisabled, "Account is disabled")
	}
	if s.requireVerified && !u.Verified {
		s.loginFailed(ctx, u, email, in.Meta, "email_not_verified")
		return LoginResult{}, auth.NewError(auth.KindNotVerified, "Email not verified")
	}

	wctx := context.WithoutCancel(ctx)
	if err := s.users.UpdateLastLogin(wctx, u.TenantID, u.ID, now); err != nil {
		s.log.WarnContext(ctx, "update last login failed", "user_id", u.ID, "err", err)
	}

	tokens, claims, rec, err := s.mint(u, u.NodeID, ids.New(), in.Meta, now)
	if err != nil {
		return LoginResult{}, auth.WrapError(auth.KindInternal, "token issue failed", err)
	}
	if err := s.refresh.Create(wctx, rec); err != nil {
		return LoginResult{}, auth.WrapError(auth.KindInternal, "refresh record create failed", err)
	}

	s.record(ctx, audit.Event{
		TenantID:  u.TenantID,
		Type:      audit.EventLoginSuccess,
		UserID:    u.ID,
		IPAddress: in.IP,
		UserAgent: in.UserAgent,
		Metadata:  map[string]any{"activeRole": string(u.ActiveRole), "familyId": rec.FamilyID},
	})
	s.metrics.Login("success")
	return LoginResult{Tokens: tokens, User: u, Claims: claims}, nil
}

func (s *Service) loginFailed(ctx context.Context, u users.User, email string, m Meta, reason string) {
	s.metrics.Login(reason)
	s.record(ctx, audit.Event{
		TenantID:  u.TenantID,
		Type:      audit.EventLoginFail,
		UserID:    u.ID,
		IPAddress: m.IP,
		UserAgent: m.UserAgent,
		Metadata:  map[string]any{"email": email, "reason": reason},
	})
}

/* ===================== REFRESH ===================== */

// Refresh rotates a refresh token. Presenting an already-rotated token is
// treated as theft: every session of the user is revoked.
func (s *Service) Refresh(ctx context.Context, in RefreshInput) (RefreshResult, error) {
	if err := s.allow(ctx, s.limits.Refresh, "refresh", "refresh:"+in.IP, in.Meta, "", ""); err != nil {
		s.refreshFailed(ctx, auth.RefreshClaims{}, in.Meta, "rate_limit_exceeded")
		return RefreshResult{}, err
	}

	now := s.clock()
	rc, err := s.tokens.ParseRefreshToken(in.Token, now)
	if err != nil {
		reason := "invalid_or_expired"
		if auth.IsKind(err, auth.KindNoToken) {
			reason = "no_token"
		}
		s.refreshFailed(ctx, rc, in.Meta, reason)
		return RefreshResult{}, err
	}

	u, err := s.users.FindUserByID(ctx, rc.UserID)
	if errors.Is(err, users.ErrNotFound) || (err == nil && u.TenantID != rc.TenantID) {
		s.refreshFailed(ctx, rc, in.Meta, "invalid_or_expired")
		return RefreshResult{}, auth.NewError(auth.KindTokenInvalid, "Invalid refresh token")
	}
	if err != nil {
		s.refreshFailed(ctx, rc, in.Meta, "server_error")
		return RefreshResult{}, auth.WrapError(auth.KindInternal, "user lookup failed", err)
	}

	wctx := context.WithoutCancel(ctx)
	if !u.CanSignIn() {
		if err := s.refresh.RevokeFamily(wctx, rc.FamilyID, now); err != nil {
			s.log.ErrorContext(ctx, "revoke family failed", "user_id", u.ID, "family_id", rc.FamilyID, "err", err)
		}
		s.refreshFailed(ctx, rc, in.Meta, "user_inactive")
		return RefreshResult{}, auth.NewError(auth.KindUserInactive, "User is inactive")
	}
	if u.TokenVersion != rc.TokenVersion {
		s.refreshFailed(ctx, rc, in.Meta, "revoked")
		return RefreshResult{}, auth.NewError(auth.KindTokenRevoked, "Session has been revoked")
	}

	tokens, claims, next, err := s.mint(u, u.NodeID, rc.FamilyID, in.Meta, now)
	if err != nil {
		s.refreshFailed(ctx, rc, in.Meta, "server_error")
		return RefreshResult{}, auth.WrapError(auth.KindInternal, "token issue failed", err)
	}

	// Rotation must finish even if the client goes away mid-request.
	err = s.refresh.Rotate(wctx, rc.ID, next, now)
	switch {
	case err == nil:
	case errors.Is(err, ErrRefreshReused):
		return RefreshResult{}, s.reuseDetected(ctx, u, rc, in.Meta, now)
	case errors.Is(err, ErrRefreshRevoked):
		s.refreshFailed(ctx, rc, in.Meta, "revoked")
		return RefreshResult{}, auth.NewError(auth.KindTokenRevoked, "Session has been revoked")
	case errors.Is(err, ErrRefreshExpired):
		s.refreshFailed(ctx, rc, in.Meta, "invalid_or_expired")
		return RefreshResult{}, auth.NewError(auth.KindTokenExpired, "Refresh token expired")
	case errors.Is(err, ErrRefreshNotFound):
		s.refreshFailed(ctx, rc, in.Meta, "invalid_or_expired")
		return RefreshResult{}, auth.NewError(auth.KindTokenInvalid, "Invalid refresh token")
	default:
		s.log.ErrorContext(ctx, "refresh rotation failed", "user_id", u.ID, "token_id", rc.ID, "err", err)
		s.refreshFailed(ctx, rc, in.Meta, "server_error")
		return RefreshResult{}, auth.WrapError(auth.KindInternal, "refresh rotation failed", err)
	}

	s.record(ctx, audit.Event{
		TenantID:  u.TenantID,
		Type:      audit.EventTokenRefresh,
		UserID:    u.ID,
		IPAddress: in.IP,
		UserAgent: in.UserAgent,
		Metadata:  map[string]any{"familyId": rc.FamilyID, "rotatedFrom": rc.ID},
	})
	s.metrics.Refresh("success")
	return RefreshResult{Tokens: tokens, User: u, Claims: claims}, nil
}

func (s *Service) reuseDetected(ctx context.Context, u users.User, rc auth.RefreshClaims, m Meta, now time.Time) error {
	wctx := context.WithoutCancel(ctx)

	_, bumpErr := s.users.BumpTokenVersion(wctx, u.TenantID, u.ID)
	famErr := s.refresh.RevokeFamily(wctx, rc.FamilyID, now)
	if err := errors.Join(bumpErr, famErr); err != nil {
		s.log.ErrorContext(ctx, "reuse revocation incomplete", "user_id", u.ID, "family_id", rc.FamilyID, "err", err)
	}
	s.log.WarnContext(ctx, "refresh token reuse detected", "user_id", u.ID, "tenant_id", u.TenantID, "family_id", rc.FamilyID)

	s.metrics.Refresh("reuse_detected")
	s.metrics.Revoked("reuse")
	s.record(ctx, audit.Event{
		TenantID:  u.TenantID,
		Type:      audit.EventRefreshReuseDetected,
		UserID:    u.ID,
		IPAddress: m.IP,
		UserAgent: m.UserAgent,
		Metadata:  map[string]any{"familyId": rc.FamilyID, "tokenId": rc.ID},
	})
	return auth.WrapError(auth.KindReuseDetected, "Refresh token reuse detected", errors.Join(bumpErr, famErr))
}

func (s *Service) refreshFailed(ctx context.Context, rc auth.RefreshClaims, m Meta, reason string) {
	s.metrics.Refresh(reason)
	s.record(ctx, audit.Event{
		TenantID:  rc.TenantID,
		Type:      audit.EventRefreshFailed,
		UserID:    rc.UserID,
		IPAddress: m.IP,
		UserAgent: m.UserAgent,
		Metadata:  map[string]any{"reason": reason},
	})
}

/* ===================== LOGOUT ===================== */

// Logout revokes the presented refresh token. It never fails; cookies are
// cleared by the caller regardless.
func (s *Service) Logout(ctx context.Context, in LogoutInput) {
	now := s.clock()
	wctx := context.WithoutCancel(ctx)

	if in.RefreshToken != "" {
		if rc, err := s.tokens.ParseRefreshToken(in.RefreshToken, now); err == nil {
			if err := s.refresh.Revoke(wctx, rc.ID, now); err != nil && !errors.Is(err, ErrRefreshNotFound) {
				s.log.ErrorContext(ctx, "revoke refresh token failed", "token_id", rc.ID, "err", err)
			}
		}
	}

	if in.Session != nil {
		s.record(ctx, audit.Event{
			TenantID:  in.Session.TenantID,
			Type:      audit.EventLogout,
			UserID:    in.Session.UserID,
			IPAddress: in.IP,
			UserAgent: in.UserAgent,
		})
	}
}

// LogoutAll bumps tokenVersion, which invalidates every access and refresh
// token of the user on their next full verification or refresh.
func (s *Service) LogoutAll(ctx context.Context, c auth.Claims, m Meta) (int64, error) {
	v, err := s.revokeAll(ctx, c.TenantID, c.UserID, "logout_all")
	if errors.Is(err, users.ErrNotFound) {
		return 0, auth.NewError(auth.KindTokenRevoked, "Session has been revoked")
	}
	if err != nil {
		return 0, auth.WrapError(auth.KindInternal, "logout all failed", err)
	}
	s.record(ctx, audit.Event{
		TenantID:  c.TenantID,
		Type:      audit.EventLogoutAll,
		UserID:    c.UserID,
		IPAddress: m.IP,
		UserAgent: m.UserAgent,
		Metadata:  map[string]any{"tokenVersion": v},
	})
	return v, nil
}

// RevokeUser ends every session of another user in the actor's tenant.
func (s *Service) RevokeUser(ctx context.Context, actor auth.Claims, targetUserID string, m Meta) (int64, error) {
	targetUserID = strings.TrimSpace(targetUserID)
	if targetUserID == "" {
		e := auth.NewError(auth.KindValidation, "userId is required")
		e.Fields = map[string]string{"userId": "required"}
		return 0, e
	}
	v, err := s.revokeAll(ctx, actor.TenantID, targetUserID, "admin_revoke")
	if errors.Is(err, users.ErrNotFound) {
		return 0, auth.NewError(auth.KindNotFound, "User not found")
	}
	if err != nil {
		return 0, auth.WrapError(auth.KindInternal, "session revoke failed", err)
	}
	s.record(ctx, audit.Event{
		TenantID:     actor.TenantID,
		Type:         audit.EventSessionRevoke,
		UserID:       actor.UserID,
		TargetUserID: targetUserID,
		IPAddress:    m.IP,
		UserAgent:    m.UserAgent,
		Metadata:     map[string]any{"tokenVersion": v},
	})
	return v, nil
}

func (s *Service) revokeAll(ctx context.Context, tenantID, userID, cause string) (int64, error) {
	wctx := context.WithoutCancel(ctx)
	now := s.clock()

	v, err := s.users.BumpTokenVersion(wctx, tenantID, userID)
	if err != nil {
		return 0, err
	}
	// The version bump already invalidates every token; record cleanup is best-effort.
	if err := s.refresh.RevokeUser(wctx, tenantID, userID, now); err != nil {
		s.log.ErrorContext(ctx, "revoke refresh records failed", "user_id", userID, "err", err)
	}
	s.metrics.Revoked(cause)
	return v, nil
}

/* ===================== NODE SWITCH ===================== */

// SwitchNode re-issues the access token scoped to nodeID. The token version
// is unchanged; the refresh token is not rotated.
func (s *Service) SwitchNode(ctx context.Context, c auth.Claims, nodeID string, m Meta) (SwitchResult, error) {
	if err := s.allow(ctx, s.limits.SwitchNode, "switch_node", c.UserID, m, c.TenantID, c.UserID); err != nil {
		return SwitchResult{}, err
	}

	nodeID = strings.TrimSpace(nodeID)
	if nodeID == "" {
		e := auth.NewError(auth.KindValidation, "nodeId is required")
		e.Fields = map[string]string{"nodeId": "required"}
		return SwitchResult{}, e
	}

	node, err := s.users.FindNode(ctx, c.TenantID, nodeID)
	if errors.Is(err, users.ErrNotFound) {
		return SwitchResult{}, auth.NewError(auth.KindNotFound, "Node not found")
	}
	if err != nil {
		return SwitchResult{}, auth.WrapError(auth.KindInternal, "node lookup failed", err)
	}
	if !node.Active {
		return SwitchResult{}, auth.NewError(auth.KindNodeInactive, "Node is inactive")
	}

	if !rbac.IsAdmin(rbac.Role(c.ActiveRole)) {
		u, err := s.users.FindUserByID(ctx, c.UserID)
		if errors.Is(err, users.ErrNotFound) {
			return SwitchResult{}, auth.NewError(auth.KindTokenRevoked, "Session has been revoked")
		}
		if err != nil {
			return SwitchResult{}, auth.WrapError(auth.KindInternal, "user lookup failed", err)
		}
		if !u.AssignedTo(nodeID) {
			e := auth.NewError(auth.KindForbidden, "No access to this node")
			e.Detail = "node " + nodeID + " is not assigned to the user"
			return SwitchResult{}, e
		}
	}

	next := c
	next.NodeID = nodeID
	next.RegisteredClaims = jwt.RegisteredClaims{}
	tok, exp, err := s.tokens.SignAccessToken(s.clock(), next)
	if err != nil {
		return SwitchResult{}, auth.WrapError(auth.KindInternal, "token issue failed", err)
	}

	s.record(ctx, audit.Event{
		TenantID:  c.TenantID,
		Type:      audit.EventNodeSwitch,
		UserID:    c.UserID,
		IPAddress: m.IP,
		UserAgent: m.UserAgent,
		Metadata:  map[string]any{"fromNodeId": c.NodeID, "toNodeId": nodeID},
	})
	return SwitchResult{AccessToken: tok, ExpiresAt: exp, NodeID: nodeID}, nil
}

/* ===================== CURRENT SESSION ===================== */

// Authenticate resolves the current session from an access token.
func (s *Service) Authenticate(ctx context.Context, token string, mode auth.Verification) (auth.Claims, error) {
	if mode == auth.VerifyFull {
		return s.tokens.VerifyAccessTokenFull(ctx, token, s.clock(), s.users)
	}
	return s.tokens.VerifyAccessTokenLight(token, s.clock())
}

// CurrentUser loads the session's user, enforcing tenant isolation.
func (s *Service) CurrentUser(ctx context.Context, c auth.Claims) (users.User, error) {
	u, err := s.users.FindUserByID(ctx, c.UserID)
	if errors.Is(err, users.ErrNotFound) || (err == nil && u.TenantID != c.TenantID) {
		return users.User{}, auth.NewError(auth.KindTokenRevoked, "Session has been revoked")
	}
	if err != nil {
		return users.User{}, auth.WrapError(auth.KindInternal, "user lookup failed", err)
	}
	return u, nil
}

/* ===================== INTERNAL ===================== */

func (s *Service) mint(u users.User, nodeID, familyID string, m Meta, now time.Time) (Tokens, auth.Claims, RefreshRecord, error) {
	claims := auth.Claims{
		UserID:       u.ID,
		Email:        u.Email,
		ActiveRole:   string(u.ActiveRole),
		TenantID:     u.TenantID,
		NodeID:       nodeID,
		TokenVersion: u.TokenVersion,
	}
	access, accessExp, err := s.tokens.SignAccessToken(now, claims)
	if err != nil {
		return Tokens{}, auth.Claims{}, RefreshRecord{}, err
	}

	rec := RefreshRecord{
		ID:           ids.New(),
		FamilyID:     familyID,
		UserID:       u.ID,
		TenantID:     u.TenantID,
		TokenVersion: u.TokenVersion,
		IssuedAt:     now,
		IPAddress:    m.IP,
		UserAgent:    m.UserAgent,
	}
	refresh, refreshExp, err := s.tokens.SignRefreshToken(now, auth.RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{ID: rec.ID},
		UserID:           u.ID,
		TenantID:         u.TenantID,
		FamilyID:         familyID,
		TokenVersion:     u.TokenVersion,
	})
	if err != nil {
		return Tokens{}, auth.Claims{}, RefreshRecord{}, err
	}
	rec.ExpiresAt = refreshExp

	return Tokens{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, claims, rec, nil
}

// allow counts one hit. Limiter backend failures fail closed.
func (s *Service) allow(ctx context.Context, lim ratelimit.Limiter, name, key string, m Meta, tenantID, userID string) error {
	d, err := lim.Allow(ctx, key)
	if err != nil {
		s.log.ErrorContext(ctx, "rate limiter failed", "limiter", name, "err", err)
		return auth.WrapError(auth.KindInternal, "rate limiter unavailable", err)
	}
	if d.Allowed {
		return nil
	}
	// The limiter's view of the window is authoritative once the hit is
	// denied; the decision's own value is the fallback.
	if wait, err := lim.RetryAfter(ctx, key); err != nil {
		s.log.WarnContext(ctx, "rate limiter retry-after failed", "limiter", name, "err", err)
	} else if wait > 0 {
		d.RetryAfter = wait
	}
	s.metrics.RateLimited(name)
	s.record(ctx, audit.Event{
		TenantID:  tenantID,
		Type:      audit.EventRateLimitExceeded,
		UserID:    userID,
		IPAddress: m.IP,
		UserAgent: m.UserAgent,
		Metadata:  map[string]any{"limiter": name, "retryAfterSeconds": ratelimit.RetryAfterSeconds(d.RetryAfter)},
	})
	return auth.RateLimited(d.RetryAfter)
}

func (s *Service) record(ctx context.Context, e audit.Event) {
	s.audit.Record(context.WithoutCancel(ctx), e)
}
