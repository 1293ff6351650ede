package auth

import (
	"context"
	"errors"
	"time"

	"lms-platform/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const clockSkew = 30 * time.Second

// VersionSource is the live view of a user's revocation state.
// found=false means the user no longer exists.
type VersionSource interface {
	SessionState(ctx context.Context, userID string) (version int64, active bool, found bool, err error)
}

type Manager struct {
	secret        []byte
	refreshSecret []byte
	issuer        string
	audience      string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	secureCookies bool

	// roles, when non-empty, restricts activeRole to known values.
	roles map[string]struct{}
}

func NewManager(cfg config.AuthConfig, roles ...string) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.AccessTokenTTL <= 0 || cfg.RefreshTokenTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}

	refreshSecret := cfg.JWTRefreshSecret
	if refreshSecret == "" {
		refreshSecret = cfg.JWTSecret
	}

	var known map[string]struct{}
	if len(roles) > 0 {
		known = make(map[string]struct{}, len(roles))
		for _, r := range roles {
			known[r] = struct{}{}
		}
	}

	return &Manager{
		secret:        []byte(cfg.JWTSecret),
		refreshSecret: []byte(refreshSecret),
		issuer:        cfg.JWTIssuer,
		audience:      cfg.JWTAudience,
		accessTTL:     cfg.AccessTokenTTL,
		refreshTTL:    cfg.RefreshTokenTTL,
		secureCookies: cfg.SecureCookies,
		roles:         known,
	}, nil
}

func (m *Manager) AccessTTL() time.Duration  { return m.accessTTL }
func (m *Manager) RefreshTTL() time.Duration { return m.refreshTTL }

/* ===================== ACCESS TOKENS ===================== */

// SignAccessToken issues a short-lived session token. Registered claims are
// always overwritten; a fresh jti is generated per token.
func (m *Manager) SignAccessToken(now time.Time, c Claims) (string, time.Time, error) {
	exp := now.Add(m.accessTTL)
	c.RegisteredClaims = m.registered(now, exp, uuid.NewString())
	c.TokenType = TokenTypeAccess

	if err := m.checkAccess(c); err != nil {
		return "", time.Time{}, err
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return s, exp, nil
}

// VerifyAccessTokenLight checks signature, expiry and claim shape only.
func (m *Manager) VerifyAccessTokenLight(token string, now time.Time) (Claims, error) {
	if token == "" {
		return Claims{}, NewError(KindNoToken, "Authentication required")
	}
	var c Claims
	if err := m.parse(token, &c, m.secret, now); err != nil {
		return Claims{}, err
	}
	if c.TokenType != TokenTypeAccess {
		return Claims{}, NewError(KindTokenInvalid, "token type mismatch")
	}
	if err := m.checkAccess(c); err != nil {
		return Claims{}, WrapError(KindTokenInvalid, "malformed claims", err)
	}
	return c, nil
}

// VerifyAccessTokenFull additionally compares tokenVersion with the live value.
func (m *Manager) VerifyAccessTokenFull(ctx context.Context, token string, now time.Time, src VersionSource) (Claims, error) {
	c, err := m.VerifyAccessTokenLight(token, now)
	if err != nil {
		return Claims{}, err
	}
	version, active, found, err := src.SessionState(ctx, c.UserID)
	if err != nil {
		return Claims{}, WrapError(KindInternal, "session lookup failed", err)
	}
	if !found || !active || version != c.TokenVersion {
		return Claims{}, NewError(KindTokenRevoked, "Session has been revoked")
	}
	return c, nil
}

/* ===================== REFRESH TOKENS ===================== */

// SignRefreshToken issues a refresh token. rc.ID (the record id) is kept if
// set so the token and its server-side record share one identifier.
func (m *Manager) SignRefreshToken(now time.Time, rc RefreshClaims) (string, time.Time, error) {
	exp := now.Add(m.refreshTTL)
	jti := rc.ID
	if jti == "" {
		jti = uuid.NewString()
	}
	rc.RegisteredClaims = m.registered(now, exp, jti)
	rc.TokenType = TokenTypeRefresh

	if rc.UserID == "" || rc.FamilyID == "" {
		return "", time.Time{}, errors.New("refresh token requires user and family")
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, rc).SignedString(m.refreshSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return s, exp, nil
}

func (m *Manager) ParseRefreshToken(token string, now time.Time) (RefreshClaims, error) {
	if token == "" {
		return RefreshClaims{}, NewError(KindNoToken, "No refresh token")
	}
	var rc RefreshClaims
	if err := m.parse(token, &rc, m.refreshSecret, now); err != nil {
		return RefreshClaims{}, err
	}
	if rc.TokenType != TokenTypeRefresh {
		return RefreshClaims{}, NewError(KindTokenInvalid, "token type mismatch")
	}
	if rc.UserID == "" || rc.FamilyID == "" || rc.ID == "" {
		return RefreshClaims{}, NewError(KindTokenInvalid, "malformed claims")
	}
	return rc, nil
}

/* ===================== INTERNAL ===================== */

func (m *Manager) parse(token string, claims jwt.Claims, key []byte, now time.Time) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(clockSkew),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	_, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return key, nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return WrapError(KindTokenExpired, "Token expired", err)
	default:
		return WrapError(KindTokenInvalid, "Invalid token", err)
	}
}

func (m *Manager) checkAccess(c Claims) error {
	if c.UserID == "" {
		return errors.New("userId missing")
	}
	if c.TenantID == "" {
		return errors.New("tenantId missing")
	}
	if c.ActiveRole == "" {
		return errors.New("activeRole missing")
	}
	if m.roles != nil {
		if _, ok := m.roles[c.ActiveRole]; !ok {
			return errors.New("activeRole unknown")
		}
	}
	if c.TokenVersion < 0 {
		return errors.New("tokenVersion negative")
	}
	return nil
}

func (m *Manager) registered(now, exp time.Time, jti string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    m.issuer,
		Audience:  audienceOrNil(m.audience),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        jti,
	}
}

func audienceOrNil(aud string) jwt.ClaimStrings {
	if aud == "" {
		return nil
	}
	return jwt.ClaimStrings{aud}
}

// Verification selects how much a route trusts a presented access token.
type Verification int

const (
	// VerifyLight trusts the signature until expiry; revocation lags by at most the access TTL.
	VerifyLight Verification = iota
	// VerifyFull also checks tokenVersion against the credential store.
	VerifyFull
)

func (v Verification) String() string {
	if v == VerifyFull {
		return "full"
	}
	return "light"
}
