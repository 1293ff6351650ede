package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lms-platform/internal/audit"
	"lms-platform/internal/auth"
	"lms-platform/internal/config"
	"lms-platform/internal/guard"
	"lms-platform/internal/ratelimit"
	"lms-platform/internal/rbac"
	"lms-platform/internal/session"
	"lms-platform/internal/users"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const password = "s3cret-passphrase"

type server struct {
	router *gin.Engine
	users  *users.MemoryStore
	events *audit.MemoryRepo
}

func newServer(t *testing.T, loginLimit int) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "http-test-secret",
		JWTIssuer:       "lms-auth",
		JWTAudience:     "lms-api",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	}, rbac.RoleNames()...)
	require.NoError(t, err)

	hash, err := auth.HashPassword(password)
	require.NoError(t, err)

	store := users.NewMemoryStore()
	store.Put(users.User{ID: "u-admin", TenantID: "t-1", Email: "admin@example.com", PasswordHash: hash, ActiveRole: rbac.RoleAdmin, NodeID: "n-1", Active: true, Verified: true})
	store.Put(users.User{ID: "u-learner", TenantID: "t-1", Email: "learner@example.com", PasswordHash: hash, ActiveRole: rbac.RoleLearner, NodeID: "n-1", NodeIDs: []string{"n-2"}, Active: true, Verified: true})
	store.PutNode(users.Node{ID: "n-1", TenantID: "t-1", Name: "Main", Active: true})
	store.PutNode(users.Node{ID: "n-2", TenantID: "t-1", Name: "North", Active: true})

	limiter := func(limit int) ratelimit.Limiter {
		l, err := ratelimit.NewMemory(ratelimit.Policy{Limit: limit, Window: time.Minute})
		require.NoError(t, err)
		return l
	}

	events := audit.NewMemoryRepo()
	auditor := audit.NewService(nil, events)
	svc, err := session.NewService(session.Deps{
		Users:   store,
		Refresh: session.NewMemoryRefreshStore(),
		Tokens:  tokens,
		Audit:   auditor,
		Limiters: session.Limiters{
			Login:      limiter(loginLimit),
			Refresh:    limiter(100),
			SwitchNode: limiter(100),
		},
	})
	require.NoError(t, err)

	g := guard.New(guard.Config{Authenticator: svc, Users: store, Audit: auditor})
	h := Handlers{Sessions: svc, Tokens: tokens, Versions: store, Logins: auditor}

	r := gin.New()
	h.Register(r.Group("/api"), g)
	return &server{router: r, users: store, events: events}
}

func (s *server) do(method, target string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	r := httptest.NewRequest(method, target, &buf)
	r.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		r.AddCookie(c)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)
	return w
}

func cookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

type loggedIn struct {
	session *http.Cookie
	refresh *http.Cookie
}

func (s *server) login(t *testing.T, email string) loggedIn {
	t.Helper()
	w := s.do(http.MethodPost, "/api/auth/login", gin.H{"email": email, "password": password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	l := loggedIn{session: cookie(w, auth.SessionCookie), refresh: cookie(w, auth.RefreshCookie)}
	require.NotNil(t, l.session)
	require.NotNil(t, l.refresh)
	return l
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var b guard.ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &b), w.Body.String())
	return b.Error
}

func TestLogin(t *testing.T) {
	s := newServer(t, 10)

	w := s.do(http.MethodPost, "/api/auth/login", gin.H{"email": "admin@example.com", "password": password})
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		OK         bool   `json:"ok"`
		UserID     string `json:"userId"`
		ActiveRole string `json:"activeRole"`
		Redirect   string `json:"redirect"`
		User       map[string]any
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.OK)
	assert.Equal(t, "u-admin", body.UserID)
	assert.Equal(t, "ADMIN", body.ActiveRole)
	assert.Equal(t, "/admin", body.Redirect)
	assert.NotContains(t, w.Body.String(), "$2a$")

	sc := cookie(w, auth.SessionCookie)
	require.NotNil(t, sc)
	assert.True(t, sc.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, sc.SameSite)
	assert.Equal(t, "/", sc.Path)
	require.NotNil(t, cookie(w, auth.RefreshCookie))
}

func TestLogin_Errors(t *testing.T) {
	s := newServer(t, 10)

	w := s.do(http.MethodPost, "/api/auth/login", gin.H{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var b guard.ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &b))
	assert.Equal(t, "BAD_REQUEST", b.Error)
	assert.Equal(t, "email", b.Fields["email"])
	assert.Equal(t, "required", b.Fields["password"])

	w = s.do(http.MethodPost, "/api/auth/login", gin.H{"email": "admin@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, w))
	assert.Nil(t, cookie(w, auth.SessionCookie))
}

func TestLogin_RateLimited(t *testing.T) {
	s := newServer(t, 1)
	s.do(http.MethodPost, "/api/auth/login", gin.H{"email": "admin@example.com", "password": "wrong"})

	w := s.do(http.MethodPost, "/api/auth/login", gin.H{"email": "admin@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "TOO_MANY_REQUESTS", errorCode(t, w))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestMe_FullVerificationSeesLogoutAll(t *testing.T) {
	s := newServer(t, 10)
	l := s.login(t, "learner@example.com")

	w := s.do(http.MethodGet, "/api/auth/me", nil, l.session)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"tenantId":"t-1"`)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/auth/me", nil).Code)

	w = s.do(http.MethodPost, "/api/auth/logout-all", nil, l.session)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Less(t, cookie(w, auth.SessionCookie).MaxAge, 0)

	w = s.do(http.MethodGet, "/api/auth/me", nil, l.session)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "TOKEN_REVOKED", errorCode(t, w))

	// Light routes keep accepting the token until it expires.
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/auth/permissions", nil, l.session).Code)

	// A session created after logout-all is accepted by full verification.
	again := s.login(t, "learner@example.com")
	w = s.do(http.MethodGet, "/api/auth/me", nil, again.session)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"tokenVersion":1`)
}

func TestRefresh_RotationAndReuse(t *testing.T) {
	s := newServer(t, 10)
	l := s.login(t, "learner@example.com")

	w := s.do(http.MethodPost, "/api/auth/refresh", nil, l.refresh)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rotated := cookie(w, auth.RefreshCookie)
	require.NotNil(t, rotated)
	assert.NotEqual(t, l.refresh.Value, rotated.Value)
	require.NotNil(t, cookie(w, auth.SessionCookie))

	w = s.do(http.MethodPost, "/api/auth/refresh", nil, l.refresh)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "REFRESH_REUSE_DETECTED", errorCode(t, w))
	assert.Less(t, cookie(w, auth.RefreshCookie).MaxAge, 0)

	w = s.do(http.MethodPost, "/api/auth/refresh", nil, rotated)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "TOKEN_REVOKED", errorCode(t, w))

	w = s.do(http.MethodPost, "/api/auth/refresh", nil)
	assert.Equal(t, "NO_TOKEN", errorCode(t, w))
}

func TestRefreshAndRedirect(t *testing.T) {
	s := newServer(t, 10)
	l := s.login(t, "admin@example.com")

	w := s.do(http.MethodGet, "/api/auth/refresh-and-redirect?redirect=%2Fadmin%2Fusers%3Fpage%3D2", nil, l.refresh)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/admin/users?page=2", w.Header().Get("Location"))
	next := cookie(w, auth.RefreshCookie)
	require.NotNil(t, next)

	w = s.do(http.MethodGet, "/api/auth/refresh-and-redirect?redirect=%2F%2Fevil.example", nil, next)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))

	w = s.do(http.MethodGet, "/api/auth/refresh-and-redirect?redirect=%2Fadmin", nil, &http.Cookie{Name: auth.RefreshCookie, Value: "junk"})
	assert.Equal(t, "/login?session=expired", w.Header().Get("Location"))
	assert.Less(t, cookie(w, auth.RefreshCookie).MaxAge, 0)

	w = s.do(http.MethodGet, "/api/auth/refresh-and-redirect?redirect=%2Fadmin", nil)
	assert.Equal(t, "/login?redirect=%2Fadmin", w.Header().Get("Location"))
}

func TestSafeRedirect(t *testing.T) {
	cases := map[string]string{
		"":                     "/",
		"/learner":             "/learner",
		"/a?b=c":               "/a?b=c",
		"https://evil.example": "/",
		"//evil.example":       "/",
		"/\\evil.example":      "/",
		"javascript:alert(1)":  "/",
	}
	for in, want := range cases {
		assert.Equal(t, want, SafeRedirect(in), in)
	}
}

func TestLogout(t *testing.T) {
	s := newServer(t, 10)
	l := s.login(t, "learner@example.com")

	w := s.do(http.MethodPost, "/api/auth/logout", nil, l.session, l.refresh)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Less(t, cookie(w, auth.SessionCookie).MaxAge, 0)
	assert.Less(t, cookie(w, auth.RefreshCookie).MaxAge, 0)

	w = s.do(http.MethodPost, "/api/auth/refresh", nil, l.refresh)
	assert.Equal(t, "TOKEN_REVOKED", errorCode(t, w))

	// Anonymous logout still succeeds.
	assert.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/auth/logout", nil).Code)
	assert.Len(t, s.events.OfType(audit.EventLogout), 1)
}

func TestSwitchNode(t *testing.T) {
	s := newServer(t, 10)
	l := s.login(t, "learner@example.com")

	w := s.do(http.MethodPost, "/api/auth/switch-node", gin.H{}, l.session)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/auth/switch-node", gin.H{"nodeId": "n-missing"}, l.session)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, "/api/auth/switch-node", gin.H{"nodeId": "n-2"}, l.session)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"ok":true,"nodeId":"n-2"}`, w.Body.String())
	next := cookie(w, auth.SessionCookie)
	require.NotNil(t, next)

	w = s.do(http.MethodGet, "/api/auth/me", nil, next)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"nodeId":"n-2"`)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/api/auth/switch-node", gin.H{"nodeId": "n-2"}).Code)
}

func TestPermissions(t *testing.T) {
	s := newServer(t, 10)
	l := s.login(t, "learner@example.com")

	w := s.do(http.MethodGet, "/api/auth/permissions", nil, l.session)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		ActiveRole  string   `json:"activeRole"`
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "LEARNER", body.ActiveRole)
	assert.Contains(t, body.Permissions, "course:read")
	assert.NotContains(t, body.Permissions, "security:sessions:read")
}

func TestAdminSessions(t *testing.T) {
	s := newServer(t, 10)
	admin := s.login(t, "admin@example.com")
	learner := s.login(t, "learner@example.com")

	w := s.do(http.MethodGet, "/api/admin/security/sessions", nil, learner.session)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/api/admin/security/sessions?userId=u-learner", nil, admin.session)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var list struct {
		Sessions []sessionView `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, "u-learner", list.Sessions[0].UserID)
	assert.Equal(t, "desktop", list.Sessions[0].DeviceType)
	assert.Equal(t, "unknown", list.Sessions[0].UserEmail)
	assert.Equal(t, "Unknown User", list.Sessions[0].UserName)
	assert.Equal(t, list.Sessions[0].CreatedAt, list.Sessions[0].LastActiveAt)

	w = s.do(http.MethodGet, "/api/admin/security/sessions?limit=abc", nil, admin.session)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodDelete, "/api/admin/security/sessions", nil, admin.session)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodDelete, "/api/admin/security/sessions?userId=u-learner", nil, admin.session)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodGet, "/api/auth/me", nil, learner.session)
	assert.Equal(t, "TOKEN_REVOKED", errorCode(t, w))

	// Only the successful listing is recorded; the 403 and 400 are not.
	access := s.events.OfType(audit.EventAPIAccess)
	require.Len(t, access, 1)
	assert.Equal(t, "u-admin", access[0].UserID)

	revokes := s.events.OfType(audit.EventSessionRevoke)
	require.Len(t, revokes, 1)
	assert.Equal(t, "u-learner", revokes[0].TargetUserID)
}

func TestAdminSessions_UserFilterAppliesBeforeLimit(t *testing.T) {
	s := newServer(t, 10)
	admin := s.login(t, "admin@example.com")
	s.login(t, "learner@example.com")
	s.login(t, "admin@example.com")

	w := s.do(http.MethodGet, "/api/admin/security/sessions?userId=u-learner&limit=1", nil, admin.session)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var list struct {
		Sessions []sessionView `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, "u-learner", list.Sessions[0].UserID)
}

func TestNewSessionView(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	v := newSessionView(audit.Login{
		Event: audit.Event{
			ID: "e-1", UserID: "u-1", IPAddress: "10.0.0.1", CreatedAt: at,
			UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0)",
			Metadata:  map[string]any{"activeRole": "LEARNER"},
		},
		UserEmail: "ada@example.com",
		FirstName: "Ada",
		LastName:  "Lovelace",
	})
	assert.Equal(t, "ada@example.com", v.UserEmail)
	assert.Equal(t, "Ada Lovelace", v.UserName)
	assert.Equal(t, "mobile", v.DeviceType)
	assert.Equal(t, "LEARNER", v.ActiveRole)
	assert.False(t, v.IsCurrent)

	empty := newSessionView(audit.Login{})
	assert.Equal(t, "0.0.0.0", empty.IP)
	assert.Equal(t, "unknown", empty.UserEmail)
}
