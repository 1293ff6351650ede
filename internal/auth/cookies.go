package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	SessionCookie = "session"
	RefreshCookie = "refreshToken"

	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "
)

func (m *Manager) SetSessionCookie(c *gin.Context, token string) {
	m.setCookie(c, SessionCookie, token, m.accessTTL)
}

func (m *Manager) SetRefreshCookie(c *gin.Context, token string) {
	m.setCookie(c, RefreshCookie, token, m.refreshTTL)
}

// ClearCookies drops both auth cookies.
func (m *Manager) ClearCookies(c *gin.Context) {
	m.expireCookie(c, SessionCookie)
	m.expireCookie(c, RefreshCookie)
}

func (m *Manager) setCookie(c *gin.Context, name, value string, ttl time.Duration) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		Expires:  time.Now().Add(ttl),
		HttpOnly: true,
		Secure:   m.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *Manager) expireCookie(c *gin.Context, name string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   m.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// SessionToken returns the access token from the session cookie, falling
// back to an Authorization bearer header for non-browser clients.
func SessionToken(c *gin.Context) string {
	if v, err := c.Cookie(SessionCookie); err == nil && v != "" {
		return v
	}
	raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
	if strings.HasPrefix(raw, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(raw, bearerPrefix))
	}
	return ""
}

func RefreshToken(c *gin.Context) string {
	v, err := c.Cookie(RefreshCookie)
	if err != nil {
		return ""
	}
	return v
}
