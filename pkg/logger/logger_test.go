package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_LogsRequestSummary(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	l := NewWithWriter("production", &buf)

	r := gin.New()
	r.Use(Middleware(l))
	r.GET("/api/auth/me", func(c *gin.Context) {
		c.Set("user_id", "u-1")
		assert.Same(t, FromGin(c), From(c.Request.Context()))
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set(headerRequestID, "rid-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "rid-1", w.Header().Get(headerRequestID))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "request", line["msg"])
	assert.Equal(t, "rid-1", line["request_id"])
	assert.Equal(t, "/api/auth/me", line["path"])
	assert.Equal(t, float64(http.StatusNoContent), line["status"])
	assert.Equal(t, "u-1", line["user_id"])
	assert.Equal(t, "lms-auth", line["service"])
}

func TestFromFallsBackToDefault(t *testing.T) {
	assert.NotNil(t, From(context.Background()))
}

func TestDebugLevelOnlyInDev(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter("production", &buf).Debug("hidden")
	assert.Empty(t, buf.String())

	NewWithWriter("dev", &buf).Debug("shown")
	assert.Contains(t, buf.String(), "shown")
}
