package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"capsule-vault/internal/middleware"
	"capsule-vault/internal/throttle"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newThrottledRouter(cfg throttle.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RateLimitMiddleware(throttle.NewLimiter(cfg)))
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	return r
}

func TestRateLimitMissingUserID(t *testing.T) {
	r := newThrottledRouter(throttle.DefaultConfig())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "MISSING_USER_ID")
}

func TestRateLimitCeiling(t *testing.T) {
	r := newThrottledRouter(throttle.Config{
		MinuteLimit:  3,
		MinuteWindow: throttle.DefaultConfig().MinuteWindow,
		HourLimit:    1000,
		HourWindow:   throttle.DefaultConfig().HourWindow,
	})

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping?user_id=alice", nil)
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping?user_id=alice", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "per minute")
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	// Another caller is unaffected.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/ping?user_id=bob", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
