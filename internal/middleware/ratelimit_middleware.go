package middleware

import (
	"net/http"
	"strconv"

	"capsule-vault/internal/throttle"
	"capsule-vault/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

// RateLimitMiddleware admits or denies every request before it can reach the
// registry, keyed on the caller-supplied user id. A request without a user id
// is refused outright and never counted against any window.
func RateLimitMiddleware(limiter *throttle.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		callerID := CallerID(c)
		if callerID == "" {
			c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("user id is required", "MISSING_USER_ID"))
			c.Abort()
			return
		}

		result := limiter.Allow(callerID)
		setRateLimitHeaders(c, result)

		if !result.Allowed {
			message := "rate limit exceeded: too many requests per minute"
			if result.Reason == throttle.ReasonHourExceeded {
				message = "rate limit exceeded: too many requests per hour"
			}
			c.JSON(http.StatusTooManyRequests, httpdto.NewErrorResponse(message, "RATE_LIMITED"))
			c.Abort()
			return
		}

		c.Next()
	}
}

// CallerID extracts the caller-supplied user id from the query string or the
// form body. It is an opaque string, not a verified identity.
func CallerID(c *gin.Context) string {
	if id := c.Query("user_id"); id != "" {
		return id
	}
	return c.PostForm("user_id")
}

// setRateLimitHeaders sets standard rate limit response headers
func setRateLimitHeaders(c *gin.Context, result *throttle.Result) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(result.ResetIn.Seconds()), 10))
}
