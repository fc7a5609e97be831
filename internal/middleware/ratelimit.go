package middleware

import (
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/campusguard/backend/pkg/errors"
	"github.com/campusguard/backend/pkg/logger"
	"github.com/campusguard/backend/pkg/metrics"
	"github.com/campusguard/backend/pkg/response"
)

// RateLimitAction limits how often the authenticated user may perform a named
// action within a fixed window. Counters live in the supplied RateStore, so
// the policy is shared across instances when the store is. Must run after
// Auth; unauthenticated requests fall back to the client IP.
func RateLimitAction(store RateStore, action string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil || limit <= 0 || window <= 0 {
			c.Next()
			return
		}

		subject := UserID(c)
		if subject == "" {
			subject = c.ClientIP()
		}
		key := "ratelimit:" + action + ":" + subject

		count, ttl, err := store.Increment(c.Request.Context(), key, window)
		if err != nil {
			// A broken limiter must not take emergency features down with it.
			logger.WithModule("ratelimit").Error("rate store increment failed",
				zap.String("action", action), zap.Error(err))
			c.Next()
			return
		}

		remaining := limit - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(math.Ceil(ttl.Seconds()))))

		if count > limit {
			metrics.RateLimitRejections.WithLabelValues(action).Inc()
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(ttl.Seconds()))))
			response.Error(c, apperrors.ErrRateLimit)
			c.Abort()
			return
		}

		c.Next()
	}
}
