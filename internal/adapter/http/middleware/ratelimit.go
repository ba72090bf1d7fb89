package middleware

import (
	"fmt"
	"strconv"
	"time"

	"face-checkout-core/config"
	redisStore "face-checkout-core/internal/adapter/storage/redis"
	"face-checkout-core/pkg/apperror"
	"face-checkout-core/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RateLimitRule defines a rate limit for an endpoint group.
type RateLimitRule struct {
	Limit  int64
	Window time.Duration
}

// RulesFromConfig builds the per-group rate limit rules. Frame posts carry
// the camera cadence and get the widest limit; settlement and enrollment
// are deliberate user actions and stay tight.
func RulesFromConfig(cfg config.RateLimitConfig) map[string]RateLimitRule {
	return map[string]RateLimitRule{
		"frames": {Limit: int64(cfg.FramesPerMinute), Window: time.Minute},
		"settle": {Limit: int64(cfg.SettlePerMinute), Window: time.Minute},
		"enroll": {Limit: int64(cfg.EnrollPerMinute), Window: time.Minute},
	}
}

// RateLimiter creates a rate-limiting middleware for a given endpoint group.
func RateLimiter(store *redisStore.RateLimitStore, group string, rule RateLimitRule, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := extractIdentifier(c)
		key := fmt.Sprintf("%s:%s", identifier, group)

		result, err := store.Allow(c.Request.Context(), key, rule.Limit, rule.Window)
		if err != nil {
			log.Warn().Err(err).Str("group", group).Msg("rate limit check failed, allowing request (degraded mode)")
			c.Next()
			return
		}

		// Always set rate limit headers
		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))

		if !result.Allowed {
			retryAfter := result.ResetAt - time.Now().Unix()
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			response.Error(c, apperror.ErrRateLimitExceeded())
			c.Abort()
			return
		}

		c.Next()
	}
}

// extractIdentifier determines the rate limit key source.
func extractIdentifier(c *gin.Context) string {
	if ak := c.GetHeader(HeaderAccessKey); ak != "" {
		return ak
	}
	if did, exists := c.Get(CtxDeviceID); exists {
		return fmt.Sprintf("%v", did)
	}
	if uid, exists := c.Get(CtxUserID); exists {
		return fmt.Sprintf("%v", uid)
	}
	return c.ClientIP()
}
