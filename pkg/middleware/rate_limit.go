package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bunkmate/referral-service/pkg/common"
	"github.com/bunkmate/referral-service/pkg/config"
	"github.com/bunkmate/referral-service/pkg/logger"
	"github.com/bunkmate/referral-service/pkg/ratelimit"
)

// ActorIDHeader carries the gateway-authenticated actor identity.
const ActorIDHeader = "X-Actor-ID"

// RateLimit enforces the Redis token bucket per endpoint and identity.
// Gateway-authenticated requests (those carrying X-Actor-ID) get the
// default budget, anonymous callers the stricter one. The limiter fails
// open: a Redis outage must not take the API down with it.
func RateLimit(limiter *ratelimit.Limiter, cfg config.RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Enabled || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		endpointKey := c.FullPath()
		if endpointKey == "" {
			endpointKey = c.Request.URL.Path
		}
		endpointKey = c.Request.Method + ":" + endpointKey

		actor := strings.TrimSpace(c.GetHeader(ActorIDHeader))
		authenticated := actor != ""

		identityKey := "ip:" + c.ClientIP()
		if authenticated {
			identityKey = "actor:" + actor
		}

		rule := limiter.RuleFor(authenticated)

		result, err := limiter.Allow(c.Request.Context(), endpointKey, identityKey, rule)
		if err != nil {
			logger.WarnContext(c.Request.Context(), "Rate limiter unavailable, allowing request",
				zap.String("endpoint", endpointKey),
				zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Window", result.Window.String())

		if !result.Allowed {
			retryAfter := int(result.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			common.ErrorResponse(c, http.StatusTooManyRequests,
				fmt.Sprintf("rate limit exceeded, retry after %ds", retryAfter))
			c.Abort()
			return
		}

		c.Next()
	}
}
