package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"docuchat-backend/internal/logger"
	"docuchat-backend/utils"
)

// rateLimitExemptPaths are never counted against the window, so monitoring
// probes cannot exhaust a client's budget.
var rateLimitExemptPaths = map[string]bool{
	"/health": true,
}

// RateLimit enforces a fixed-window per-IP limit backed by Redis. When
// Redis is unavailable the limiter fails open; chat availability wins over
// strict enforcement.
func RateLimit(client *redis.Client, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if client == nil || rateLimitExemptPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		key := fmt.Sprintf("ratelimit:%s:%d", c.ClientIP(), time.Now().Unix()/int64(window.Seconds()))

		count, err := client.Incr(c.Request.Context(), key).Result()
		if err != nil {
			logger.Warn("rate limiter unavailable, failing open", "error", err)
			c.Next()
			return
		}
		if count == 1 {
			client.Expire(c.Request.Context(), key, window)
		}

		if count > int64(limit) {
			c.Header("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			utils.RespondWithError(c, http.StatusTooManyRequests, "rate limit exceeded")
			c.Abort()
			return
		}

		c.Next()
	}
}
