package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"pancomido/auth/internal/config"
)

const rateLimitPrefix = "rl:auth:"

// RateLimit caps requests per client IP with a fixed window counter in
// Redis. Redis failures let the request through.
func RateLimit(cfg config.RateLimitConfig, client redis.UniversalClient, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Enabled || client == nil || cfg.Requests <= 0 {
			c.Next()
			return
		}

		key := rateLimitPrefix + c.ClientIP()
		count, ttl, err := hit(c.Request.Context(), client, key, cfg.Window)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("rate limit unavailable")
			c.Next()
			return
		}

		if count > int64(cfg.Requests) {
			if ttl <= 0 {
				ttl = cfg.Window
			}
			c.Header("Retry-After", strconv.Itoa(int(ttl.Round(time.Second).Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Demasiadas solicitudes. Intenta más tarde.",
				"code":  "rate_limited",
			})
			return
		}

		c.Next()
	}
}

func hit(ctx context.Context, client redis.UniversalClient, key string, window time.Duration) (int64, time.Duration, error) {
	count, err := client.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("incr: %w", err)
	}
	// the first hit opens the window
	if count == 1 {
		if err := client.Expire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("expire: %w", err)
		}
		return count, window, nil
	}
	ttl, err := client.TTL(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("ttl: %w", err)
	}
	return count, ttl, nil
}
