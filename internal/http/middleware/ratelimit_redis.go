package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
)

var redisClient *redis.Client

// SetClient reuses an already-connected Redis client instead of dialing a
// second one, used when the caller already built one for the registry and
// state store.
func SetClient(rdb *redis.Client) {
    redisClient = rdb
}

// RedisRateLimit implements a simple fixed-window rate limiter using Redis INCR/EXPIRE.
// key format: rl:<window_seconds>:<identifier>
func RedisRateLimit(maxRequests int, window time.Duration) gin.HandlerFunc {
    return func(c *gin.Context) {
        if redisClient == nil {
            // fallback to allowing requests if Redis not configured
            c.Next()
            return
        }

        ident := c.ClientIP()
        key := "rl:" + strconv.FormatInt(int64(window.Seconds()), 10) + ":" + ident
        ctx := context.Background()

        // increment
        val, err := redisClient.Incr(ctx, key).Result()
        if err != nil {
            // on Redis error, fail-open (allow) but set header
            c.Header("X-RateLimit-Error", "redis-error")
            c.Next()
            return
        }

        if val == 1 {
            // first increment, set expiry
            redisClient.Expire(ctx, key, window)
        }

        if val > int64(maxRequests) {
            // metrics
            RLBlocked.WithLabelValues(c.FullPath()).Inc()
            c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
            return
        }

        // metrics
        RLRequests.WithLabelValues(c.FullPath()).Inc()

        c.Next()
    }
}
