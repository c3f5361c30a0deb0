package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	limiter "github.com/sethvargo/go-limiter"
	"github.com/sethvargo/go-limiter/memorystore"
	"go.uber.org/zap"
)

// NewRateLimitStore builds an in-memory token bucket allowing perMinute requests per client.
func NewRateLimitStore(perMinute int) (limiter.Store, error) {
	return memorystore.New(&memorystore.Config{
		Tokens:   uint64(perMinute),
		Interval: time.Minute,
	})
}

// RateLimit rejects clients that exhausted their bucket with 429.
// A nil store disables limiting.
func RateLimit(store limiter.Store, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		if store == nil {
			contextGin.Next()
			return
		}
		clientIP := contextGin.ClientIP()
		limit, remaining, reset, ok, err := store.Take(contextGin.Request.Context(), clientIP)
		if err != nil {
			logger.Error("rate limiter unavailable",
				zap.String("code", "ratelimit.take_failed"),
				zap.Error(err))
			contextGin.Next()
			return
		}
		contextGin.Header("X-RateLimit-Limit", strconv.FormatUint(limit, 10))
		contextGin.Header("X-RateLimit-Remaining", strconv.FormatUint(remaining, 10))
		if !ok {
			resetAt := time.Unix(0, int64(reset))
			retryAfter := int(time.Until(resetAt).Seconds()) + 1
			if retryAfter < 1 {
				retryAfter = 1
			}
			contextGin.Header("Retry-After", strconv.Itoa(retryAfter))
			logger.Warn("rate limit exceeded",
				zap.String("code", "ratelimit.exceeded"),
				zap.String("ip", clientIP),
				zap.String("path", contextGin.FullPath()))
			contextGin.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}
		contextGin.Next()
	}
}

// CloseRateLimitStore releases the store's background sweeper.
func CloseRateLimitStore(ctx context.Context, store limiter.Store) error {
	if store == nil {
		return nil
	}
	return store.Close(ctx)
}
