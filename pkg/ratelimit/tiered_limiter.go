package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stacklayer/custody-service/internal/infrastructure/cache"
)

// TieredConfig defines rate limits per tier. A zero limit disables
// that tier.
type TieredConfig struct {
	UserLimit      int64
	UserWindow     time.Duration
	EndpointLimits map[string]EndpointLimit
}

// EndpointLimit overrides the user limit for one route
type EndpointLimit struct {
	Limit  int64
	Window time.Duration
}

// TieredLimiter enforces per-user and per-endpoint request budgets
// with fixed windows counted in Redis, so limits hold across replicas.
type TieredLimiter struct {
	redis  cache.RedisClient
	config TieredConfig
	logger *zap.Logger
}

// NewTieredLimiter creates a new tiered rate limiter
func NewTieredLimiter(redis cache.RedisClient, config TieredConfig, logger *zap.Logger) *TieredLimiter {
	return &TieredLimiter{
		redis:  redis,
		config: config,
		logger: logger,
	}
}

// CheckResult contains the result of a rate limit check
type CheckResult struct {
	Allowed    bool
	RetryAfter time.Duration
	LimitedBy  string
}

// Check applies the user tier, then any endpoint override
func (l *TieredLimiter) Check(ctx context.Context, userID, endpoint string) (*CheckResult, error) {
	if l.config.UserLimit > 0 && userID != "" {
		allowed, err := l.checkWindow(ctx, "user:"+userID, l.config.UserLimit, l.config.UserWindow)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return &CheckResult{Allowed: false, RetryAfter: l.config.UserWindow, LimitedBy: "user"}, nil
		}
	}

	if endpointLimit, ok := l.config.EndpointLimits[endpoint]; ok && endpointLimit.Limit > 0 {
		key := fmt.Sprintf("endpoint:%s:%s", endpoint, userID)
		allowed, err := l.checkWindow(ctx, key, endpointLimit.Limit, endpointLimit.Window)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return &CheckResult{Allowed: false, RetryAfter: endpointLimit.Window, LimitedBy: "endpoint"}, nil
		}
	}

	return &CheckResult{Allowed: true}, nil
}

func (l *TieredLimiter) checkWindow(ctx context.Context, key string, limit int64, window time.Duration) (bool, error) {
	if window <= 0 {
		window = time.Minute
	}

	bucket := time.Now().Unix() / int64(window.Seconds())
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, bucket)

	count, err := l.redis.Incr(ctx, redisKey)
	if err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}
	if count == 1 {
		// First hit in this window owns the expiry.
		if err := l.redis.Expire(ctx, redisKey, window+time.Second); err != nil {
			l.logger.Warn("Failed to set rate limit expiry", zap.String("key", redisKey), zap.Error(err))
		}
	}

	return count <= limit, nil
}

// Middleware enforces the limiter on authenticated routes. Redis
// trouble fails open: availability beats strict accounting here.
func Middleware(limiter *TieredLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || limiter.redis == nil {
			c.Next()
			return
		}

		userID := ""
		if v, ok := c.Get("user_id"); ok {
			userID = fmt.Sprintf("%v", v)
		}

		result, err := limiter.Check(c.Request.Context(), userID, c.FullPath())
		if err != nil {
			limiter.logger.Warn("Rate limit check failed, allowing request", zap.Error(err))
			c.Next()
			return
		}

		if !result.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "RATE_LIMITED",
				"message":    fmt.Sprintf("too many requests, limited by %s quota", result.LimitedBy),
				"request_id": c.GetString("request_id"),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
