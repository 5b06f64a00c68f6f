package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RateLimiter 抽象限流检查，由 Redis 状态仓库实现。返回 true 表示超限。
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RateLimit 按客户端 IP 限流。检查自身出错时放行，限流不应成为故障点。
func RateLimit(limiter RateLimiter, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ratelimit:" + c.ClientIP()
		exceeded, err := limiter.CheckRateLimit(c.Request.Context(), key, limit, window)
		if err != nil {
			logrus.WithError(err).Warn("Rate limit check failed, allowing request")
			c.Next()
			return
		}
		if exceeded {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
