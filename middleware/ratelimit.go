package middleware

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/montecarlo/limiter"
	"github.com/wyfcoding/montecarlo/response"
)

// RateLimit 以客户端 IP 为 key 对请求限流；l 为 nil 时不限流。
// 限流组件故障时放行请求 (fail-open)，并记录错误日志。
func RateLimit(l limiter.Limiter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key := c.ClientIP()
		allowed, err := l.Allow(ctx, key)
		if err != nil {
			logger.ErrorContext(ctx, "rate limiter internal error, fail-open applied", "key", key, "error", err)
			c.Next()
			return
		}

		if !allowed {
			logger.WarnContext(ctx, "request rejected by rate limiter", "key", key, "path", c.Request.URL.Path)
			response.ErrorWithStatus(c, http.StatusTooManyRequests, "too many requests", "pricing rate limit exceeded")
			c.Abort()
			return
		}

		c.Next()
	}
}
