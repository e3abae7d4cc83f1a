package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/montecarlo/contextx"
)

// Logger 访问日志中间件。trace_id 由 logging.TraceHandler 自动注入。
func Logger(logger *slog.Logger, skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		if _, ok := skip[path]; ok {
			return
		}

		ctx := c.Request.Context()
		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}

		logger.Log(ctx, level, "HTTP Request",
			append(contextx.LogAttrs(ctx),
				"status", status,
				"method", c.Request.Method,
				"path", path,
				"query", c.Request.URL.RawQuery,
				"cost", time.Since(start),
				"user_agent", c.Request.UserAgent(),
			)...,
		)
	}
}
