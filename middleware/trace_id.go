package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/montecarlo/tracing"
)

// HeaderXTraceID 定义 Trace ID 响应头名称。
const HeaderXTraceID = "X-Trace-ID"

// TraceIDHeader 把当前 Span 的 Trace ID 写入响应头，便于客户端关联日志。须注册在 TracingMiddleware 之后。
func TraceIDHeader() gin.HandlerFunc {
	return func(c *gin.Context) {
		if traceID := tracing.GetTraceID(c.Request.Context()); traceID != "" {
			c.Header(HeaderXTraceID, traceID)
		}
		c.Next()
	}
}
