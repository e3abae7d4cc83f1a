package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/montecarlo/contextx"
	"github.com/wyfcoding/montecarlo/idgen"
)

// HeaderXRequestID 请求 ID 的 HTTP 头。
const HeaderXRequestID = "X-Request-ID"

// RequestID 透传或生成请求 ID，并连同客户端 IP 一起注入请求 Context。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderXRequestID)
		if requestID == "" {
			requestID = idgen.GenRequestID()
		}

		ctx := contextx.WithRequestID(c.Request.Context(), requestID)
		ctx = contextx.WithIP(ctx, c.ClientIP())
		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderXRequestID, requestID)

		c.Next()
	}
}
