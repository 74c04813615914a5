package middleware

import (
	"time"

	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/modelmux/modelmux/common/helper"
	"github.com/modelmux/modelmux/common/logger"
)

// RequestLogger emits one structured log line per request.
func RequestLogger() func(c *gin.Context) {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Logger.Info("http request",
			zap.String("request_id", c.GetString(helper.RequestIdKey)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
