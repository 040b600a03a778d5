package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Logger 请求日志中间件，健康检查只记 debug
func Logger(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		fields := []any{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client", c.ClientIP(),
		}
		if origin := c.GetHeader("Origin"); origin != "" {
			fields = append(fields, "origin", origin)
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}

		switch {
		case path == "/health" || path == "/ready":
			log.Debugw("[API] 请求", fields...)
		case c.Writer.Status() >= 500:
			log.Errorw("❌ [API] 请求失败", fields...)
		case c.Writer.Status() >= 400:
			log.Warnw("⚠️ [API] 请求被拒绝", fields...)
		default:
			log.Infow("[API] 请求", fields...)
		}
	}
}
