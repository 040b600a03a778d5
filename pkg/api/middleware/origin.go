package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/relay-agent/pkg/api/dto"
	"github.com/LENAX/relay-agent/pkg/core/types"
)

// OriginChecker 判断请求来源是否在白名单内
type OriginChecker func(origin string) bool

// CORS 为白名单内的来源回写跨域头，并直接应答预检请求
func CORS(allowed OriginChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && allowed(origin) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			h.Add("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequireOrigin 临时操作通道的来源校验：必须携带白名单内的 Origin
func RequireOrigin(allowed OriginChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if !allowed(origin) {
			c.AbortWithStatusJSON(http.StatusForbidden, dto.OperationResponse{
				Success:   false,
				Error:     "来源不在白名单内: " + origin,
				ErrorCode: string(types.CodeUnauthorizedOrigin),
			})
			return
		}
		c.Next()
	}
}

// RejectForeignOrigin 管理接口的来源校验
// 本地命令行不带 Origin，直接放行；浏览器发起的请求必须来自白名单
func RejectForeignOrigin(allowed OriginChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && !allowed(origin) {
			c.AbortWithStatusJSON(http.StatusForbidden, dto.NewErrorResponse(403, "来源不在白名单内: "+origin))
			return
		}
		c.Next()
	}
}
