package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/relay-agent/pkg/api/dto"
	"github.com/LENAX/relay-agent/pkg/core/types"
)

// httpStatus 错误码对应的HTTP状态
func httpStatus(err error) int {
	switch types.CodeOf(err) {
	case types.CodeInvalidRequest, types.CodeUnsupportedAction, types.CodeUnsupportedTask:
		return http.StatusBadRequest
	case types.CodeUnauthorizedOrigin:
		return http.StatusForbidden
	case types.CodeQueueFull:
		return http.StatusTooManyRequests
	case types.CodeNoTarget, types.CodeTargetUnavailable, types.CodeBridgeUnavailable:
		return http.StatusServiceUnavailable
	case types.CodeLoadTimeout, types.CodeTimeout:
		return http.StatusGatewayTimeout
	case types.CodeNoSession, types.CodeSessionExpired:
		return http.StatusUnauthorized
	case types.CodeRemote:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError 以通用信封返回错误
func abortWithError(c *gin.Context, err error) {
	status := httpStatus(err)
	c.JSON(status, dto.NewErrorResponse(status, err.Error()))
}
