package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/LENAX/relay-agent/pkg/api/dto"
	"github.com/LENAX/relay-agent/pkg/core/types"
)

// OperationHandler 临时操作通道处理器
type OperationHandler struct {
	backend Backend
	log     *zap.SugaredLogger
}

// NewOperationHandler 创建OperationHandler
func NewOperationHandler(backend Backend, log *zap.SugaredLogger) *OperationHandler {
	return &OperationHandler{backend: backend, log: log}
}

// Operate 执行临时操作，来源校验由中间件完成
// POST /api/v1/operations
func (h *OperationHandler) Operate(c *gin.Context) {
	var req dto.OperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.OperationResponse{
			Error:     "请求体格式错误: " + err.Error(),
			ErrorCode: string(types.CodeInvalidRequest),
		})
		return
	}

	result, err := h.backend.Operate(c.Request.Context(), req.RequestID, req.Action, req.Payload)
	if err != nil {
		h.log.Debugf("[操作通道] 操作失败: action=%s, requestId=%s, err=%v", req.Action, req.RequestID, err)
		c.JSON(httpStatus(err), dto.OperationResponse{
			RequestID: req.RequestID,
			Error:     err.Error(),
			ErrorCode: string(types.CodeOf(err)),
		})
		return
	}

	resp := dto.OperationResponse{Success: true, RequestID: req.RequestID}
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			c.JSON(http.StatusInternalServerError, dto.OperationResponse{
				RequestID: req.RequestID,
				Error:     "结果序列化失败: " + err.Error(),
				ErrorCode: string(types.CodeInternal),
			})
			return
		}
		resp.Data = data
	}
	c.JSON(http.StatusOK, resp)
}
