package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/relay-agent/pkg/api/dto"
	"github.com/LENAX/relay-agent/pkg/storage"
)

// AdminHandler 本地管理接口处理器
type AdminHandler struct {
	backend Backend
}

// NewAdminHandler 创建AdminHandler
func NewAdminHandler(backend Backend) *AdminHandler {
	return &AdminHandler{backend: backend}
}

// Status 运行状态
// GET /api/v1/status
func (h *AdminHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(h.backend.Status()))
}

// Pause 暂停调度，可选 duration 到期自动恢复
// POST /api/v1/scheduler/pause
func (h *AdminHandler) Pause(c *gin.Context) {
	var req dto.PauseRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("请求参数错误: %v", err)))
		return
	}

	var d time.Duration
	if req.Duration != "" {
		parsed, err := time.ParseDuration(req.Duration)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, "无效的暂停时长: "+req.Duration))
			return
		}
		d = parsed
	}

	h.backend.Pause(d)
	resp := dto.PauseResponse{State: string(h.backend.Status().Scheduler.State)}
	if d > 0 {
		resp.ResumeAfter = d.String()
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(resp))
}

// Resume 恢复调度
// POST /api/v1/scheduler/resume
func (h *AdminHandler) Resume(c *gin.Context) {
	h.backend.Resume()
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.PauseResponse{
		State: string(h.backend.Status().Scheduler.State),
	}))
}

// Executions 查询执行日志
// GET /api/v1/executions
func (h *AdminHandler) Executions(c *gin.Context) {
	var query dto.ExecutionQueryRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("查询参数错误: %v", err)))
		return
	}

	limit := query.GetDefaultLimit()
	records, total, err := h.backend.Executions(c.Request.Context(), storage.ExecutionFilter{
		TaskID:  query.TaskID,
		Source:  query.Source,
		Success: query.Success,
		Since:   query.Since,
		Until:   query.Until,
		Limit:   limit,
		Offset:  query.Offset,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	items := make([]storage.ExecutionRecord, 0, len(records))
	for _, r := range records {
		items = append(items, *r)
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.ListResponse[storage.ExecutionRecord]{
		Total:   total,
		Items:   items,
		HasMore: query.Offset+len(items) < total,
	}))
}

// OpenTarget 打开站点标签页并等待代理就绪
// POST /api/v1/targets/open
func (h *AdminHandler) OpenTarget(c *gin.Context) {
	var req dto.OpenTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("请求参数错误: %v", err)))
		return
	}

	info, err := h.backend.OpenTarget(c.Request.Context(), req.URL)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(info))
}
