package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/relay-agent/pkg/api/dto"
)

// HealthHandler 健康检查处理器
type HealthHandler struct {
	backend   Backend
	version   string
	startTime time.Time
}

// NewHealthHandler 创建HealthHandler
func NewHealthHandler(backend Backend, version string) *HealthHandler {
	return &HealthHandler{
		backend:   backend,
		version:   version,
		startTime: time.Now(),
	}
}

// Health 健康检查
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	uptime := time.Since(h.startTime)

	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Uptime:    formatDuration(uptime),
		Timestamp: time.Now().Format(time.RFC3339),
	}))
}

// Ready 就绪检查：没有可用的站点标签页时返回 503
// GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	st := h.backend.Status()
	resp := dto.ReadyResponse{
		Status:    "ready",
		Connected: st.Connection.WasConnected,
		Targets:   len(st.Targets),
	}
	if !h.backend.Ready() {
		resp.Status = "not_ready"
		c.JSON(http.StatusServiceUnavailable, dto.APIResponse[dto.ReadyResponse]{
			Code:    http.StatusServiceUnavailable,
			Message: "没有可用的站点标签页",
			Data:    resp,
		})
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(resp))
}

// formatDuration 格式化时长
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
