package dto

import (
	"encoding/json"
	"time"
)

// OperationRequest 临时操作请求
type OperationRequest struct {
	Action    string          `json:"action"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// PauseRequest 暂停调度请求，Duration 为空表示无限期暂停
type PauseRequest struct {
	Duration string `json:"duration" binding:"omitempty"`
}

// OpenTargetRequest 打开站点标签页请求，URL 为空时使用配置中的站点地址
type OpenTargetRequest struct {
	URL string `json:"url" binding:"omitempty,url"`
}

// ExecutionQueryRequest 执行日志查询请求
type ExecutionQueryRequest struct {
	TaskID  string    `form:"task_id" binding:"omitempty"`
	Source  string    `form:"source" binding:"omitempty,oneof=scheduler adhoc keepalive"`
	Success *bool     `form:"success" binding:"omitempty"`
	Since   time.Time `form:"since" time_format:"2006-01-02T15:04:05Z07:00"`
	Until   time.Time `form:"until" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit   int       `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset  int       `form:"offset" binding:"omitempty,min=0"`
}

// GetDefaultLimit 获取默认limit
func (r *ExecutionQueryRequest) GetDefaultLimit() int {
	if r.Limit <= 0 {
		return 20
	}
	return r.Limit
}
