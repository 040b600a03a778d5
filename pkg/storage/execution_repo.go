package storage

import (
	"context"
	"time"
)

// ExecutionRecord 一次任务执行的记录（对外导出）
// 只用于观测，不参与任务的重试或恢复
type ExecutionRecord struct {
	ID           string    `json:"id"`
	TaskID       string    `json:"task_id"`
	Kind         string    `json:"kind"`
	Source       string    `json:"source"`
	Success      bool      `json:"success"`
	StatusCode   int       `json:"status_code,omitempty"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	DurationMs   int64     `json:"duration_ms"`
	CreateTime   time.Time `json:"create_time"`
}

// ExecutionFilter 查询条件，零值字段不参与过滤
type ExecutionFilter struct {
	TaskID  string
	Source  string
	Success *bool
	Since   time.Time
	Until   time.Time
	Limit   int
	Offset  int
}

// ExecutionRepository 执行记录存储接口（对外导出）
type ExecutionRepository interface {
	// Save 写入一条记录，ID相同则覆盖
	Save(ctx context.Context, record *ExecutionRecord) error
	// GetByID 按ID查询，不存在时返回 nil, nil
	GetByID(ctx context.Context, id string) (*ExecutionRecord, error)
	// List 按开始时间倒序查询
	List(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error)
	// Count 统计满足条件的记录数（忽略Limit/Offset）
	Count(ctx context.Context, filter ExecutionFilter) (int, error)
	// DeleteBefore 删除开始时间早于 before 的记录，返回删除条数
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	// Close 关闭底层连接
	Close() error
}

// PoolOptions 连接池配置
type PoolOptions struct {
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}
