package dao

import (
	"database/sql"
	"time"
)

// ExecutionDAO execution_record表的数据访问对象（内部使用）
type ExecutionDAO struct {
	ID           string         `db:"id"`
	TaskID       string         `db:"task_id"`
	Kind         string         `db:"kind"`
	Source       string         `db:"source"`
	Success      bool           `db:"success"`
	StatusCode   int            `db:"status_code"`
	ErrorCode    sql.NullString `db:"error_code"`
	ErrorMessage sql.NullString `db:"error_message"`
	StartedAt    time.Time      `db:"started_at"`
	DurationMs   int64          `db:"duration_ms"`
	CreateTime   time.Time      `db:"create_time"`
}

// ExecutionColumns execution_record表的列（与ExecutionDAO的db标签一致）
var ExecutionColumns = []string{
	"id", "task_id", "kind", "source", "success", "status_code",
	"error_code", "error_message", "started_at", "duration_ms", "create_time",
}

// NullString 空串转为 NULL
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
