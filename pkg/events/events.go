// Package events 提供进程内事件总线：执行目标生命周期、连接状态与任务执行事件
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Topic 事件主题
type Topic string

const (
	// 执行目标事件
	TopicTargetConnected Topic = "target.connected" // 标签页代理接入并就绪
	TopicTargetClosed    Topic = "target.closed"    // 标签页关闭或导航离开

	// 连接事件
	TopicConnectionLost     Topic = "connection.lost"     // 会话登出
	TopicConnectionRestored Topic = "connection.restored" // 会话恢复

	// 执行事件
	TopicTaskExecuted Topic = "task.executed" // 任务/临时操作执行完成

	// 调度器事件
	TopicSchedulerState Topic = "scheduler.state" // 调度器状态变化
)

// Event 事件基础结构
type Event struct {
	ID            string            `json:"id"`             // 事件ID（UUID）
	Topic         Topic             `json:"topic"`          // 事件主题
	Timestamp     time.Time         `json:"timestamp"`      // 事件时间
	Payload       json.RawMessage   `json:"payload"`        // 事件负载
	Metadata      map[string]string `json:"metadata"`       // 元数据
	CorrelationID string            `json:"correlation_id"` // 关联ID（用于追踪）
}

// NewEvent 创建事件，负载序列化为JSON
func NewEvent(topic Topic, payload any) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化事件负载失败: %w", err)
	}
	return &Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Timestamp: time.Now(),
		Payload:   raw,
		Metadata:  make(map[string]string),
	}, nil
}

// WithMetadata 添加元数据
func (e *Event) WithMetadata(key, value string) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// WithCorrelationID 设置关联ID
func (e *Event) WithCorrelationID(correlationID string) *Event {
	e.CorrelationID = correlationID
	return e
}

// Decode 反序列化负载
func (e *Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("事件 %s 没有负载", e.ID)
	}
	return json.Unmarshal(e.Payload, v)
}

// TargetPayload 执行目标事件负载
type TargetPayload struct {
	TargetID string `json:"target_id"`
	URL      string `json:"url,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// ConnectionPayload 连接事件负载
type ConnectionPayload struct {
	Reason     string    `json:"reason"`
	DetectedAt time.Time `json:"detected_at"`
	UserID     string    `json:"user_id,omitempty"`
	LoginName  string    `json:"login_name,omitempty"`
	Notified   bool      `json:"notified"` // 是否已成功通知控制面
}

// Source 执行来源
type Source string

const (
	SourceScheduler Source = "scheduler" // 控制面长轮询任务
	SourceAdhoc     Source = "adhoc"     // 临时操作通道
	SourceKeepalive Source = "keepalive" // 定时保活
)

// ExecutionPayload 执行完成事件负载
type ExecutionPayload struct {
	TaskID       string    `json:"task_id"`
	Kind         string    `json:"kind"`
	Source       Source    `json:"source"`
	Success      bool      `json:"success"`
	StatusCode   int       `json:"status_code,omitempty"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	DurationMs   int64     `json:"duration_ms"`
}

// SchedulerStatePayload 调度器状态事件负载
type SchedulerStatePayload struct {
	OldState string `json:"old_state"`
	NewState string `json:"new_state"`
	Reason   string `json:"reason,omitempty"`
}
