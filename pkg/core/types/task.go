package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// TaskID 任务ID（控制面可能下发数字或字符串，回报时保持原始类型）
type TaskID struct {
	value   string
	numeric bool
}

// NewTaskID 创建字符串类型的任务ID
func NewTaskID(id string) TaskID {
	return TaskID{value: id}
}

// NewNumericTaskID 创建数字类型的任务ID
func NewNumericTaskID(id int64) TaskID {
	return TaskID{value: strconv.FormatInt(id, 10), numeric: true}
}

// String 返回任务ID的字符串形式
func (id TaskID) String() string {
	return id.value
}

// IsZero 是否为空ID
func (id TaskID) IsZero() bool {
	return id.value == ""
}

// MarshalJSON 按下发时的类型序列化
func (id TaskID) MarshalJSON() ([]byte, error) {
	if id.numeric {
		return []byte(id.value), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON 兼容数字与字符串
func (id *TaskID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = TaskID{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = TaskID{value: s}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("无效的任务ID %s: %w", string(data), err)
	}
	*id = TaskID{value: n.String(), numeric: true}
	return nil
}

// TaskPayload 任务负载，body 优先于 data
type TaskPayload struct {
	Body any `json:"body,omitempty"`
	Data any `json:"data,omitempty"`
}

// Task 控制面下发的任务（对外导出）
type Task struct {
	ID             TaskID         `json:"id"`
	TaskType       *string        `json:"task_type"`
	HTTPMethod     string         `json:"http_method,omitempty"`
	Path           string         `json:"path,omitempty"`
	Params         map[string]any `json:"params,omitempty"`
	Payload        *TaskPayload   `json:"payload,omitempty"`
	ExecuteDelayMs int64          `json:"execute_delay_ms"`
}

// Type 返回任务类型，未设置时为空字符串
func (t *Task) Type() string {
	if t.TaskType == nil {
		return ""
	}
	return *t.TaskType
}

// maxDurationMs time.Duration 可表示的最大毫秒数
const maxDurationMs = int64(math.MaxInt64 / int64(time.Millisecond))

// millis 毫秒转换为 Duration，超出范围时截断为最大值
func millis(ms int64) time.Duration {
	if ms > maxDurationMs {
		return time.Duration(maxDurationMs) * time.Millisecond
	}
	return time.Duration(ms) * time.Millisecond
}

// ExecuteDelay 执行前需等待的时间（负数按0处理）
func (t *Task) ExecuteDelay() time.Duration {
	if t.ExecuteDelayMs <= 0 {
		return 0
	}
	return millis(t.ExecuteDelayMs)
}

// Body 返回请求体：payload.body 优先，其次 payload.data
func (t *Task) Body() any {
	if t.Payload == nil {
		return nil
	}
	if t.Payload.Body != nil {
		return t.Payload.Body
	}
	return t.Payload.Data
}

// ErrorDetails 失败详情
type ErrorDetails struct {
	StatusCode int    `json:"status_code,omitempty"`
	StatusText string `json:"status_text,omitempty"`
	Stack      string `json:"stack,omitempty"`
	Cause      string `json:"cause,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
}

// TaskResult 任务执行结果（每个下发的任务都会产生一条）
type TaskResult struct {
	TaskID       TaskID        `json:"task_id"`
	Success      bool          `json:"success"`
	Result       any           `json:"result,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	ErrorDetails *ErrorDetails `json:"error_details,omitempty"`
}

// NewSuccessResult 创建成功结果
func NewSuccessResult(id TaskID, result any) TaskResult {
	return TaskResult{TaskID: id, Success: true, Result: result}
}

// NewFailureResult 根据错误创建失败结果，尽量携带HTTP状态码
func NewFailureResult(id TaskID, err error) TaskResult {
	if err == nil {
		err = NewError(CodeInternal, "未知错误")
	}
	details := &ErrorDetails{ErrorCode: string(CodeOf(err))}
	if code, text, ok := StatusOf(err); ok {
		details.StatusCode = code
		details.StatusText = text
	}
	var typed *Error
	if AsError(err, &typed) {
		details.Stack = typed.Stack
		if typed.Err != nil {
			details.Cause = typed.Err.Error()
		}
	}
	return TaskResult{
		TaskID:       id,
		Success:      false,
		ErrorMessage: err.Error(),
		ErrorDetails: details,
	}
}

// PollResponse 长轮询响应
type PollResponse struct {
	HasPendingTasks    bool   `json:"has_pending_tasks"`
	Tasks              []Task `json:"tasks"`
	NextPollIntervalMs *int64 `json:"next_poll_interval_ms,omitempty"`
}

// NextPollInterval 返回服务端建议的轮询间隔，未设置时返回 fallback
func (r *PollResponse) NextPollInterval(fallback time.Duration) time.Duration {
	if r == nil || r.NextPollIntervalMs == nil || *r.NextPollIntervalMs < 0 {
		return fallback
	}
	return millis(*r.NextPollIntervalMs)
}

// SessionStatus 会话状态（每次检查时从标签页的 Cookie 存储实时推导）
type SessionStatus struct {
	HasSession bool   `json:"hasSession"`
	IsExpired  bool   `json:"isExpired"`
	Error      string `json:"error,omitempty"`
}

// Valid 会话存在且未过期
func (s SessionStatus) Valid() bool {
	return s.HasSession && !s.IsExpired
}

// ConnectionState 连接状态（仅由健康监视器修改）
type ConnectionState struct {
	WasConnected bool      `json:"was_connected"`
	LastChecked  time.Time `json:"last_checked"`
}
