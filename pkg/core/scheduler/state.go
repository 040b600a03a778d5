package scheduler

import "time"

// State 调度器状态
type State string

const (
	StateIdle      State = "idle"      // 未启动
	StatePolling   State = "polling"   // 长轮询中
	StateExecuting State = "executing" // 执行任务中
	StateReporting State = "reporting" // 上报结果中
	StateSleeping  State = "sleeping"  // 等待下次轮询
	StatePaused    State = "paused"    // 已暂停
	StateStopped   State = "stopped"   // 已停止（终态）
)

// Stats 调度统计
type Stats struct {
	State         State     `json:"state"`
	Polls         int64     `json:"polls"`
	PollErrors    int64     `json:"poll_errors"`
	TasksReceived int64     `json:"tasks_received"`
	TasksFailed   int64     `json:"tasks_failed"`
	ReportErrors  int64     `json:"report_errors"`
	LastPollAt    time.Time `json:"last_poll_at,omitempty"`
	PausedUntil   time.Time `json:"paused_until,omitempty"`
}
