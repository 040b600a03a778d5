package engine

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/LENAX/relay-agent/pkg/core/bridge"
	"github.com/LENAX/relay-agent/pkg/core/dispatch"
	"github.com/LENAX/relay-agent/pkg/core/scheduler"
	"github.com/LENAX/relay-agent/pkg/core/target"
	"github.com/LENAX/relay-agent/pkg/core/types"
	"github.com/LENAX/relay-agent/pkg/events"
)

// 临时操作通道支持的动作
const (
	ActionPing           = "ping"
	ActionSessionStatus  = "session_status"
	ActionIdentity       = "identity"
	ActionAPIRequest     = "api_request"
	ActionRefreshSession = "refresh_session"
	ActionQueueStats     = "queue_stats"
)

// APIRequestPayload api_request 动作的负载
type APIRequestPayload struct {
	Method string         `json:"method"`
	Path   string         `json:"path"`
	Params map[string]any `json:"params,omitempty"`
	Body   any            `json:"body,omitempty"`
	Data   any            `json:"data,omitempty"`
}

// SessionStatusResult session_status 动作的结果
type SessionStatusResult struct {
	Target  target.Info         `json:"target"`
	Session types.SessionStatus `json:"session"`
}

// Operate 执行一次临时操作（对外导出）
// 除 queue_stats 外，所有动作与调度器任务一样进入同一个有界队列，按到达顺序执行
func (e *Engine) Operate(ctx context.Context, requestID, action string, payload json.RawMessage) (any, error) {
	if requestID == "" {
		requestID = uuid.NewString()
	}

	switch action {
	case ActionQueueStats:
		return e.queue.Stats(), nil
	case ActionPing:
		return e.runLocal(ctx, events.SourceAdhoc, requestID, namedTask(requestID, "ping"))
	case ActionIdentity:
		return e.runLocal(ctx, events.SourceAdhoc, requestID, namedTask(requestID, "identity"))
	case ActionRefreshSession:
		task := namedTask(requestID, "refresh_session")
		if body := rawBody(payload); body != nil {
			task.Payload = &types.TaskPayload{Body: body}
		}
		return e.runLocal(ctx, events.SourceAdhoc, requestID, task)
	case ActionAPIRequest:
		task, err := apiTask(requestID, payload)
		if err != nil {
			return nil, err
		}
		return e.runLocal(ctx, events.SourceAdhoc, requestID, task)
	case ActionSessionStatus:
		return e.enqueue(ctx, requestID, func(ctx context.Context) (any, error) {
			t, err := e.locator.Locate()
			if err != nil {
				return nil, err
			}
			status, err := e.bridge.ProbeSession(ctx, t)
			if err != nil {
				return nil, err
			}
			return SessionStatusResult{Target: t.Info(), Session: status}, nil
		})
	case "":
		return nil, types.NewError(types.CodeInvalidRequest, "缺少 action")
	default:
		return nil, types.NewError(types.CodeUnsupportedAction, "不支持的操作: "+action)
	}
}

// keepalive 定时保活：与控制面下发的 ping 任务走同一路径
func (e *Engine) keepalive(ctx context.Context) {
	if e.scheduler.State() == scheduler.StatePaused {
		e.log.Debug("[引擎] 调度已暂停，跳过保活")
		return
	}
	if _, err := e.locator.Locate(); err != nil {
		e.log.Debugf("[引擎] 没有可用的标签页，跳过保活: %v", err)
		return
	}

	id := "keepalive-" + time.Now().Format("20060102150405")
	if _, err := e.runLocal(ctx, events.SourceKeepalive, id, namedTask(id, "ping")); err != nil {
		e.log.Warnf("⚠️ [引擎] 会话保活失败: %v", err)
		return
	}
	e.log.Debug("💓 [引擎] 会话保活成功")
}

// runLocal 通过队列执行本地发起的任务并记录执行事件
func (e *Engine) runLocal(ctx context.Context, source events.Source, id string, task *types.Task) (any, error) {
	kind := ""
	if k, err := dispatch.Classify(task, e.cfg.Bridge.DocumentPrefixes); err == nil {
		kind = dispatch.KindName(k)
	}

	started := time.Now()
	res, err := e.enqueue(ctx, id, func(ctx context.Context) (any, error) {
		return e.dispatcher.Execute(ctx, task)
	})

	payload := events.ExecutionPayload{
		TaskID:     id,
		Kind:       kind,
		Source:     source,
		Success:    err == nil,
		StartedAt:  started,
		DurationMs: time.Since(started).Milliseconds(),
	}
	if err != nil {
		payload.ErrorCode = string(types.CodeOf(err))
		payload.ErrorMessage = err.Error()
		if code, _, ok := types.StatusOf(err); ok {
			payload.StatusCode = code
		}
	}
	if eerr := events.Emit(context.WithoutCancel(ctx), e.bus, events.TopicTaskExecuted, payload); eerr != nil {
		e.log.Debugf("[引擎] 发布执行事件失败: %v", eerr)
	}
	return res, err
}

func (e *Engine) enqueue(ctx context.Context, id string, exec func(ctx context.Context) (any, error)) (any, error) {
	ctx = bridge.WithCorrelationID(ctx, bridge.NewCorrelationID("op", id))
	return e.queue.Enqueue(ctx, exec)
}

func namedTask(id, taskType string) *types.Task {
	tt := taskType
	return &types.Task{ID: types.NewTaskID(id), TaskType: &tt}
}

func apiTask(id string, payload json.RawMessage) (*types.Task, error) {
	if len(payload) == 0 {
		return nil, types.NewError(types.CodeInvalidRequest, "api_request 缺少 payload")
	}
	var p APIRequestPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, types.Wrap(types.CodeInvalidRequest, "api_request 负载格式错误", err)
	}
	if strings.TrimSpace(p.Path) == "" {
		return nil, types.NewError(types.CodeInvalidRequest, "api_request 缺少 path")
	}
	if p.Method == "" {
		p.Method = "GET"
	}
	task := &types.Task{
		ID:         types.NewTaskID(id),
		HTTPMethod: p.Method,
		Path:       p.Path,
		Params:     p.Params,
	}
	if p.Body != nil || p.Data != nil {
		task.Payload = &types.TaskPayload{Body: p.Body, Data: p.Data}
	}
	return task, nil
}

// rawBody 解析 refresh_session 的可选请求体（payload.body 或整个 payload）
func rawBody(payload json.RawMessage) any {
	if len(payload) == 0 || string(payload) == "null" {
		return nil
	}
	var p types.TaskPayload
	if err := json.Unmarshal(payload, &p); err == nil && (p.Body != nil || p.Data != nil) {
		if p.Body != nil {
			return p.Body
		}
		return p.Data
	}
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil
	}
	return v
}
