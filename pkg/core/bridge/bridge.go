// Package bridge 内容桥：向执行目标发送动作并等待唯一响应
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LENAX/relay-agent/pkg/core/cancel"
	"github.com/LENAX/relay-agent/pkg/core/target"
	"github.com/LENAX/relay-agent/pkg/core/types"
)

// 执行目标支持的动作
const (
	ActionPing           = "ping"
	ActionGetCookies     = "getCookies"
	ActionGetIdentity    = "getIdentity"
	ActionRefreshSession = "refreshSession"
	ActionAPIRequest     = "apiRequest"
	ActionFetchDocument  = "fetchDocument"
)

type correlationKey struct{}

// WithCorrelationID 在 ctx 中指定关联ID，未指定时自动生成
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// NewCorrelationID 生成唯一关联ID：前缀-业务ID-随机后缀
// 业务ID可能由调用方提供且重复，不能单独作为关联ID
func NewCorrelationID(prefix, id string) string {
	suffix := uuid.NewString()[:8]
	if id == "" {
		return prefix + "-" + suffix
	}
	return prefix + "-" + id + "-" + suffix
}

// CorrelationIDFrom 读取 ctx 中的关联ID
func CorrelationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// Stats 内容桥统计
type Stats struct {
	Sent          int64 `json:"sent"`
	Succeeded     int64 `json:"succeeded"`
	Failed        int64 `json:"failed"`
	TimedOut      int64 `json:"timed_out"`
	LateResponses int64 `json:"late_responses"`
	InFlight      int   `json:"in_flight"`
}

type pendingCall struct {
	targetID string
	token    *cancel.Token
	respCh   chan *target.Response
}

// CookieSource 浏览器凭据存储（可读取页面脚本看不到的 HttpOnly Cookie）
type CookieSource interface {
	SessionCookie(ctx context.Context, siteURL, name string) (types.SessionStatus, error)
}

// Options 内容桥配置
type Options struct {
	DefaultTimeout time.Duration
	SessionCookie  string
	Registry       *cancel.Registry
	Cookies        CookieSource // 可选，未设置时仅通过页面脚本探测
	Logger         *zap.SugaredLogger
}

// Bridge 内容桥（对外导出）
type Bridge struct {
	defaultTimeout time.Duration
	sessionCookie  string
	registry       *cancel.Registry
	cookies        CookieSource
	log            *zap.SugaredLogger

	mu      sync.Mutex
	pending map[string]*pendingCall // correlationID -> call

	sent      int64 // atomic
	succeeded int64 // atomic
	failed    int64 // atomic
	timedOut  int64 // atomic
	late      int64 // atomic
}

// New 创建内容桥
func New(opts Options) *Bridge {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	if opts.SessionCookie == "" {
		opts.SessionCookie = "session"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Registry == nil {
		opts.Registry = cancel.NewRegistry(opts.Logger)
	}
	return &Bridge{
		defaultTimeout: opts.DefaultTimeout,
		sessionCookie:  opts.SessionCookie,
		registry:       opts.Registry,
		cookies:        opts.Cookies,
		log:            opts.Logger,
		pending:        make(map[string]*pendingCall),
	}
}

// Send 发送动作并等待响应
// 超时返回 TIMEOUT；目标关闭返回 TARGET_UNAVAILABLE；写入失败返回 BRIDGE_UNAVAILABLE；
// 远端失败返回携带状态码的 REMOTE_ERROR。超时或取消后到达的响应被丢弃并计数
func (b *Bridge) Send(ctx context.Context, t target.Target, action string, payload any, timeout time.Duration) (*target.Response, error) {
	if t == nil {
		return nil, types.NewError(types.CodeNoTarget, "未找到站点标签页，请先在浏览器中打开站点并登录")
	}
	if timeout <= 0 {
		timeout = b.defaultTimeout
	}
	corrID := CorrelationIDFrom(ctx)
	if corrID == "" {
		corrID = uuid.NewString()
	}

	tok := cancel.NewToken()
	call := &pendingCall{targetID: t.ID(), token: tok, respCh: make(chan *target.Response, 1)}

	b.mu.Lock()
	if _, dup := b.pending[corrID]; dup {
		b.mu.Unlock()
		return nil, types.NewError(types.CodeInvalidRequest, fmt.Sprintf("关联ID %s 正在使用中", corrID))
	}
	b.pending[corrID] = call
	b.mu.Unlock()
	defer b.settle(corrID, call)

	if !b.registry.Register(t.ID(), corrID, func(reason error) { tok.Cancel(reason) }) {
		atomic.AddInt64(&b.failed, 1)
		return nil, tok.Err()
	}

	timer := time.AfterFunc(timeout, func() {
		tok.Cancel(types.NewError(types.CodeTimeout, fmt.Sprintf("动作 %s 超时（%s）", action, timeout)))
	})
	defer timer.Stop()

	atomic.AddInt64(&b.sent, 1)
	if err := t.Send(ctx, target.Request{CorrelationID: corrID, Action: action, Payload: payload}); err != nil {
		tok.Cancel(err)
		atomic.AddInt64(&b.failed, 1)
		if types.CodeOf(err) == types.CodeTargetUnavailable {
			return nil, err
		}
		return nil, types.Wrap(types.CodeBridgeUnavailable, "内容桥不可用，请刷新站点页面后重试", err)
	}
	b.log.Debugf("[内容桥] 已发送: target=%s, action=%s, correlation=%s", t.ID(), action, corrID)

	select {
	case resp := <-call.respCh:
		return b.complete(resp)
	case <-tok.Done():
	case <-t.Done():
		tok.Cancel(types.NewError(types.CodeTargetUnavailable, "标签页已关闭，请重新打开站点"))
	case <-ctx.Done():
		tok.Cancel(types.Wrap(types.CodeCancelled, "调用已取消", ctx.Err()))
	}

	err := tok.Err()
	switch types.CodeOf(err) {
	case types.CodeTimeout:
		atomic.AddInt64(&b.timedOut, 1)
		b.log.Warnf("⏱️ [内容桥] 调用超时: target=%s, action=%s, correlation=%s", t.ID(), action, corrID)
	default:
		atomic.AddInt64(&b.failed, 1)
	}
	return nil, err
}

func (b *Bridge) complete(resp *target.Response) (*target.Response, error) {
	if resp.Success {
		atomic.AddInt64(&b.succeeded, 1)
		return resp, nil
	}
	atomic.AddInt64(&b.failed, 1)
	msg := resp.Error
	if msg == "" {
		msg = fmt.Sprintf("远端请求失败: %d %s", resp.Status, resp.StatusText)
	}
	if resp.ErrorCode != "" && resp.ErrorCode != string(types.CodeRemote) && resp.Status == 0 {
		return resp, types.NewError(types.Code(resp.ErrorCode), msg)
	}
	e := types.NewRemoteError(resp.Status, resp.StatusText, msg)
	if e.StatusCode == 0 {
		if status, text, ok := NestedStatus(resp.Data); ok {
			e.StatusCode, e.StatusText = status, text
		}
	}
	return resp, e
}

// settle 调用结束：移除在途记录与注册
func (b *Bridge) settle(corrID string, call *pendingCall) {
	b.mu.Lock()
	if cur, ok := b.pending[corrID]; ok && cur == call {
		delete(b.pending, corrID)
	}
	// 已结束的调用令牌置为取消，之后到达的响应一律视为迟到
	call.token.Cancel(types.ErrCancelled)
	var unread *target.Response
	select {
	case unread = <-call.respCh:
	default:
	}
	b.mu.Unlock()

	if unread != nil {
		b.drop(call.targetID, corrID, "调用已超时或取消")
	}
	b.registry.Unregister(call.targetID, corrID)
}

// Deliver 接收执行目标的响应（由接入点调用）
func (b *Bridge) Deliver(targetID string, resp *target.Response) {
	if resp == nil {
		return
	}
	b.mu.Lock()
	call, ok := b.pending[resp.CorrelationID]
	delivered := false
	reason := "调用已结束"
	if ok && call.targetID == targetID && !call.token.Cancelled() {
		select {
		case call.respCh <- resp:
			delivered = true
		default:
			reason = "重复响应"
		}
	}
	b.mu.Unlock()

	if !delivered {
		b.drop(targetID, resp.CorrelationID, reason)
	}
}

func (b *Bridge) drop(targetID, corrID, why string) {
	atomic.AddInt64(&b.late, 1)
	b.log.Infof("🗑️ [内容桥] 丢弃迟到响应: target=%s, correlation=%s, 原因=%s", targetID, corrID, why)
}

// Stats 获取统计
func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	inFlight := len(b.pending)
	b.mu.Unlock()
	return Stats{
		Sent:          atomic.LoadInt64(&b.sent),
		Succeeded:     atomic.LoadInt64(&b.succeeded),
		Failed:        atomic.LoadInt64(&b.failed),
		TimedOut:      atomic.LoadInt64(&b.timedOut),
		LateResponses: atomic.LoadInt64(&b.late),
		InFlight:      inFlight,
	}
}

// ProbeSession 通过 Cookie 存储检查会话（实现 target.SessionProber）
// 优先读取浏览器凭据存储，失败时退回页面脚本探测
func (b *Bridge) ProbeSession(ctx context.Context, t target.Target) (types.SessionStatus, error) {
	if b.cookies != nil && t != nil {
		status, err := b.cookies.SessionCookie(ctx, t.Info().URL, b.sessionCookie)
		if err == nil {
			return status, nil
		}
		b.log.Debugf("[内容桥] 读取浏览器Cookie失败，改用页面脚本探测: %v", err)
	}
	resp, err := b.Send(ctx, t, ActionGetCookies, map[string]any{"name": b.sessionCookie}, 0)
	if err != nil {
		return types.SessionStatus{Error: err.Error()}, err
	}
	var status types.SessionStatus
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &status); err != nil {
			return types.SessionStatus{Error: err.Error()}, types.Wrap(types.CodeRemote, "无法解析会话状态", err)
		}
	}
	return status, nil
}

// NestedStatus 从响应数据中提取状态码：优先嵌套的 response.status，其次顶层 >=400 的 status
func NestedStatus(data json.RawMessage) (int, string, bool) {
	if len(data) == 0 {
		return 0, "", false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return 0, "", false
	}
	if raw, ok := fields["response"]; ok {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(raw, &nested); err == nil {
			if n, ok := parseStatus(nested["status"]); ok && n > 0 {
				return n, parseText(nested["statusText"]), true
			}
		}
	}
	if n, ok := parseStatus(fields["status"]); ok && n >= 400 {
		return n, parseText(fields["statusText"]), true
	}
	return 0, "", false
}

func parseStatus(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	v, err := n.Int64()
	if err != nil {
		return 0, false
	}
	return int(v), true
}

func parseText(raw json.RawMessage) string {
	var s string
	_ = json.Unmarshal(raw, &s)
	return s
}
