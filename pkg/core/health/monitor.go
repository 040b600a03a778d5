// Package health 连接健康监视：检测第三方站点会话是否被静默登出
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/LENAX/relay-agent/pkg/core/dispatch"
	"github.com/LENAX/relay-agent/pkg/core/target"
	"github.com/LENAX/relay-agent/pkg/core/types"
	"github.com/LENAX/relay-agent/pkg/events"
)

// Locator 执行目标定位
type Locator interface {
	Locate() (target.Target, error)
}

// IdentityFetcher 获取当前登录用户
type IdentityFetcher interface {
	Identity(ctx context.Context, t target.Target) (dispatch.Identity, error)
}

// Notifier 向控制面发送断开通知
type Notifier interface {
	NotifyDisconnect(ctx context.Context, reason string, detectedAt time.Time) error
}

// Options 监视器配置
type Options struct {
	Locator   Locator
	Identity  IdentityFetcher
	Notifier  Notifier
	Publisher events.Publisher
	Interval  time.Duration
	Logger    *zap.SugaredLogger
}

// Monitor 连接健康监视器（对外导出）
// 不持有定时器，由调度循环调用 MaybeCheck，与调度器共享暂停/停止状态
type Monitor struct {
	opts Options
	log  *zap.SugaredLogger
	now  func() time.Time

	mu    sync.Mutex
	state types.ConnectionState
}

// New 创建监视器
func New(opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Monitor{opts: opts, log: opts.Logger, now: time.Now}
}

// State 当前连接状态
func (m *Monitor) State() types.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Due 距上次检查是否已超过间隔
func (m *Monitor) Due() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.LastChecked.IsZero() || m.now().Sub(m.state.LastChecked) >= m.opts.Interval
}

// MaybeCheck 到期时执行一次检查，返回是否执行了检查
func (m *Monitor) MaybeCheck(ctx context.Context) bool {
	if !m.Due() {
		return false
	}
	m.Check(ctx)
	return true
}

// Check 立即检查一次连接状态
// 没有执行目标时静默跳过；已连接→断开时通知控制面一次（尽力而为，失败只记录日志）
func (m *Monitor) Check(ctx context.Context) {
	now := m.now()

	t, err := m.opts.Locator.Locate()
	if err != nil {
		m.mu.Lock()
		m.state.LastChecked = now
		m.mu.Unlock()
		m.log.Debugf("[健康检查] 未找到执行目标，跳过: %v", err)
		return
	}

	var (
		connected bool
		ident     dispatch.Identity
		reason    string
	)
	ident, err = m.opts.Identity.Identity(ctx, t)
	if err != nil {
		reason = err.Error()
	} else {
		connected = ident.Connected()
		if !connected {
			reason = "用户信息缺少用户ID或登录名"
		}
	}

	m.mu.Lock()
	wasConnected := m.state.WasConnected
	m.mu.Unlock()

	notified := false
	if wasConnected && !connected {
		m.log.Warnf("🔌 [健康检查] 检测到站点会话已断开: %s", reason)
		if m.opts.Notifier != nil {
			if nerr := m.opts.Notifier.NotifyDisconnect(ctx, reason, now); nerr != nil {
				m.log.Errorf("❌ [健康检查] 通知控制面失败: %v", nerr)
			} else {
				notified = true
			}
		}
		_ = events.Emit(ctx, m.opts.Publisher, events.TopicConnectionLost, events.ConnectionPayload{
			Reason:     reason,
			DetectedAt: now,
			Notified:   notified,
		})
	} else if !wasConnected && connected {
		m.log.Infof("✅ [健康检查] 站点会话已连接: user=%s", ident.LoginName)
		_ = events.Emit(ctx, m.opts.Publisher, events.TopicConnectionRestored, events.ConnectionPayload{
			DetectedAt: now,
			UserID:     ident.UserID,
			LoginName:  ident.LoginName,
		})
	}

	// 无论通知是否成功都更新状态
	m.mu.Lock()
	m.state = types.ConnectionState{WasConnected: connected, LastChecked: now}
	m.mu.Unlock()
}
