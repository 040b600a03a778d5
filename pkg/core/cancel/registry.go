package cancel

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/LENAX/relay-agent/pkg/core/types"
)

// closedTTL 失效标记保留时长，超过后清理
const closedTTL = 10 * time.Minute

type registration struct {
	onInvalidate func(reason error)
}

type closedEntry struct {
	reason error
	at     time.Time
}

// Registry 取消注册表（对外导出）
// 以 (targetID, correlationID) 为键，执行目标关闭时批量失效其上的所有在途调用
type Registry struct {
	mu      sync.Mutex
	entries map[string]map[string]registration // targetID -> correlationID -> registration
	closed  map[string]closedEntry             // 已失效的 targetID
	logger  *zap.SugaredLogger
	now     func() time.Time
}

// NewRegistry 创建取消注册表
func NewRegistry(logger *zap.SugaredLogger) *Registry {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Registry{
		entries: make(map[string]map[string]registration),
		closed:  make(map[string]closedEntry),
		logger:  logger,
		now:     time.Now,
	}
}

// Register 登记一次在途调用
// 若目标已失效，回调立即执行并返回 false
func (r *Registry) Register(targetID, correlationID string, onInvalidate func(reason error)) bool {
	r.mu.Lock()
	if c, ok := r.closed[targetID]; ok {
		r.mu.Unlock()
		if onInvalidate != nil {
			onInvalidate(c.reason)
		}
		return false
	}
	byCorr, ok := r.entries[targetID]
	if !ok {
		byCorr = make(map[string]registration)
		r.entries[targetID] = byCorr
	}
	byCorr[correlationID] = registration{onInvalidate: onInvalidate}
	r.mu.Unlock()
	return true
}

// Unregister 调用结束后移除登记（幂等）
func (r *Registry) Unregister(targetID, correlationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byCorr, ok := r.entries[targetID]
	if !ok {
		return
	}
	delete(byCorr, correlationID)
	if len(byCorr) == 0 {
		delete(r.entries, targetID)
	}
}

// Invalidate 使目标上的全部登记失效（目标关闭时调用）
// 重复调用只有第一次生效，返回被失效的登记数
func (r *Registry) Invalidate(targetID string, reason error) int {
	if reason == nil {
		reason = types.ErrTargetUnavailable
	}

	r.mu.Lock()
	if _, ok := r.closed[targetID]; ok {
		r.mu.Unlock()
		return 0
	}
	now := r.now()
	for id, c := range r.closed {
		if now.Sub(c.at) > closedTTL {
			delete(r.closed, id)
		}
	}
	r.closed[targetID] = closedEntry{reason: reason, at: now}
	byCorr := r.entries[targetID]
	delete(r.entries, targetID)
	r.mu.Unlock()

	for corrID, reg := range byCorr {
		if reg.onInvalidate != nil {
			reg.onInvalidate(reason)
		}
		r.logger.Debugf("[取消注册表] 已失效在途调用: target=%s, correlation=%s", targetID, corrID)
	}
	if len(byCorr) > 0 {
		r.logger.Warnf("⚠️ [取消注册表] 执行目标 %s 已失效, 取消 %d 个在途调用: %v", targetID, len(byCorr), reason)
	}
	return len(byCorr)
}

// Pending 目标上的在途登记数
func (r *Registry) Pending(targetID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries[targetID])
}
