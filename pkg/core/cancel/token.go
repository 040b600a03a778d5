// Package cancel 提供一次性取消令牌与按执行目标分组的取消注册表
package cancel

import (
	"sync"

	"github.com/LENAX/relay-agent/pkg/core/types"
)

// Token 取消令牌：只能从存活变为已取消，且只变一次
type Token struct {
	mu        sync.Mutex
	cancelled bool
	reason    error
	done      chan struct{}
	callbacks []func(reason error)
}

// NewToken 创建取消令牌
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel 取消令牌
// 返回 true 表示本次调用完成了取消；重复调用无副作用并返回 false
func (t *Token) Cancel(reason error) bool {
	if reason == nil {
		reason = types.ErrCancelled
	}

	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return false
	}
	t.cancelled = true
	t.reason = reason
	callbacks := t.callbacks
	t.callbacks = nil
	close(t.done)
	t.mu.Unlock()

	// 回调在锁外执行，允许回调内部再次访问令牌
	for _, cb := range callbacks {
		cb(reason)
	}
	return true
}

// Cancelled 是否已取消
func (t *Token) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Done 取消时关闭的通道
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Err 取消原因，未取消时为 nil
func (t *Token) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// OnCancel 注册取消回调；已取消时立即执行
func (t *Token) OnCancel(fn func(reason error)) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	if t.cancelled {
		reason := t.reason
		t.mu.Unlock()
		fn(reason)
		return
	}
	t.callbacks = append(t.callbacks, fn)
	t.mu.Unlock()
}
