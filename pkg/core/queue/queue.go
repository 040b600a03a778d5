// Package queue 提供有界FIFO请求队列：限制并发执行数与排队数，超出时同步拒绝
package queue

import (
	"container/list"
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/LENAX/relay-agent/pkg/core/types"
)

const (
	// DefaultMaxConcurrent 默认最大并发数
	DefaultMaxConcurrent = 3
	// DefaultMaxQueueSize 默认最大排队数
	DefaultMaxQueueSize = 20
)

// Executor 队列中执行的操作
type Executor func(ctx context.Context) (any, error)

// Options 队列配置
type Options struct {
	MaxConcurrent int
	MaxQueueSize  int
}

// Stats 队列统计（对外导出）
type Stats struct {
	Active        int   `json:"active"`
	Pending       int   `json:"pending"`
	MaxConcurrent int   `json:"maxConcurrent"`
	MaxQueueSize  int   `json:"maxQueueSize"`
	Completed     int64 `json:"completed"`
	Rejected      int64 `json:"rejected"`
}

type outcome struct {
	value any
	err   error
}

type operation struct {
	ctx     context.Context
	exec    Executor
	elem    *list.Element
	started bool
	done    chan outcome
}

// Queue 有界请求队列（对外导出）
type Queue struct {
	mu            sync.Mutex
	pending       *list.List
	active        int
	maxConcurrent int
	maxQueueSize  int

	completed int64 // atomic
	rejected  int64 // atomic

	logger *zap.SugaredLogger
}

// New 创建有界请求队列
func New(opts Options, logger *zap.SugaredLogger) *Queue {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.MaxQueueSize <= 0 {
		opts.MaxQueueSize = DefaultMaxQueueSize
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Queue{
		pending:       list.New(),
		maxConcurrent: opts.MaxConcurrent,
		maxQueueSize:  opts.MaxQueueSize,
		logger:        logger,
	}
}

// Enqueue 提交操作并等待其结束
// 排队数已达上限时立即返回 QUEUE_FULL；调用方 ctx 在排队期间结束则移出队列
func (q *Queue) Enqueue(ctx context.Context, exec Executor) (any, error) {
	if exec == nil {
		return nil, types.NewError(types.CodeInvalidRequest, "执行函数不能为空")
	}

	q.mu.Lock()
	if pending := q.pending.Len(); pending >= q.maxQueueSize {
		active := q.active
		q.mu.Unlock()
		atomic.AddInt64(&q.rejected, 1)
		q.logger.Warnf("⚠️ [请求队列] 队列已满, 拒绝请求: active=%d, pending=%d, max=%d", active, pending, q.maxQueueSize)
		return nil, types.NewError(types.CodeQueueFull,
			fmt.Sprintf("请求队列已满（最多排队 %d 个），请稍后重试", q.maxQueueSize))
	}
	op := &operation{ctx: ctx, exec: exec, done: make(chan outcome, 1)}
	op.elem = q.pending.PushBack(op)
	q.startLocked()
	q.mu.Unlock()

	select {
	case out := <-op.done:
		return out.value, out.err
	case <-ctx.Done():
		q.mu.Lock()
		if !op.started {
			q.pending.Remove(op.elem)
			q.mu.Unlock()
			return nil, ctx.Err()
		}
		q.mu.Unlock()
		// 已开始执行，执行函数会观察到同一个 ctx，等待其结束
		out := <-op.done
		return out.value, out.err
	}
}

// startLocked 在并发名额内按FIFO启动排队操作，调用方需持有锁
func (q *Queue) startLocked() {
	for q.active < q.maxConcurrent && q.pending.Len() > 0 {
		front := q.pending.Front()
		op := front.Value.(*operation)
		q.pending.Remove(front)
		op.started = true
		q.active++
		go q.run(op)
	}
}

func (q *Queue) run(op *operation) {
	var out outcome
	func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				q.logger.Errorf("❌ [请求队列] 执行函数panic: %v\n%s", r, stack)
				out = outcome{err: types.NewPanicError(r, stack)}
			}
		}()
		v, err := op.exec(op.ctx)
		out = outcome{value: v, err: err}
	}()

	q.mu.Lock()
	q.active--
	atomic.AddInt64(&q.completed, 1)
	q.startLocked()
	q.mu.Unlock()

	op.done <- out
}

// Stats 获取队列统计
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Active:        q.active,
		Pending:       q.pending.Len(),
		MaxConcurrent: q.maxConcurrent,
		MaxQueueSize:  q.maxQueueSize,
		Completed:     atomic.LoadInt64(&q.completed),
		Rejected:      atomic.LoadInt64(&q.rejected),
	}
}

// Submit 类型化的 Enqueue
func Submit[T any](ctx context.Context, q *Queue, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	v, err := q.Enqueue(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, nil
	}
	return typed, nil
}
