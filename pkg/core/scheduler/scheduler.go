// Package scheduler 长轮询调度器：拉取任务、按序执行、上报结果
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/LENAX/relay-agent/pkg/core/bridge"
	"github.com/LENAX/relay-agent/pkg/core/dispatch"
	"github.com/LENAX/relay-agent/pkg/core/queue"
	"github.com/LENAX/relay-agent/pkg/core/types"
	"github.com/LENAX/relay-agent/pkg/events"
)

// ControlPlane 控制面：长轮询与结果上报
type ControlPlane interface {
	Poll(ctx context.Context, hold time.Duration) (*types.PollResponse, error)
	Report(ctx context.Context, result types.TaskResult) error
}

// Executor 任务执行（分发表）
type Executor interface {
	Execute(ctx context.Context, task *types.Task) (any, error)
}

// Submitter 有界请求队列
type Submitter interface {
	Enqueue(ctx context.Context, exec queue.Executor) (any, error)
}

// HealthChecker 连接健康检查，按自身间隔决定是否真正执行
type HealthChecker interface {
	MaybeCheck(ctx context.Context) bool
}

// SleepFunc 可被 ctx 打断的等待
type SleepFunc func(ctx context.Context, d time.Duration) error

// Options 调度器配置
type Options struct {
	ControlPlane        ControlPlane
	Executor            Executor
	Queue               Submitter
	Health              HealthChecker
	Publisher           events.Publisher
	LongPollHold        time.Duration
	ErrorRetryDelay     time.Duration
	MinPollInterval     time.Duration
	DefaultPollInterval time.Duration
	PauseCheckInterval  time.Duration
	Logger              *zap.SugaredLogger

	// 测试注入
	Sleep SleepFunc
	Now   func() time.Time
}

// Scheduler 长轮询调度器（对外导出）
type Scheduler struct {
	opts Options
	log  *zap.SugaredLogger

	mu          sync.Mutex
	started     bool
	paused      bool
	pausedUntil time.Time
	resumeTimer *time.Timer
	resumeCh    chan struct{} // 暂停期间的等待在恢复或停止时被打断
	stopCh      chan struct{}
	stopOnce    sync.Once
	done        chan struct{}
	lastPollAt  time.Time

	phase atomic.Value // State

	polls         int64 // atomic
	pollErrors    int64 // atomic
	tasksReceived int64 // atomic
	tasksFailed   int64 // atomic
	reportErrors  int64 // atomic
}

// New 创建调度器
func New(opts Options) *Scheduler {
	if opts.LongPollHold <= 0 {
		opts.LongPollHold = 30 * time.Second
	}
	if opts.ErrorRetryDelay <= 0 {
		opts.ErrorRetryDelay = 5 * time.Second
	}
	if opts.MinPollInterval <= 0 {
		opts.MinPollInterval = time.Second
	}
	if opts.DefaultPollInterval <= 0 {
		opts.DefaultPollInterval = 5 * time.Second
	}
	if opts.PauseCheckInterval <= 0 {
		opts.PauseCheckInterval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Scheduler{
		opts:   opts,
		log:    opts.Logger,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.phase.Store(StateIdle)
	return s
}

// Start 异步启动调度循环（幂等）
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.isStopped() {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.log.Infof("🚀 [调度器] 启动长轮询: hold=%s, 最小间隔=%s", s.opts.LongPollHold, s.opts.MinPollInterval)
	s.emitState(ctx, StateIdle, StatePolling)
	go s.loop(ctx)
}

// Stop 设置终止标志，清除暂停与恢复定时器，当前轮次自然结束（幂等）
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		old := s.stateLocked()
		s.clearPauseLocked()
		close(s.stopCh)
		started := s.started
		s.mu.Unlock()

		if !started {
			s.phase.Store(StateStopped)
			close(s.done)
		}
		s.log.Infof("🛑 [调度器] 已请求停止")
		s.emitState(context.Background(), old, StateStopped)
	})
}

// Done 调度循环退出时关闭
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Pause 暂停轮询；d > 0 时到期自动恢复
func (s *Scheduler) Pause(d time.Duration) {
	s.mu.Lock()
	if s.isStopped() {
		s.mu.Unlock()
		return
	}
	old := s.stateLocked()
	s.clearPauseLocked()
	s.paused = true
	s.resumeCh = make(chan struct{})
	if d > 0 {
		s.pausedUntil = s.opts.Now().Add(d)
		s.resumeTimer = time.AfterFunc(d, s.Resume)
	}
	s.mu.Unlock()

	s.log.Infof("⏸️ [调度器] 已暂停, 自动恢复: %s", d)
	s.emitState(context.Background(), old, StatePaused)
}

// Resume 恢复轮询
func (s *Scheduler) Resume() {
	s.mu.Lock()
	if !s.paused {
		s.mu.Unlock()
		return
	}
	s.clearPauseLocked()
	s.mu.Unlock()

	s.log.Infof("▶️ [调度器] 已恢复")
	s.emitState(context.Background(), StatePaused, s.State())
}

// clearPauseLocked 清除暂停状态与恢复定时器，并唤醒暂停中的等待
func (s *Scheduler) clearPauseLocked() {
	s.paused = false
	s.pausedUntil = time.Time{}
	if s.resumeTimer != nil {
		s.resumeTimer.Stop()
		s.resumeTimer = nil
	}
	if s.resumeCh != nil {
		close(s.resumeCh)
		s.resumeCh = nil
	}
}

// State 当前状态
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Scheduler) stateLocked() State {
	phase := s.phase.Load().(State)
	switch {
	case s.isStopped():
		if phase == StateStopped || !s.started {
			return StateStopped
		}
		// 停止请求后当前轮次仍在收尾
		return phase
	case s.paused:
		return StatePaused
	default:
		return phase
	}
}

// Stats 获取统计
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	state := s.stateLocked()
	lastPoll, pausedUntil := s.lastPollAt, s.pausedUntil
	s.mu.Unlock()
	return Stats{
		State:         state,
		Polls:         atomic.LoadInt64(&s.polls),
		PollErrors:    atomic.LoadInt64(&s.pollErrors),
		TasksReceived: atomic.LoadInt64(&s.tasksReceived),
		TasksFailed:   atomic.LoadInt64(&s.tasksFailed),
		ReportErrors:  atomic.LoadInt64(&s.reportErrors),
		LastPollAt:    lastPoll,
		PausedUntil:   pausedUntil,
	}
}

func (s *Scheduler) isStopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	defer s.phase.Store(StateStopped)
	defer s.log.Infof("[调度器] 调度循环已退出")

	for !s.isStopped() && ctx.Err() == nil {
		s.mu.Lock()
		paused, resumeCh := s.paused, s.resumeCh
		s.mu.Unlock()

		if paused {
			s.phase.Store(StatePaused)
			s.wait(ctx, s.opts.PauseCheckInterval, resumeCh)
			continue
		}

		next, err := s.iterate(ctx)
		if err != nil {
			if s.isStopped() || ctx.Err() != nil {
				return
			}
			atomic.AddInt64(&s.pollErrors, 1)
			s.log.Warnf("⚠️ [调度器] 本轮失败，%s 后重试: %v", s.opts.ErrorRetryDelay, err)
			next = s.opts.ErrorRetryDelay
		}
		s.phase.Store(StateSleeping)
		s.wait(ctx, next, nil)
	}
}

// iterate 单轮：长轮询、按序执行并上报、健康检查，返回下次轮询前的等待时长
func (s *Scheduler) iterate(ctx context.Context) (time.Duration, error) {
	s.phase.Store(StatePolling)
	pollCtx, cancel := s.interruptible(ctx, nil)
	resp, err := s.opts.ControlPlane.Poll(pollCtx, s.opts.LongPollHold)
	cancel()
	atomic.AddInt64(&s.polls, 1)
	if err != nil {
		return 0, fmt.Errorf("长轮询失败: %w", err)
	}
	if resp == nil {
		return 0, fmt.Errorf("长轮询返回空响应")
	}
	received := s.opts.Now()
	s.mu.Lock()
	s.lastPollAt = received
	s.mu.Unlock()

	if len(resp.Tasks) > 0 {
		s.log.Infof("📥 [调度器] 收到 %d 个任务", len(resp.Tasks))
	}
	// 严格按下发顺序逐个执行，每个任务上报后才开始下一个
	for i := range resp.Tasks {
		s.runTask(ctx, &resp.Tasks[i])
	}

	if s.opts.Health != nil {
		s.opts.Health.MaybeCheck(ctx)
	}

	interval := resp.NextPollInterval(s.opts.DefaultPollInterval)
	if interval < s.opts.MinPollInterval {
		interval = s.opts.MinPollInterval
	}
	return interval, nil
}

func (s *Scheduler) runTask(ctx context.Context, task *types.Task) {
	atomic.AddInt64(&s.tasksReceived, 1)

	var (
		res     any
		err     error
		kind    string
		started time.Time
	)
	// execute_delay_ms 是控制面的限流指令，必须等满，停止请求不打断
	if d := task.ExecuteDelay(); d > 0 {
		s.log.Debugf("[调度器] 任务 %s 延迟 %s 执行", task.ID, d)
		err = s.opts.Sleep(ctx, d)
		if err != nil {
			err = types.Wrap(types.CodeCancelled, "等待执行时被取消", err)
		}
	}

	s.phase.Store(StateExecuting)
	started = s.opts.Now()
	if err == nil {
		if k, cerr := dispatch.Classify(task, nil); cerr == nil {
			kind = dispatch.KindName(k)
		}
		res, err = s.execute(ctx, task)
	}

	result := types.NewSuccessResult(task.ID, res)
	if err != nil {
		atomic.AddInt64(&s.tasksFailed, 1)
		result = types.NewFailureResult(task.ID, err)
		if types.CodeOf(err) == types.CodeQueueFull && result.ErrorDetails.StatusCode == 0 {
			// 按限流处理，交给控制面重试
			result.ErrorDetails.StatusCode = 429
			result.ErrorDetails.StatusText = "Too Many Requests"
		}
		s.log.Warnf("❌ [调度器] 任务 %s 执行失败: %v", task.ID, err)
	} else {
		s.log.Infof("✅ [调度器] 任务 %s 执行成功", task.ID)
	}

	s.phase.Store(StateReporting)
	reportCtx := context.WithoutCancel(ctx)
	if rerr := s.opts.ControlPlane.Report(reportCtx, result); rerr != nil {
		atomic.AddInt64(&s.reportErrors, 1)
		s.log.Errorf("❌ [调度器] 上报任务 %s 结果失败: %v", task.ID, rerr)
	}

	payload := events.ExecutionPayload{
		TaskID:       task.ID.String(),
		Kind:         kind,
		Source:       events.SourceScheduler,
		Success:      result.Success,
		ErrorMessage: result.ErrorMessage,
		StartedAt:    started,
		DurationMs:   s.opts.Now().Sub(started).Milliseconds(),
	}
	if result.ErrorDetails != nil {
		payload.StatusCode = result.ErrorDetails.StatusCode
		payload.ErrorCode = result.ErrorDetails.ErrorCode
	}
	if eerr := events.Emit(reportCtx, s.opts.Publisher, events.TopicTaskExecuted, payload); eerr != nil {
		s.log.Debugf("[调度器] 发布执行事件失败: %v", eerr)
	}
}

func (s *Scheduler) execute(ctx context.Context, task *types.Task) (any, error) {
	ctx = bridge.WithCorrelationID(ctx, bridge.NewCorrelationID("task", task.ID.String()))
	if s.opts.Queue == nil {
		return s.opts.Executor.Execute(ctx, task)
	}
	return s.opts.Queue.Enqueue(ctx, func(ctx context.Context) (any, error) {
		return s.opts.Executor.Execute(ctx, task)
	})
}

// wait 可被停止（以及 extra）打断的等待
func (s *Scheduler) wait(ctx context.Context, d time.Duration, extra <-chan struct{}) {
	waitCtx, cancel := s.interruptible(ctx, extra)
	defer cancel()
	_ = s.opts.Sleep(waitCtx, d)
}

// interruptible 返回在停止（或 extra 关闭）时取消的 ctx
func (s *Scheduler) interruptible(ctx context.Context, extra <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-extra:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func (s *Scheduler) emitState(ctx context.Context, old, next State) {
	_ = events.Emit(ctx, s.opts.Publisher, events.TopicSchedulerState, events.SchedulerStatePayload{
		OldState: string(old),
		NewState: string(next),
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
