package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CronJob 定时任务函数，ctx 在调度器停止时取消
type CronJob func(ctx context.Context)

// CronScheduler 定时调度器（对外导出）
// 用于会话保活和执行日志清理，与控制面长轮询互不影响
type CronScheduler struct {
	cron    *cron.Cron
	parser  cron.Parser
	entries map[string]cron.EntryID // jobName -> cron.EntryID映射
	exprs   map[string]string
	log     *zap.SugaredLogger
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewCronScheduler 创建定时调度器（对外导出）
func NewCronScheduler(logger *zap.SugaredLogger) *CronScheduler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &CronScheduler{
		cron:    cron.New(cron.WithSeconds()), // 支持秒级精度
		parser:  cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		entries: make(map[string]cron.EntryID),
		exprs:   make(map[string]string),
		log:     logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// RegisterJob 注册定时任务（对外导出）
func (cs *CronScheduler) RegisterJob(name, cronExpr string, job CronJob) error {
	if name == "" || job == nil {
		return fmt.Errorf("定时任务名称或函数为空")
	}
	if cronExpr == "" {
		return fmt.Errorf("定时任务 %s 未设置Cron表达式", name)
	}
	if _, err := cs.parser.Parse(cronExpr); err != nil {
		return fmt.Errorf("定时任务 %s 的Cron表达式无效: %w", name, err)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, exists := cs.entries[name]; exists {
		return fmt.Errorf("定时任务 %s 已注册", name)
	}

	entryID, err := cs.cron.AddFunc(cronExpr, func() {
		cs.trigger(name, job)
	})
	if err != nil {
		return fmt.Errorf("添加Cron任务失败: %w", err)
	}

	cs.entries[name] = entryID
	cs.exprs[name] = cronExpr
	cs.log.Infof("✅ [Cron调度器] 已注册定时任务: Name=%s, CronExpr=%s", name, cronExpr)
	return nil
}

// UnregisterJob 取消注册定时任务（对外导出）
func (cs *CronScheduler) UnregisterJob(name string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	entryID, exists := cs.entries[name]
	if !exists {
		return fmt.Errorf("定时任务 %s 未注册", name)
	}
	cs.cron.Remove(entryID)
	delete(cs.entries, name)
	delete(cs.exprs, name)

	cs.log.Infof("✅ [Cron调度器] 已取消注册定时任务: Name=%s", name)
	return nil
}

// trigger 执行定时任务，单次失败不影响后续调度
func (cs *CronScheduler) trigger(name string, job CronJob) {
	if cs.ctx.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			cs.log.Errorf("❌ [Cron调度器] 定时任务 %s panic: %v", name, r)
		}
	}()
	cs.log.Debugf("🕐 [Cron调度器] 触发定时任务: Name=%s", name)
	job(cs.ctx)
}

// Start 启动定时调度器（对外导出）
func (cs *CronScheduler) Start() {
	cs.cron.Start()
	cs.log.Info("✅ [Cron调度器] 已启动")
}

// Stop 停止定时调度器并等待正在执行的任务结束（对外导出）
func (cs *CronScheduler) Stop() {
	cs.cancel()
	<-cs.cron.Stop().Done()
	cs.log.Info("✅ [Cron调度器] 已停止")
}

// RegisteredJobs 已注册的定时任务（名称 -> 表达式）
func (cs *CronScheduler) RegisteredJobs() map[string]string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make(map[string]string, len(cs.exprs))
	for k, v := range cs.exprs {
		out[k] = v
	}
	return out
}

// JobNames 已注册的定时任务名称（排序）
func (cs *CronScheduler) JobNames() []string {
	jobs := cs.RegisteredJobs()
	names := make([]string, 0, len(jobs))
	for name := range jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
