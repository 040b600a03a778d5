package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	internalstorage "github.com/LENAX/relay-agent/internal/storage"
	"github.com/LENAX/relay-agent/pkg/config"
	"github.com/LENAX/relay-agent/pkg/controlplane"
	"github.com/LENAX/relay-agent/pkg/core/bridge"
	"github.com/LENAX/relay-agent/pkg/core/cancel"
	"github.com/LENAX/relay-agent/pkg/core/dispatch"
	"github.com/LENAX/relay-agent/pkg/core/health"
	"github.com/LENAX/relay-agent/pkg/core/queue"
	"github.com/LENAX/relay-agent/pkg/core/scheduler"
	"github.com/LENAX/relay-agent/pkg/core/target"
	"github.com/LENAX/relay-agent/pkg/core/types"
	"github.com/LENAX/relay-agent/pkg/events"
	"github.com/LENAX/relay-agent/pkg/storage"
)

const (
	jobKeepalive    = "keepalive"
	jobJournalPurge = "journal-purge"

	journalPurgeCron = "0 0 * * * *" // 每小时整点
)

// Status 引擎运行状态快照（对外导出）
type Status struct {
	Instance   string                `json:"instance"`
	Running    bool                  `json:"running"`
	StartedAt  time.Time             `json:"started_at,omitempty"`
	Scheduler  scheduler.Stats       `json:"scheduler"`
	Queue      queue.Stats           `json:"queue"`
	Bridge     bridge.Stats          `json:"bridge"`
	Connection types.ConnectionState `json:"connection"`
	Targets    []target.Info         `json:"targets"`
	CronJobs   []string              `json:"cron_jobs"`
	Journal    bool                  `json:"journal"`
	Events     int64                 `json:"events_published"`
}

// Engine 中继代理引擎：组装调度器、内容桥、队列等组件（对外导出）
type Engine struct {
	cfg *config.AgentConfig
	log *zap.SugaredLogger

	bus        *events.Bus
	registry   *cancel.Registry
	hub        *target.Hub
	locator    *target.Locator
	opener     *target.CDPOpener
	bridge     *bridge.Bridge
	queue      *queue.Queue
	dispatcher *dispatch.Dispatcher
	monitor    *health.Monitor
	cp         scheduler.ControlPlane
	scheduler  *scheduler.Scheduler
	cron       *CronScheduler
	journal    *storage.Journal
	db         internalstorage.DatabaseFactory

	mu        sync.RWMutex
	running   bool
	stopped   bool
	startedAt time.Time
}

// components 构建引擎所需的外部依赖，未提供时按配置创建
type components struct {
	controlPlane scheduler.ControlPlane
	notifier     health.Notifier
	opener       target.Opener
}

// newEngine 按配置组装所有组件（由 EngineBuilder 调用）
func newEngine(cfg *config.AgentConfig, zl *zap.Logger, deps components) (*Engine, error) {
	log := zl.Sugar()

	bus, err := events.NewBus(zl)
	if err != nil {
		return nil, fmt.Errorf("创建事件总线失败: %w", err)
	}

	e := &Engine{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		registry: cancel.NewRegistry(log.Named("cancel")),
		cron:     NewCronScheduler(log.Named("cron")),
	}

	e.hub = target.NewHub(target.HubOptions{
		CheckOrigin: func(r *http.Request) bool { return cfg.Ingress.OriginAllowed(r.Header.Get("Origin")) },
		Publisher:   bus,
		Logger:      log.Named("hub"),
	})

	opener := deps.opener
	if cfg.Bridge.CDPURL != "" {
		e.opener = target.NewCDPOpener(cfg.Bridge.CDPURL, cfg.Ingress.AgentURL(), cfg.Bridge.LoadTimeout, log.Named("cdp"))
		if opener == nil {
			opener = e.opener
		}
	}

	// 配置了浏览器调试地址时，通过 CDP 读取会话 Cookie（含 HttpOnly）
	var cookies bridge.CookieSource
	if e.opener != nil {
		cookies = e.opener
	}
	e.bridge = bridge.New(bridge.Options{
		DefaultTimeout: cfg.Bridge.DefaultTimeout,
		SessionCookie:  cfg.Bridge.SessionCookie,
		Registry:       e.registry,
		Cookies:        cookies,
		Logger:         log.Named("bridge"),
	})
	e.hub.SetResponseHandler(e.bridge)

	e.locator = target.NewLocator(target.LocatorOptions{
		Source:      e.hub,
		Watcher:     e.hub,
		Prober:      e.bridge,
		Opener:      opener,
		SiteURL:     cfg.Bridge.SiteURL,
		LoadTimeout: cfg.Bridge.LoadTimeout,
		Logger:      log.Named("locator"),
	})

	e.queue = queue.New(queue.Options{
		MaxConcurrent: cfg.Queue.MaxConcurrent,
		MaxQueueSize:  cfg.Queue.MaxQueueSize,
	}, log.Named("queue"))

	e.dispatcher = dispatch.New(dispatch.Options{
		Caller:           e.bridge,
		Targets:          e.locator,
		IdentityPath:     cfg.Bridge.IdentityPath,
		RefreshPath:      cfg.Bridge.RefreshPath,
		KeepalivePath:    cfg.Bridge.KeepalivePath,
		DocumentPrefixes: cfg.Bridge.DocumentPrefixes,
		Timeout:          cfg.Bridge.DefaultTimeout,
		Logger:           log.Named("dispatch"),
	})

	cp, notifier := deps.controlPlane, deps.notifier
	if cp == nil {
		client := controlplane.New(controlplane.Options{
			BaseURL:        cfg.ControlPlane.BaseURL,
			Token:          cfg.ControlPlane.Token,
			RequestTimeout: cfg.ControlPlane.RequestTimeout,
			Logger:         log.Named("controlplane"),
		})
		cp = client
		if notifier == nil {
			notifier = client
		}
	}
	if notifier == nil {
		if n, ok := cp.(health.Notifier); ok {
			notifier = n
		}
	}
	e.cp = cp

	e.monitor = health.New(health.Options{
		Locator:   e.locator,
		Identity:  e.dispatcher,
		Notifier:  notifier,
		Publisher: bus,
		Interval:  cfg.ControlPlane.ConnectionCheckInterval,
		Logger:    log.Named("health"),
	})

	e.scheduler = scheduler.New(scheduler.Options{
		ControlPlane:        cp,
		Executor:            e.dispatcher,
		Queue:               e.queue,
		Health:              e.monitor,
		Publisher:           bus,
		LongPollHold:        cfg.ControlPlane.LongPollHold,
		ErrorRetryDelay:     cfg.ControlPlane.ErrorRetryDelay,
		MinPollInterval:     cfg.ControlPlane.MinPollInterval,
		DefaultPollInterval: cfg.ControlPlane.DefaultPollInterval,
		PauseCheckInterval:  cfg.ControlPlane.PauseCheckInterval,
		Logger:              log.Named("scheduler"),
	})

	if err := e.subscribe(); err != nil {
		e.closeResources()
		return nil, err
	}
	if err := e.initJournal(); err != nil {
		e.closeResources()
		return nil, err
	}
	if err := e.registerCronJobs(); err != nil {
		e.closeResources()
		return nil, err
	}
	return e, nil
}

// subscribe 订阅执行目标生命周期与连接事件
func (e *Engine) subscribe() error {
	if err := e.bus.Subscribe(events.TopicTargetClosed, "cancel-registry", func(_ context.Context, ev *events.Event) error {
		var p events.TargetPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		e.registry.Invalidate(p.TargetID, types.NewError(types.CodeTargetUnavailable, "标签页已关闭: "+p.Reason))
		return nil
	}); err != nil {
		return fmt.Errorf("订阅目标关闭事件失败: %w", err)
	}

	if err := e.bus.Subscribe(events.TopicConnectionLost, "connection-log", func(_ context.Context, ev *events.Event) error {
		var p events.ConnectionPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		e.log.Warnf("🔌 [引擎] 站点会话已断开: reason=%s, notified=%v", p.Reason, p.Notified)
		return nil
	}); err != nil {
		return fmt.Errorf("订阅连接事件失败: %w", err)
	}
	return nil
}

// initJournal 按配置初始化执行日志存储
func (e *Engine) initJournal() error {
	jc := e.cfg.Journal
	if !jc.Enabled {
		return nil
	}
	db, err := internalstorage.NewDatabaseFactory(jc.Type, jc.DSN, storage.PoolOptions{
		MaxOpenConns:    jc.MaxOpenConns,
		ConnMaxLifetime: jc.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("init storage failed: %w", err)
	}
	e.db = db
	e.journal = storage.NewJournal(db.ExecutionRepo(), e.log.Named("journal"))
	if err := e.journal.Subscribe(e.bus); err != nil {
		return fmt.Errorf("订阅执行事件失败: %w", err)
	}
	e.log.Infof("✅ [引擎] 执行日志已启用: type=%s", jc.Type)
	return nil
}

// registerCronJobs 注册会话保活与日志清理任务
func (e *Engine) registerCronJobs() error {
	if e.cfg.Keepalive.Enabled {
		if err := e.cron.RegisterJob(jobKeepalive, e.cfg.Keepalive.CronExpr, e.keepalive); err != nil {
			return err
		}
	}
	if e.journal != nil {
		retention := e.cfg.Journal.Retention
		if err := e.cron.RegisterJob(jobJournalPurge, journalPurgeCron, func(ctx context.Context) {
			if _, err := e.journal.Purge(ctx, retention); err != nil {
				e.log.Warnf("⚠️ [引擎] 清理执行日志失败: %v", err)
			}
		}); err != nil {
			return err
		}
	}
	return nil
}

// Start 启动引擎（对外导出）
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}
	if e.stopped {
		return fmt.Errorf("引擎已停止，不能再次启动")
	}

	if err := e.bus.Start(ctx); err != nil {
		return fmt.Errorf("启动事件总线失败: %w", err)
	}
	e.cron.Start()
	e.scheduler.Start(ctx)

	e.running = true
	e.startedAt = time.Now()
	e.log.Infof("✅ 中继代理引擎已启动: instance=%s, control_plane=%s", e.cfg.General.InstanceName, e.cfg.ControlPlane.BaseURL)
	return nil
}

// Stop 停止引擎（对外导出）
// 先停止调度循环并等待当前批次结束，再关闭接入点与存储
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.running = false
	e.mu.Unlock()

	e.scheduler.Stop()
	select {
	case <-e.scheduler.Done():
	case <-time.After(e.cfg.Bridge.DefaultTimeout + e.cfg.ControlPlane.RequestTimeout):
		e.log.Warn("⚠️ [引擎] 等待调度器退出超时")
	}

	e.cron.Stop()
	e.closeResources()
	e.log.Info("✅ 中继代理引擎已停止")
}

func (e *Engine) closeResources() {
	if e.hub != nil {
		e.hub.Close()
	}
	if e.opener != nil {
		e.opener.Close()
	}
	if e.bus != nil {
		if err := e.bus.Close(); err != nil {
			e.log.Warnf("⚠️ [引擎] 关闭事件总线失败: %v", err)
		}
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			e.log.Warnf("⚠️ [引擎] 关闭数据库失败: %v", err)
		}
	}
}

// Status 运行状态快照
func (e *Engine) Status() Status {
	e.mu.RLock()
	running, startedAt := e.running, e.startedAt
	e.mu.RUnlock()

	targets := e.hub.Targets()
	infos := make([]target.Info, 0, len(targets))
	for _, t := range targets {
		infos = append(infos, t.Info())
	}

	return Status{
		Instance:   e.cfg.General.InstanceName,
		Running:    running,
		StartedAt:  startedAt,
		Scheduler:  e.scheduler.Stats(),
		Queue:      e.queue.Stats(),
		Bridge:     e.bridge.Stats(),
		Connection: e.monitor.State(),
		Targets:    infos,
		CronJobs:   e.cron.JobNames(),
		Journal:    e.journal != nil,
		Events:     e.bus.Published(),
	}
}

// Ready 至少有一个就绪的执行目标
func (e *Engine) Ready() bool {
	_, err := e.locator.Locate()
	return err == nil
}

// Pause 暂停调度，d>0 时到期自动恢复
func (e *Engine) Pause(d time.Duration) {
	e.scheduler.Pause(d)
}

// Resume 恢复调度
func (e *Engine) Resume() {
	e.scheduler.Resume()
}

// OpenTarget 打开站点标签页并等待代理就绪
func (e *Engine) OpenTarget(ctx context.Context, url string) (target.Info, error) {
	t, err := e.locator.Open(ctx, url)
	if err != nil {
		return target.Info{}, err
	}
	return t.Info(), nil
}

// Executions 查询执行日志
func (e *Engine) Executions(ctx context.Context, filter storage.ExecutionFilter) ([]*storage.ExecutionRecord, int, error) {
	if e.journal == nil {
		return nil, 0, types.NewError(types.CodeInvalidRequest, "执行日志未启用")
	}
	return e.journal.List(ctx, filter)
}

// Config 当前配置
func (e *Engine) Config() *config.AgentConfig {
	return e.cfg
}

// AgentHandler 标签页代理 websocket 接入点
func (e *Engine) AgentHandler() *target.Hub {
	return e.hub
}

// Scheduler 长轮询调度器
func (e *Engine) Scheduler() *scheduler.Scheduler {
	return e.scheduler
}

// Bus 事件总线
func (e *Engine) Bus() *events.Bus {
	return e.bus
}
