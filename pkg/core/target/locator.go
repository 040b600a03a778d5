package target

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/LENAX/relay-agent/pkg/core/types"
)

// LocatorOptions 定位器配置
type LocatorOptions struct {
	Source      Source
	Watcher     ReadyWatcher
	Prober      SessionProber
	Opener      Opener
	SiteURL     string
	LoadTimeout time.Duration
	Logger      *zap.SugaredLogger
}

// Locator 执行目标定位器（对外导出）
type Locator struct {
	source      Source
	watcher     ReadyWatcher
	prober      SessionProber
	opener      Opener
	siteURL     string
	loadTimeout time.Duration
	log         *zap.SugaredLogger
}

// NewLocator 创建定位器
func NewLocator(opts LocatorOptions) *Locator {
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Locator{
		source:      opts.Source,
		watcher:     opts.Watcher,
		prober:      opts.Prober,
		opener:      opts.Opener,
		siteURL:     opts.SiteURL,
		loadTimeout: opts.LoadTimeout,
		log:         opts.Logger,
	}
}

// SetProber 设置会话探测器（内容桥创建后注入）
func (l *Locator) SetProber(p SessionProber) {
	l.prober = p
}

// Locate 选择执行目标：前台标签页优先，其次最近访问，最后按连接顺序取第一个
func (l *Locator) Locate() (Target, error) {
	if l.source == nil {
		return nil, errNoTarget()
	}
	return Select(l.source.Targets())
}

// Select 按选择策略从候选中挑选一个就绪的目标
func Select(candidates []Target) (Target, error) {
	var active, recent, first Target
	var activeInfo, recentInfo, firstInfo Info

	for _, t := range candidates {
		info := t.Info()
		if !info.Ready {
			continue
		}
		if info.Active && (active == nil || info.LastAccessed.After(activeInfo.LastAccessed)) {
			active, activeInfo = t, info
		}
		if !info.LastAccessed.IsZero() && (recent == nil || info.LastAccessed.After(recentInfo.LastAccessed)) {
			recent, recentInfo = t, info
		}
		if first == nil || info.ConnectedAt.Before(firstInfo.ConnectedAt) {
			first, firstInfo = t, info
		}
	}

	switch {
	case active != nil:
		return active, nil
	case recent != nil:
		return recent, nil
	case first != nil:
		return first, nil
	default:
		return nil, errNoTarget()
	}
}

// Ensure 定位目标并校验会话存在且未过期
func (l *Locator) Ensure(ctx context.Context) (Target, error) {
	t, err := l.Locate()
	if err != nil {
		return nil, err
	}
	if l.prober == nil {
		return t, nil
	}

	status, err := l.prober.ProbeSession(ctx, t)
	if err != nil {
		return nil, err
	}
	switch {
	case !status.HasSession:
		return nil, types.NewError(types.CodeNoSession, "站点未登录，请先在浏览器中登录")
	case status.IsExpired:
		return nil, types.NewError(types.CodeSessionExpired, "站点会话已过期，请重新登录")
	}
	return t, nil
}

// Open 打开新标签页并等待其就绪，超时返回 LOAD_TIMEOUT
func (l *Locator) Open(ctx context.Context, url string) (Target, error) {
	if url == "" {
		url = l.siteURL
	}
	if url == "" {
		return nil, types.NewError(types.CodeInvalidRequest, "未指定要打开的站点地址")
	}
	if l.opener == nil || l.watcher == nil {
		return nil, types.NewError(types.CodeTargetUnavailable, "未配置浏览器调试地址，无法自动打开标签页")
	}

	ready, stop := l.watcher.WatchReady()
	defer stop()

	l.log.Infof("🌐 [目标定位] 正在打开标签页: %s", url)
	if err := l.opener.OpenTab(ctx, url); err != nil {
		return nil, types.Wrap(types.CodeTargetUnavailable, "打开标签页失败", err)
	}

	timer := time.NewTimer(l.loadTimeout)
	defer timer.Stop()

	select {
	case t := <-ready:
		l.log.Infof("✅ [目标定位] 标签页已就绪: id=%s, url=%s", t.ID(), t.Info().URL)
		return t, nil
	case <-timer.C:
		return nil, types.NewError(types.CodeLoadTimeout, "等待标签页加载超时: "+l.loadTimeout.String())
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func errNoTarget() error {
	return types.NewError(types.CodeNoTarget, "未找到站点标签页，请先在浏览器中打开站点并登录")
}
