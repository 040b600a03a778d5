package target

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/LENAX/relay-agent/pkg/core/types"
)

//go:embed agent.js
var agentScript string

// AgentScript 返回注入标签页的代理脚本，wsURL 为本地接入点地址
func AgentScript(wsURL string) string {
	return strings.ReplaceAll(agentScript, "__RELAY_WS_URL__", wsURL)
}

// CDPOpener 通过 Chrome DevTools 协议在已运行的浏览器中打开标签页（对外导出）
// 打开的标签页在加载前注入代理脚本，脚本回连本地接入点
type CDPOpener struct {
	remoteURL    string
	bootstrap    string
	startTimeout time.Duration
	log          *zap.SugaredLogger

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	firstTabUsed  bool
	tabCancels    []context.CancelFunc
}

// NewCDPOpener 创建标签页打开器
func NewCDPOpener(remoteURL, wsURL string, startTimeout time.Duration, logger *zap.SugaredLogger) *CDPOpener {
	if startTimeout <= 0 {
		startTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &CDPOpener{
		remoteURL:    remoteURL,
		bootstrap:    AgentScript(wsURL),
		startTimeout: startTimeout,
		log:          logger,
	}
}

// OpenTab 打开标签页并导航到 url
func (o *CDPOpener) OpenTab(ctx context.Context, url string) error {
	tabCtx, err := o.newTab()
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- chromedp.Run(tabCtx,
			chromedp.ActionFunc(func(ctx context.Context) error {
				_, err := page.AddScriptToEvaluateOnNewDocument(o.bootstrap).Do(ctx)
				return err
			}),
			chromedp.Navigate(url),
		)
	}()

	timer := time.NewTimer(o.startTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("导航到 %s 失败: %w", url, err)
		}
		o.log.Infof("✅ [CDP] 已打开标签页: %s", url)
		return nil
	case <-timer.C:
		return fmt.Errorf("打开标签页超时（%s）", o.startTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// newTab 连接浏览器（首次调用时）并返回新标签页上下文
// 标签页上下文不会被主动取消，取消会关闭标签页
func (o *CDPOpener) newTab() (context.Context, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.connectLocked(); err != nil {
		return nil, err
	}
	// 浏览器上下文首次运行时会创建一个标签页，直接复用
	if !o.firstTabUsed {
		o.firstTabUsed = true
		return o.browserCtx, nil
	}
	tabCtx, tabCancel := chromedp.NewContext(o.browserCtx)
	o.tabCancels = append(o.tabCancels, tabCancel)
	return tabCtx, nil
}

func (o *CDPOpener) connectLocked() error {
	if o.remoteURL == "" {
		return fmt.Errorf("未配置浏览器调试地址")
	}
	if o.browserCtx == nil {
		allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), o.remoteURL)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)
		o.allocCancel = allocCancel
		o.browserCtx = browserCtx
		o.browserCancel = browserCancel
		o.firstTabUsed = false
	}
	return nil
}

// SessionCookie 通过浏览器凭据存储读取站点会话 Cookie
// 与页面脚本不同，CDP 可以读取 HttpOnly Cookie
func (o *CDPOpener) SessionCookie(ctx context.Context, siteURL, name string) (types.SessionStatus, error) {
	o.mu.Lock()
	err := o.connectLocked()
	browserCtx := o.browserCtx
	o.mu.Unlock()
	if err != nil {
		return types.SessionStatus{}, err
	}

	var cookies []*network.Cookie
	errCh := make(chan error, 1)
	go func() {
		errCh <- chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = network.GetCookies().WithURLs([]string{siteURL}).Do(ctx)
			return err
		}))
	}()

	timer := time.NewTimer(o.startTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		if err != nil {
			return types.SessionStatus{}, fmt.Errorf("读取Cookie失败: %w", err)
		}
		return SessionFromCookies(cookies, name, time.Now()), nil
	case <-timer.C:
		return types.SessionStatus{}, fmt.Errorf("读取Cookie超时（%s）", o.startTimeout)
	case <-ctx.Done():
		return types.SessionStatus{}, ctx.Err()
	}
}

// SessionFromCookies 按名称从 Cookie 列表推导会话状态
func SessionFromCookies(cookies []*network.Cookie, name string, now time.Time) types.SessionStatus {
	for _, c := range cookies {
		if c == nil || c.Name != name {
			continue
		}
		expired := !c.Session && c.Expires > 0 && c.Expires < float64(now.Unix())
		return types.SessionStatus{HasSession: true, IsExpired: expired}
	}
	return types.SessionStatus{}
}

// Close 断开与浏览器的连接
func (o *CDPOpener) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, cancel := range o.tabCancels {
		cancel()
	}
	o.tabCancels = nil
	if o.browserCancel != nil {
		o.browserCancel()
	}
	if o.allocCancel != nil {
		o.allocCancel()
	}
	o.browserCtx = nil
	o.browserCancel = nil
	o.allocCancel = nil
}
