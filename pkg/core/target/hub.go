package target

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/LENAX/relay-agent/pkg/core/types"
	"github.com/LENAX/relay-agent/pkg/events"
)

const (
	frameHello    = "hello"
	frameState    = "state"
	frameRequest  = "request"
	frameResponse = "response"

	writeWait = 10 * time.Second
)

// HubOptions 标签页代理接入配置
type HubOptions struct {
	CheckOrigin  func(r *http.Request) bool
	Publisher    events.Publisher
	Logger       *zap.SugaredLogger
	HelloTimeout time.Duration
	PingInterval time.Duration
}

// Hub 标签页代理的 websocket 接入点（对外导出）
// 每条连接对应一个执行目标，连接断开即目标关闭
type Hub struct {
	upgrader     websocket.Upgrader
	publisher    events.Publisher
	log          *zap.SugaredLogger
	helloTimeout time.Duration
	pingInterval time.Duration

	mu       sync.RWMutex
	targets  map[string]*agentConn
	handler  ResponseHandler
	watchers map[int]chan Target
	watchSeq int
	closed   bool
}

// NewHub 创建接入点
func NewHub(opts HubOptions) *Hub {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.HelloTimeout <= 0 {
		opts.HelloTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return false }
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			CheckOrigin:     checkOrigin,
		},
		publisher:    opts.Publisher,
		log:          opts.Logger,
		helloTimeout: opts.HelloTimeout,
		pingInterval: opts.PingInterval,
		targets:      make(map[string]*agentConn),
		watchers:     make(map[int]chan Target),
	}
}

// SetResponseHandler 设置响应接收方
func (h *Hub) SetResponseHandler(rh ResponseHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = rh
}

// Targets 当前已连接的执行目标（按连接时间排序）
func (h *Hub) Targets() []Target {
	h.mu.RLock()
	conns := make([]*agentConn, 0, len(h.targets))
	for _, c := range h.targets {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	sort.Slice(conns, func(i, j int) bool {
		return conns[i].connectedAt.Before(conns[j].connectedAt)
	})
	out := make([]Target, len(conns))
	for i, c := range conns {
		out[i] = c
	}
	return out
}

// Get 按ID获取执行目标
func (h *Hub) Get(id string) (Target, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.targets[id]
	if !ok {
		return nil, false
	}
	return c, true
}

// WatchReady 订阅新就绪的目标，返回的函数用于取消订阅
func (h *Hub) WatchReady() (<-chan Target, func()) {
	ch := make(chan Target, 1)
	h.mu.Lock()
	h.watchSeq++
	id := h.watchSeq
	h.watchers[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.watchers, id)
			h.mu.Unlock()
		})
	}
}

// ServeHTTP 升级为 websocket 并处理代理帧
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("⚠️ [标签页接入] websocket 升级失败: origin=%s, err=%v", r.Header.Get("Origin"), err)
		return
	}

	conn, err := h.handshake(ws)
	if err != nil {
		h.log.Warnf("⚠️ [标签页接入] 握手失败: %v", err)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()), time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}

	if !h.register(conn) {
		conn.close("接入点已关闭")
		return
	}
	go conn.pingLoop(h.pingInterval)
	h.readLoop(conn)
}

// handshake 等待 hello 帧
func (h *Hub) handshake(ws *websocket.Conn) (*agentConn, error) {
	_ = ws.SetReadDeadline(time.Now().Add(h.helloTimeout))
	var frame inboundFrame
	if err := ws.ReadJSON(&frame); err != nil {
		return nil, fmt.Errorf("读取 hello 帧失败: %w", err)
	}
	if frame.Type != frameHello || frame.Tab == nil {
		return nil, fmt.Errorf("首帧必须是 hello, 实际为 %q", frame.Type)
	}

	now := time.Now()
	tabID := frame.Tab.ID
	if tabID == "" {
		tabID = "tab"
	}
	conn := &agentConn{
		id:          fmt.Sprintf("%s-%s", tabID, uuid.NewString()[:8]),
		tabID:       tabID,
		ws:          ws,
		connectedAt: now,
		done:        make(chan struct{}),
		log:         h.log,
	}
	conn.apply(frame.Tab)
	return conn, nil
}

func (h *Hub) register(c *agentConn) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.targets[c.id] = c
	h.mu.Unlock()

	info := c.Info()
	h.log.Infof("🔌 [标签页接入] 标签页已连接: id=%s, url=%s, ready=%v", info.ID, info.URL, info.Ready)
	if info.Ready {
		h.announceReady(c)
	}
	return true
}

func (h *Hub) readLoop(c *agentConn) {
	reason := "连接断开"
	defer func() {
		h.unregister(c, reason)
	}()

	idle := 2*h.pingInterval + writeWait
	_ = c.ws.SetReadDeadline(time.Now().Add(idle))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = err.Error()
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(idle))

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.log.Warnf("⚠️ [标签页接入] 无法解析帧: target=%s, err=%v", c.id, err)
			continue
		}

		switch frame.Type {
		case frameState:
			if frame.Tab == nil {
				continue
			}
			wasReady := c.Info().Ready
			c.apply(frame.Tab)
			if !wasReady && c.Info().Ready {
				h.announceReady(c)
			}
		case frameResponse:
			var resp Response
			if err := json.Unmarshal(data, &resp); err != nil {
				h.log.Warnf("⚠️ [标签页接入] 无法解析响应帧: target=%s, err=%v", c.id, err)
				continue
			}
			h.mu.RLock()
			rh := h.handler
			h.mu.RUnlock()
			if rh != nil {
				rh.Deliver(c.id, &resp)
			}
		default:
			h.log.Debugf("[标签页接入] 忽略未知帧: target=%s, type=%s", c.id, frame.Type)
		}
	}
}

func (h *Hub) announceReady(c *agentConn) {
	h.mu.RLock()
	for _, ch := range h.watchers {
		select {
		case ch <- c:
		default:
		}
	}
	h.mu.RUnlock()

	info := c.Info()
	if err := events.Emit(context.Background(), h.publisher, events.TopicTargetConnected,
		events.TargetPayload{TargetID: info.ID, URL: info.URL}); err != nil {
		h.log.Warnf("⚠️ [标签页接入] 发布目标就绪事件失败: %v", err)
	}
}

func (h *Hub) unregister(c *agentConn, reason string) {
	h.mu.Lock()
	if cur, ok := h.targets[c.id]; ok && cur == c {
		delete(h.targets, c.id)
	}
	h.mu.Unlock()

	c.close(reason)
	h.log.Infof("🔌 [标签页接入] 标签页已断开: id=%s, reason=%s", c.id, reason)
	if err := events.Emit(context.Background(), h.publisher, events.TopicTargetClosed,
		events.TargetPayload{TargetID: c.id, URL: c.Info().URL, Reason: reason}); err != nil {
		h.log.Warnf("⚠️ [标签页接入] 发布目标关闭事件失败: %v", err)
	}
}

// Close 断开全部标签页
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*agentConn, 0, len(h.targets))
	for _, c := range h.targets {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close("代理退出")
	}
}

// inboundFrame 标签页代理发来的帧
type inboundFrame struct {
	Type string    `json:"type"`
	Tab  *tabState `json:"tab,omitempty"`
}

type tabState struct {
	ID           string `json:"id"`
	URL          string `json:"url"`
	Title        string `json:"title"`
	Active       bool   `json:"active"`
	Ready        *bool  `json:"ready"`
	LastAccessed int64  `json:"lastAccessed"` // 毫秒时间戳
}

type outboundFrame struct {
	Type string `json:"type"`
	Request
}

// agentConn 单个标签页连接，实现 Target
type agentConn struct {
	id          string
	tabID       string
	ws          *websocket.Conn
	connectedAt time.Time
	log         *zap.SugaredLogger

	writeMu sync.Mutex

	mu   sync.RWMutex
	info Info

	done      chan struct{}
	closeOnce sync.Once
}

func (c *agentConn) ID() string { return c.id }

func (c *agentConn) Info() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info := c.info
	info.ID = c.id
	info.TabID = c.tabID
	info.ConnectedAt = c.connectedAt
	return info
}

func (c *agentConn) Done() <-chan struct{} { return c.done }

func (c *agentConn) Send(ctx context.Context, req Request) error {
	select {
	case <-c.done:
		return types.NewError(types.CodeTargetUnavailable, "标签页已关闭")
	default:
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteJSON(outboundFrame{Type: frameRequest, Request: req}); err != nil {
		select {
		case <-c.done:
			return types.Wrap(types.CodeTargetUnavailable, "标签页已关闭", err)
		default:
		}
		return types.Wrap(types.CodeBridgeUnavailable, "写入标签页连接失败", err)
	}
	return nil
}

func (c *agentConn) apply(s *tabState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.URL != "" {
		c.info.URL = s.URL
	}
	if s.Title != "" {
		c.info.Title = s.Title
	}
	c.info.Active = s.Active
	if s.Ready != nil {
		c.info.Ready = *s.Ready
	} else if !c.info.Ready {
		// 未声明 ready 的代理视为加载完成
		c.info.Ready = true
	}
	if s.LastAccessed > 0 {
		c.info.LastAccessed = time.UnixMilli(s.LastAccessed)
	}
}

func (c *agentConn) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.log.Debugf("[标签页接入] 心跳失败: target=%s, err=%v", c.id, err)
				return
			}
		}
	}
}

func (c *agentConn) close(reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
}
