package mocks

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// AgentFrame 标签页代理协议帧
type AgentFrame struct {
	Type       string          `json:"type"`
	ID         string          `json:"id,omitempty"`
	Action     string          `json:"action,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Tab        *AgentTab       `json:"tab,omitempty"`
	Success    bool            `json:"success,omitempty"`
	Data       any             `json:"data,omitempty"`
	Status     int             `json:"status,omitempty"`
	StatusText string          `json:"statusText,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// AgentTab 标签页状态
type AgentTab struct {
	ID           string `json:"id"`
	URL          string `json:"url"`
	Title        string `json:"title,omitempty"`
	Active       bool   `json:"active"`
	Ready        *bool  `json:"ready,omitempty"`
	LastAccessed int64  `json:"lastAccessed,omitempty"`
}

// AgentHandler 处理请求帧，返回响应帧（nil 表示不回复）
type AgentHandler func(req AgentFrame) *AgentFrame

// MockTabAgent 模拟注入到标签页中的代理脚本，连接本地接入点并应答请求
type MockTabAgent struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu       sync.RWMutex
	handler  AgentHandler
	delay    time.Duration
	requests []AgentFrame

	received int64 // atomic
	closed   chan struct{}
}

// DialTabAgent 连接接入点并发送 hello；url 可以是 http:// 或 ws:// 地址
func DialTabAgent(url, origin string, tab AgentTab) (*MockTabAgent, *http.Response, error) {
	if strings.HasPrefix(url, "http") {
		url = "ws" + strings.TrimPrefix(url, "http")
	}
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return nil, resp, err
	}

	a := &MockTabAgent{conn: conn, closed: make(chan struct{})}
	if err := a.write(AgentFrame{Type: "hello", Tab: &tab}); err != nil {
		conn.Close()
		return nil, resp, err
	}
	go a.readLoop()
	return a, resp, nil
}

// SetHandler 设置请求处理函数
func (a *MockTabAgent) SetHandler(h AgentHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handler = h
}

// SetDelay 设置应答延迟
func (a *MockTabAgent) SetDelay(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.delay = d
}

// SendState 发送状态更新帧
func (a *MockTabAgent) SendState(tab AgentTab) error {
	return a.write(AgentFrame{Type: "state", Tab: &tab})
}

// SendResponse 直接发送响应帧（用于模拟重复或迟到的响应）
func (a *MockTabAgent) SendResponse(resp AgentFrame) error {
	resp.Type = "response"
	return a.write(resp)
}

// Requests 已收到的请求帧
func (a *MockTabAgent) Requests() []AgentFrame {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]AgentFrame, len(a.requests))
	copy(out, a.requests)
	return out
}

// Received 已收到的请求数
func (a *MockTabAgent) Received() int64 {
	return atomic.LoadInt64(&a.received)
}

// Closed 连接断开时关闭
func (a *MockTabAgent) Closed() <-chan struct{} {
	return a.closed
}

// Close 断开连接
func (a *MockTabAgent) Close() error {
	a.writeMu.Lock()
	_ = a.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
	a.writeMu.Unlock()
	return a.conn.Close()
}

func (a *MockTabAgent) write(frame AgentFrame) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.conn.WriteJSON(frame)
}

func (a *MockTabAgent) readLoop() {
	defer close(a.closed)
	for {
		_, data, err := a.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame AgentFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Type != "request" {
			continue
		}
		atomic.AddInt64(&a.received, 1)

		a.mu.Lock()
		a.requests = append(a.requests, frame)
		handler, delay := a.handler, a.delay
		a.mu.Unlock()

		if handler == nil {
			continue
		}
		go func(req AgentFrame) {
			if delay > 0 {
				time.Sleep(delay)
			}
			resp := handler(req)
			if resp == nil {
				return
			}
			resp.ID = req.ID
			_ = a.SendResponse(*resp)
		}(frame)
	}
}
