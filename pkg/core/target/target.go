// Package target 定位、打开并连接执行目标（已登录站点的浏览器标签页）
package target

import (
	"context"
	"encoding/json"
	"time"

	"github.com/LENAX/relay-agent/pkg/core/types"
)

// Info 执行目标信息
type Info struct {
	ID           string    `json:"id"`     // 连接唯一ID（重连后会变化）
	TabID        string    `json:"tab_id"` // 浏览器标签页ID
	URL          string    `json:"url"`
	Title        string    `json:"title,omitempty"`
	Active       bool      `json:"active"`
	Ready        bool      `json:"ready"`
	LastAccessed time.Time `json:"last_accessed"`
	ConnectedAt  time.Time `json:"connected_at"`
}

// Request 发往执行目标的请求帧
type Request struct {
	CorrelationID string `json:"id"`
	Action        string `json:"action"`
	Payload       any    `json:"payload,omitempty"`
}

// Response 执行目标返回的响应帧
type Response struct {
	CorrelationID string          `json:"id"`
	Success       bool            `json:"success"`
	Data          json.RawMessage `json:"data,omitempty"`
	Status        int             `json:"status,omitempty"`
	StatusText    string          `json:"statusText,omitempty"`
	Error         string          `json:"error,omitempty"`
	ErrorCode     string          `json:"errorCode,omitempty"`
}

// Target 执行目标（对外导出）
type Target interface {
	ID() string
	Info() Info
	// Send 写出请求帧，不等待响应
	Send(ctx context.Context, req Request) error
	// Done 目标关闭时关闭
	Done() <-chan struct{}
}

// ResponseHandler 接收执行目标返回的响应（由内容桥实现）
type ResponseHandler interface {
	Deliver(targetID string, resp *Response)
}

// Source 提供当前已连接的执行目标
type Source interface {
	Targets() []Target
}

// ReadyWatcher 监听新就绪的执行目标
type ReadyWatcher interface {
	WatchReady() (<-chan Target, func())
}

// SessionProber 在执行目标中检查会话Cookie
type SessionProber interface {
	ProbeSession(ctx context.Context, t Target) (types.SessionStatus, error)
}

// Opener 在浏览器中打开新标签页
type Opener interface {
	OpenTab(ctx context.Context, url string) error
}
