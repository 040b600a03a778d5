// Package mocks 提供测试用的执行目标、标签页代理与控制面模拟
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/LENAX/relay-agent/pkg/core/target"
	"github.com/LENAX/relay-agent/pkg/core/types"
)

// Responder 根据请求生成响应；返回 nil 表示不回复
type Responder func(req target.Request) *target.Response

// MockTarget 模拟执行目标，支持模拟延迟、写入失败和不回复
type MockTarget struct {
	mu      sync.RWMutex
	id      string
	info    target.Info
	sent    []target.Request
	sendErr error
	delay   time.Duration
	respond Responder
	handler target.ResponseHandler

	sentCh    chan target.Request
	done      chan struct{}
	closeOnce sync.Once
}

// NewMockTarget 创建就绪的模拟执行目标
func NewMockTarget(id string) *MockTarget {
	return &MockTarget{
		id: id,
		info: target.Info{
			ID:          id,
			TabID:       id,
			URL:         "https://seller.example.com/",
			Ready:       true,
			ConnectedAt: time.Now(),
		},
		sentCh: make(chan target.Request, 64),
		done:   make(chan struct{}),
	}
}

// SetInfo 修改目标信息
func (m *MockTarget) SetInfo(fn func(info *target.Info)) *MockTarget {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.info)
	return m
}

// SetResponder 设置响应生成函数与接收方
func (m *MockTarget) SetResponder(h target.ResponseHandler, r Responder) *MockTarget {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
	m.respond = r
	return m
}

// SetDelay 设置响应延迟
func (m *MockTarget) SetDelay(d time.Duration) *MockTarget {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// SetSendError 设置写入失败
func (m *MockTarget) SetSendError(err error) *MockTarget {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
	return m
}

func (m *MockTarget) ID() string { return m.id }

func (m *MockTarget) Info() target.Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.info
}

func (m *MockTarget) Done() <-chan struct{} { return m.done }

func (m *MockTarget) Send(ctx context.Context, req target.Request) error {
	select {
	case <-m.done:
		return types.NewError(types.CodeTargetUnavailable, "标签页已关闭")
	default:
	}

	m.mu.Lock()
	if m.sendErr != nil {
		err := m.sendErr
		m.mu.Unlock()
		return err
	}
	m.sent = append(m.sent, req)
	respond, handler, delay := m.respond, m.handler, m.delay
	m.mu.Unlock()

	select {
	case m.sentCh <- req:
	default:
	}

	if respond != nil && handler != nil {
		go func() {
			if delay > 0 {
				time.Sleep(delay)
			}
			resp := respond(req)
			if resp == nil {
				return
			}
			resp.CorrelationID = req.CorrelationID
			handler.Deliver(m.id, resp)
		}()
	}
	return nil
}

// Sent 已发送的请求
func (m *MockTarget) Sent() []target.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]target.Request, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentChan 请求发送通知
func (m *MockTarget) SentChan() <-chan target.Request {
	return m.sentCh
}

// Close 关闭目标（幂等）
func (m *MockTarget) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

// MockSource 固定的执行目标列表
type MockSource struct {
	mu      sync.RWMutex
	targets []target.Target
}

// NewMockSource 创建目标来源
func NewMockSource(targets ...target.Target) *MockSource {
	return &MockSource{targets: targets}
}

// Set 替换目标列表
func (s *MockSource) Set(targets ...target.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = targets
}

func (s *MockSource) Targets() []target.Target {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]target.Target, len(s.targets))
	copy(out, s.targets)
	return out
}

// OK 构造成功响应
func OK(data []byte) *target.Response {
	return &target.Response{Success: true, Status: 200, StatusText: "OK", Data: data}
}

// Fail 构造失败响应
func Fail(status int, statusText, msg string) *target.Response {
	return &target.Response{Success: false, Status: status, StatusText: statusText, Error: msg}
}
