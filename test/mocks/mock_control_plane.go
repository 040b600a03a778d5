package mocks

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/relay-agent/pkg/core/types"
)

// MockControlPlane 模拟控制面，支持排队下发任务、模拟轮询失败和上报失败
type MockControlPlane struct {
	server *httptest.Server
	token  string

	mu              sync.RWMutex
	pending         []types.PollResponse
	failPolls       int
	reportStatus    int
	hold            time.Duration
	polls           int
	pollTimes       []time.Time
	lastPollTimeout string
	reports         []types.TaskResult
	reportTimes     []time.Time
	disconnects     []string

	pollCh chan struct{}
}

// NewMockControlPlane 创建并启动模拟控制面；token 为空时不校验认证
func NewMockControlPlane(t testing.TB, token string) *MockControlPlane {
	gin.SetMode(gin.TestMode)
	m := &MockControlPlane{token: token, pollCh: make(chan struct{}, 256)}

	r := gin.New()
	r.Use(m.auth)
	r.GET("/tasks/poll", m.handlePoll)
	r.POST("/tasks/:id/complete", m.handleComplete)
	r.POST("/connection/disconnected", m.handleDisconnect)

	m.server = httptest.NewServer(r)
	t.Cleanup(m.server.Close)
	return m
}

// URL 服务地址
func (m *MockControlPlane) URL() string {
	return m.server.URL
}

// Enqueue 追加一次轮询响应
func (m *MockControlPlane) Enqueue(resp types.PollResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, resp)
}

// FailPolls 接下来 n 次轮询返回 503
func (m *MockControlPlane) FailPolls(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPolls = n
}

// SetReportStatus 设置上报接口返回的状态码（0 表示正常）
func (m *MockControlPlane) SetReportStatus(code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reportStatus = code
}

// SetHold 没有任务时保持连接的时长
func (m *MockControlPlane) SetHold(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hold = d
}

// Polls 已收到的轮询次数
func (m *MockControlPlane) Polls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.polls
}

// PollTimes 每次轮询到达的时间
func (m *MockControlPlane) PollTimes() []time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]time.Time(nil), m.pollTimes...)
}

// PollChan 每次轮询到达时通知
func (m *MockControlPlane) PollChan() <-chan struct{} {
	return m.pollCh
}

// LastPollTimeout 最近一次轮询携带的 timeout 参数
func (m *MockControlPlane) LastPollTimeout() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastPollTimeout
}

// Reports 已收到的任务结果
func (m *MockControlPlane) Reports() []types.TaskResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.TaskResult(nil), m.reports...)
}

// ReportTimes 每条结果到达的时间
func (m *MockControlPlane) ReportTimes() []time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]time.Time(nil), m.reportTimes...)
}

// Disconnects 已收到的断开通知原因
func (m *MockControlPlane) Disconnects() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.disconnects...)
}

func (m *MockControlPlane) auth(c *gin.Context) {
	if m.token == "" {
		c.Next()
		return
	}
	if strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ") != m.token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func (m *MockControlPlane) handlePoll(c *gin.Context) {
	m.mu.Lock()
	m.polls++
	m.pollTimes = append(m.pollTimes, time.Now())
	m.lastPollTimeout = c.Query("timeout")
	fail := m.failPolls > 0
	if fail {
		m.failPolls--
	}
	var resp *types.PollResponse
	if !fail && len(m.pending) > 0 {
		resp = &m.pending[0]
		m.pending = m.pending[1:]
	}
	hold := m.hold
	m.mu.Unlock()

	select {
	case m.pollCh <- struct{}{}:
	default:
	}

	if fail {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "模拟控制面故障"})
		return
	}
	if resp == nil {
		if hold > 0 {
			select {
			case <-time.After(hold):
			case <-c.Request.Context().Done():
				return
			}
		}
		c.JSON(http.StatusOK, types.PollResponse{HasPendingTasks: false, Tasks: []types.Task{}})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (m *MockControlPlane) handleComplete(c *gin.Context) {
	var result types.TaskResult
	if err := c.ShouldBindJSON(&result); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m.mu.Lock()
	status := m.reportStatus
	m.reports = append(m.reports, result)
	m.reportTimes = append(m.reportTimes, time.Now())
	m.mu.Unlock()

	if status != 0 {
		c.JSON(status, gin.H{"error": "模拟上报失败"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (m *MockControlPlane) handleDisconnect(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)
	m.mu.Lock()
	m.disconnects = append(m.disconnects, body.Reason)
	m.mu.Unlock()
	c.Status(http.StatusNoContent)
}
