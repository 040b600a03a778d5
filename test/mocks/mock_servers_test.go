// Package mocks 包含 mock 服务器的测试
package mocks

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/relay-agent/pkg/core/target"
	"github.com/LENAX/relay-agent/pkg/core/types"
)

// ============================================
// Control Plane Mock Tests
// ============================================

func doCP(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestMockControlPlane_Auth(t *testing.T) {
	cp := NewMockControlPlane(t, "secret")

	resp := doCP(t, http.MethodGet, cp.URL()+"/tasks/poll?timeout=1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, cp.Polls())

	resp = doCP(t, http.MethodGet, cp.URL()+"/tasks/poll?timeout=1", "secret", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, cp.Polls())
	assert.Equal(t, "1", cp.LastPollTimeout())
}

func TestMockControlPlane_PollQueue(t *testing.T) {
	cp := NewMockControlPlane(t, "")
	cp.Enqueue(types.PollResponse{
		HasPendingTasks: true,
		Tasks:           []types.Task{{ID: types.NewNumericTaskID(1), Path: "/a"}},
	})
	cp.FailPolls(1)

	resp := doCP(t, http.MethodGet, cp.URL()+"/tasks/poll", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = doCP(t, http.MethodGet, cp.URL()+"/tasks/poll", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var poll types.PollResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&poll))
	assert.True(t, poll.HasPendingTasks)
	require.Len(t, poll.Tasks, 1)
	assert.Equal(t, "1", poll.Tasks[0].ID.String())

	// 队列取空后按 hold 挂起再返回空结果
	cp.SetHold(100 * time.Millisecond)
	start := time.Now()
	resp = doCP(t, http.MethodGet, cp.URL()+"/tasks/poll", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	poll = types.PollResponse{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&poll))
	assert.False(t, poll.HasPendingTasks)

	assert.Equal(t, 3, cp.Polls())
	assert.Len(t, cp.PollTimes(), 3)

	select {
	case <-cp.PollChan():
	default:
		t.Fatal("expected poll notification")
	}
}

func TestMockControlPlane_Reports(t *testing.T) {
	cp := NewMockControlPlane(t, "")

	resp := doCP(t, http.MethodPost, cp.URL()+"/tasks/9/complete", "",
		types.NewSuccessResult(types.NewNumericTaskID(9), map[string]any{"ok": true}))
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	cp.SetReportStatus(http.StatusInternalServerError)
	resp = doCP(t, http.MethodPost, cp.URL()+"/tasks/10/complete", "",
		types.TaskResult{TaskID: types.NewNumericTaskID(10), ErrorMessage: "boom"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	reports := cp.Reports()
	require.Len(t, reports, 2)
	assert.True(t, reports[0].Success)
	assert.Equal(t, "10", reports[1].TaskID.String())
	assert.Len(t, cp.ReportTimes(), 2)

	resp = doCP(t, http.MethodPost, cp.URL()+"/connection/disconnected", "", map[string]string{"reason": "no_session"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"no_session"}, cp.Disconnects())
}

// ============================================
// Tab Agent Mock Tests
// ============================================

type agentEndpoint struct {
	srv    *httptest.Server
	mu     sync.Mutex
	conn   *websocket.Conn
	hello  AgentFrame
	frames chan AgentFrame
}

func newAgentEndpoint(t *testing.T) *agentEndpoint {
	t.Helper()
	ep := &agentEndpoint{frames: make(chan AgentFrame, 16)}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
		return r.Header.Get("Origin") == "https://seller.example.com"
	}}
	ep.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ep.mu.Lock()
		ep.conn = conn
		ep.mu.Unlock()
		for {
			var f AgentFrame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			ep.frames <- f
		}
	}))
	t.Cleanup(ep.srv.Close)
	return ep
}

func (ep *agentEndpoint) send(t *testing.T, f AgentFrame) {
	t.Helper()
	ep.mu.Lock()
	defer ep.mu.Unlock()
	require.NotNil(t, ep.conn)
	require.NoError(t, ep.conn.WriteJSON(f))
}

func (ep *agentEndpoint) next(t *testing.T) AgentFrame {
	t.Helper()
	select {
	case f := <-ep.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for frame")
		return AgentFrame{}
	}
}

func TestMockTabAgent_HelloAndRequests(t *testing.T) {
	ep := newAgentEndpoint(t)

	_, resp, err := DialTabAgent(ep.srv.URL, "https://evil.example.com", AgentTab{ID: "1"})
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}

	agent, _, err := DialTabAgent(ep.srv.URL, "https://seller.example.com", AgentTab{ID: "7", URL: "https://seller.example.com/", Active: true})
	require.NoError(t, err)
	defer agent.Close()

	hello := ep.next(t)
	assert.Equal(t, "hello", hello.Type)
	require.NotNil(t, hello.Tab)
	assert.Equal(t, "7", hello.Tab.ID)

	agent.SetHandler(func(req AgentFrame) *AgentFrame {
		if req.Action == "ping" {
			return &AgentFrame{Type: "response", Success: true, Data: map[string]any{"pong": true}}
		}
		return nil
	})

	ep.send(t, AgentFrame{Type: "request", ID: "c-1", Action: "ping"})
	reply := ep.next(t)
	assert.Equal(t, "c-1", reply.ID)
	assert.True(t, reply.Success)

	// 无应答的请求只记录
	ep.send(t, AgentFrame{Type: "request", ID: "c-2", Action: "getCookies"})
	require.Eventually(t, func() bool { return agent.Received() == 2 }, time.Second, 10*time.Millisecond)
	reqs := agent.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "getCookies", reqs[1].Action)

	ready := false
	require.NoError(t, agent.SendState(AgentTab{ID: "7", URL: "https://seller.example.com/login", Ready: &ready}))
	state := ep.next(t)
	assert.Equal(t, "state", state.Type)
	assert.Equal(t, "https://seller.example.com/login", state.Tab.URL)

	ep.mu.Lock()
	ep.conn.Close()
	ep.mu.Unlock()
	select {
	case <-agent.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("agent not closed")
	}
}

// ============================================
// Target Mock Tests
// ============================================

type deliveries struct {
	mu    sync.Mutex
	items []*target.Response
}

func (d *deliveries) Deliver(_ string, resp *target.Response) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items = append(d.items, resp)
}

func (d *deliveries) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

func TestMockTarget_SendAndRespond(t *testing.T) {
	d := &deliveries{}
	m := NewMockTarget("t-1").SetResponder(d, func(req target.Request) *target.Response {
		return OK([]byte(`{"action":"` + req.Action + `"}`))
	})

	require.NoError(t, m.Send(t.Context(), target.Request{CorrelationID: "c-1", Action: "ping"}))
	require.Eventually(t, func() bool { return d.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "c-1", d.items[0].CorrelationID)
	assert.Len(t, m.Sent(), 1)

	m.Close()
	err := m.Send(t.Context(), target.Request{CorrelationID: "c-2", Action: "ping"})
	assert.ErrorIs(t, err, types.ErrTargetUnavailable)
}

func TestMockSource(t *testing.T) {
	a, b := NewMockTarget("a"), NewMockTarget("b")
	src := NewMockSource(a)
	assert.Len(t, src.Targets(), 1)

	src.Set(a, b)
	assert.Len(t, src.Targets(), 2)

	resp := Fail(404, "Not Found", "missing")
	assert.False(t, resp.Success)
	assert.Equal(t, 404, resp.Status)
}
