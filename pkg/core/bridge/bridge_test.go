package bridge_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LENAX/relay-agent/pkg/core/bridge"
	"github.com/LENAX/relay-agent/pkg/core/cancel"
	"github.com/LENAX/relay-agent/pkg/core/target"
	"github.com/LENAX/relay-agent/pkg/core/types"
	"github.com/LENAX/relay-agent/test/mocks"
)

func newBridge(timeout time.Duration) (*bridge.Bridge, *cancel.Registry) {
	reg := cancel.NewRegistry(zap.NewNop().Sugar())
	return bridge.New(bridge.Options{DefaultTimeout: timeout, Registry: reg}), reg
}

func TestSend_Success(t *testing.T) {
	b, reg := newBridge(time.Second)
	tab := mocks.NewMockTarget("tab-1").SetResponder(b, func(req target.Request) *target.Response {
		return mocks.OK([]byte(`{"items":[1,2]}`))
	})

	resp, err := b.Send(context.Background(), tab, bridge.ActionAPIRequest, map[string]any{"method": "GET", "path": "/items"}, 0)
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[1,2]}`, string(resp.Data))

	sent := tab.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, bridge.ActionAPIRequest, sent[0].Action)
	assert.NotEmpty(t, sent[0].CorrelationID)

	stats := b.Stats()
	assert.Equal(t, int64(1), stats.Sent)
	assert.Equal(t, int64(1), stats.Succeeded)
	assert.Equal(t, 0, stats.InFlight)
	assert.Equal(t, 0, reg.Pending("tab-1"))
}

func TestSend_RemoteErrorCarriesStatus(t *testing.T) {
	b, _ := newBridge(time.Second)
	tab := mocks.NewMockTarget("tab-1").SetResponder(b, func(req target.Request) *target.Response {
		return mocks.Fail(401, "Unauthorized", "")
	})

	_, err := b.Send(context.Background(), tab, bridge.ActionAPIRequest, nil, 0)
	require.Error(t, err)
	assert.Equal(t, types.CodeRemote, types.CodeOf(err))
	status, text, ok := types.StatusOf(err)
	require.True(t, ok)
	assert.Equal(t, 401, status)
	assert.Equal(t, "Unauthorized", text)
}

func TestSend_RemoteErrorNestedStatus(t *testing.T) {
	b, _ := newBridge(time.Second)
	tab := mocks.NewMockTarget("tab-1").SetResponder(b, func(req target.Request) *target.Response {
		return &target.Response{Success: false, Error: "请求失败", Data: json.RawMessage(`{"response":{"status":403,"statusText":"Forbidden"}}`)}
	})

	_, err := b.Send(context.Background(), tab, bridge.ActionAPIRequest, nil, 0)
	status, text, ok := types.StatusOf(err)
	require.True(t, ok)
	assert.Equal(t, 403, status)
	assert.Equal(t, "Forbidden", text)
}

func TestSend_AgentErrorCode(t *testing.T) {
	b, _ := newBridge(time.Second)
	tab := mocks.NewMockTarget("tab-1").SetResponder(b, func(req target.Request) *target.Response {
		return &target.Response{Success: false, Error: "不支持的动作", ErrorCode: string(types.CodeUnsupportedAction)}
	})

	_, err := b.Send(context.Background(), tab, "mystery", nil, 0)
	assert.Equal(t, types.CodeUnsupportedAction, types.CodeOf(err))
}

// TestSend_TimeoutThenLateResponse 超时后到达的响应被丢弃，调用只结束一次
func TestSend_TimeoutThenLateResponse(t *testing.T) {
	b, _ := newBridge(time.Second)
	tab := mocks.NewMockTarget("tab-1")

	start := time.Now()
	_, err := b.Send(context.Background(), tab, bridge.ActionPing, nil, 50*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, types.CodeTimeout, types.CodeOf(err))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	sent := tab.Sent()
	require.Len(t, sent, 1)
	b.Deliver("tab-1", &target.Response{CorrelationID: sent[0].CorrelationID, Success: true})

	stats := b.Stats()
	assert.Equal(t, int64(1), stats.TimedOut)
	assert.Equal(t, int64(1), stats.LateResponses)
	assert.Equal(t, int64(0), stats.Succeeded)
	assert.Equal(t, 0, stats.InFlight)
}

func TestSend_DuplicateResponseDropped(t *testing.T) {
	b, _ := newBridge(time.Second)
	tab := mocks.NewMockTarget("tab-1")

	done := make(chan error, 1)
	go func() {
		_, err := b.Send(context.Background(), tab, bridge.ActionPing, nil, 0)
		done <- err
	}()

	req := <-tab.SentChan()
	b.Deliver("tab-1", &target.Response{CorrelationID: req.CorrelationID, Success: true})
	require.NoError(t, <-done)

	b.Deliver("tab-1", &target.Response{CorrelationID: req.CorrelationID, Success: false, Error: "again"})
	assert.Equal(t, int64(1), b.Stats().LateResponses)
	assert.Equal(t, int64(1), b.Stats().Succeeded)
}

func TestSend_ResponseFromOtherTargetIgnored(t *testing.T) {
	b, _ := newBridge(time.Second)
	tab := mocks.NewMockTarget("tab-1")

	done := make(chan error, 1)
	go func() {
		_, err := b.Send(context.Background(), tab, bridge.ActionPing, nil, 100*time.Millisecond)
		done <- err
	}()

	req := <-tab.SentChan()
	b.Deliver("tab-2", &target.Response{CorrelationID: req.CorrelationID, Success: true})
	assert.Equal(t, types.CodeTimeout, types.CodeOf(<-done))
}

func TestSend_TargetClosed(t *testing.T) {
	b, _ := newBridge(time.Second)
	tab := mocks.NewMockTarget("tab-1")

	done := make(chan error, 1)
	go func() {
		_, err := b.Send(context.Background(), tab, bridge.ActionPing, nil, 0)
		done <- err
	}()
	<-tab.SentChan()
	tab.Close()

	select {
	case err := <-done:
		assert.Equal(t, types.CodeTargetUnavailable, types.CodeOf(err))
	case <-time.After(time.Second):
		t.Fatal("目标关闭后调用未结束")
	}

	// 已关闭的目标直接失败
	_, err := b.Send(context.Background(), tab, bridge.ActionPing, nil, 0)
	assert.Equal(t, types.CodeTargetUnavailable, types.CodeOf(err))
}

func TestSend_WriteFailure(t *testing.T) {
	b, _ := newBridge(time.Second)
	tab := mocks.NewMockTarget("tab-1").SetSendError(errors.New("broken pipe"))

	_, err := b.Send(context.Background(), tab, bridge.ActionPing, nil, 0)
	require.Error(t, err)
	assert.Equal(t, types.CodeBridgeUnavailable, types.CodeOf(err))
	assert.Contains(t, err.Error(), "broken pipe")
}

func TestSend_RegistryInvalidate(t *testing.T) {
	b, reg := newBridge(time.Second)
	tab := mocks.NewMockTarget("tab-1")

	done := make(chan error, 1)
	go func() {
		_, err := b.Send(context.Background(), tab, bridge.ActionPing, nil, 0)
		done <- err
	}()
	<-tab.SentChan()
	assert.Equal(t, 1, reg.Invalidate("tab-1", types.NewError(types.CodeTargetUnavailable, "标签页已关闭")))

	select {
	case err := <-done:
		assert.Equal(t, types.CodeTargetUnavailable, types.CodeOf(err))
	case <-time.After(time.Second):
		t.Fatal("注册表失效后调用未结束")
	}
	assert.Equal(t, 0, reg.Pending("tab-1"))

	// 失效后的新调用立即失败
	_, err := b.Send(context.Background(), tab, bridge.ActionPing, nil, 0)
	assert.Equal(t, types.CodeTargetUnavailable, types.CodeOf(err))
}

func TestSend_ContextCancelled(t *testing.T) {
	b, _ := newBridge(time.Second)
	tab := mocks.NewMockTarget("tab-1")
	ctx, cancelFn := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := b.Send(ctx, tab, bridge.ActionPing, nil, 0)
		done <- err
	}()
	<-tab.SentChan()
	cancelFn()
	assert.Equal(t, types.CodeCancelled, types.CodeOf(<-done))
}

func TestSend_CorrelationIDFromContext(t *testing.T) {
	b, _ := newBridge(time.Second)
	tab := mocks.NewMockTarget("tab-1").SetResponder(b, func(req target.Request) *target.Response {
		return mocks.OK(nil)
	})

	ctx := bridge.WithCorrelationID(context.Background(), "task-7")
	_, err := b.Send(ctx, tab, bridge.ActionPing, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "task-7", tab.Sent()[0].CorrelationID)
	assert.Equal(t, "task-7", bridge.CorrelationIDFrom(ctx))
}

func TestNewCorrelationID_Unique(t *testing.T) {
	a := bridge.NewCorrelationID("op", "same")
	b := bridge.NewCorrelationID("op", "same")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "op-same-"))
	assert.True(t, strings.HasPrefix(bridge.NewCorrelationID("op", ""), "op-"))
}

func TestNewCorrelationID_DuplicateBusinessIDsInFlight(t *testing.T) {
	b, _ := newBridge(time.Second)
	tab := mocks.NewMockTarget("tab-1")

	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			ctx := bridge.WithCorrelationID(context.Background(), bridge.NewCorrelationID("op", "same"))
			_, err := b.Send(ctx, tab, bridge.ActionPing, nil, 0)
			done <- err
		}()
	}
	first, second := <-tab.SentChan(), <-tab.SentChan()
	assert.NotEqual(t, first.CorrelationID, second.CorrelationID)

	b.Deliver("tab-1", &target.Response{CorrelationID: first.CorrelationID, Success: true})
	b.Deliver("tab-1", &target.Response{CorrelationID: second.CorrelationID, Success: true})
	require.NoError(t, <-done)
	require.NoError(t, <-done)
}

func TestSend_NoTarget(t *testing.T) {
	b, _ := newBridge(time.Second)
	_, err := b.Send(context.Background(), nil, bridge.ActionPing, nil, 0)
	assert.Equal(t, types.CodeNoTarget, types.CodeOf(err))
}

func TestProbeSession(t *testing.T) {
	b, _ := newBridge(time.Second)
	tab := mocks.NewMockTarget("tab-1").SetResponder(b, func(req target.Request) *target.Response {
		return mocks.OK([]byte(`{"hasSession":true,"isExpired":false}`))
	})

	status, err := b.ProbeSession(context.Background(), tab)
	require.NoError(t, err)
	assert.True(t, status.Valid())

	sent := tab.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, bridge.ActionGetCookies, sent[0].Action)
	assert.Equal(t, map[string]any{"name": "session"}, sent[0].Payload)
}

type stubCookies struct {
	status  types.SessionStatus
	err     error
	siteURL string
	name    string
}

func (s *stubCookies) SessionCookie(_ context.Context, siteURL, name string) (types.SessionStatus, error) {
	s.siteURL, s.name = siteURL, name
	return s.status, s.err
}

// TestProbeSession_BrowserCookieStore HttpOnly 会话Cookie通过浏览器凭据存储读取
func TestProbeSession_BrowserCookieStore(t *testing.T) {
	cookies := &stubCookies{status: types.SessionStatus{HasSession: true}}
	b := bridge.New(bridge.Options{DefaultTimeout: time.Second, SessionCookie: "sid", Cookies: cookies})
	tab := mocks.NewMockTarget("tab-1").SetInfo(func(info *target.Info) {
		info.URL = "https://seller.example.com/dashboard"
	}).SetResponder(b, func(req target.Request) *target.Response {
		return mocks.OK([]byte(`{"hasSession":false}`))
	})

	status, err := b.ProbeSession(context.Background(), tab)
	require.NoError(t, err)
	assert.True(t, status.Valid())
	assert.Equal(t, "https://seller.example.com/dashboard", cookies.siteURL)
	assert.Equal(t, "sid", cookies.name)
	assert.Empty(t, tab.Sent(), "凭据存储可用时不经过页面脚本")
}

func TestProbeSession_FallsBackToPageScript(t *testing.T) {
	cookies := &stubCookies{err: errors.New("cdp unreachable")}
	b := bridge.New(bridge.Options{DefaultTimeout: time.Second, Cookies: cookies})
	tab := mocks.NewMockTarget("tab-1").SetResponder(b, func(req target.Request) *target.Response {
		return mocks.OK([]byte(`{"hasSession":true,"isExpired":false}`))
	})

	status, err := b.ProbeSession(context.Background(), tab)
	require.NoError(t, err)
	assert.True(t, status.Valid())
	require.Len(t, tab.Sent(), 1)
	assert.Equal(t, bridge.ActionGetCookies, tab.Sent()[0].Action)
}

func TestNestedStatus(t *testing.T) {
	cases := []struct {
		name   string
		data   string
		status int
		ok     bool
	}{
		{"nested", `{"response":{"status":502,"statusText":"Bad Gateway"}}`, 502, true},
		{"top level error", `{"status":404}`, 404, true},
		{"top level success", `{"status":200}`, 0, false},
		{"quoted number", `{"status":"500"}`, 500, true},
		{"non numeric", `{"status":"ok"}`, 0, false},
		{"not an object", `[1,2]`, 0, false},
		{"empty", ``, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, _, ok := bridge.NestedStatus(json.RawMessage(tc.data))
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.status, status)
		})
	}
}
