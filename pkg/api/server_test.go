package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LENAX/relay-agent/pkg/api"
	"github.com/LENAX/relay-agent/pkg/api/dto"
	"github.com/LENAX/relay-agent/pkg/config"
	"github.com/LENAX/relay-agent/pkg/core/engine"
	"github.com/LENAX/relay-agent/test/mocks"
)

// TestAPIServer_EndToEnd 标签页经 /agent/ws 接入后，操作通道与管理接口经由真实引擎工作
func TestAPIServer_EndToEnd(t *testing.T) {
	cp := mocks.NewMockControlPlane(t, "token")

	cfg := &config.AgentConfig{}
	cfg.ControlPlane.BaseURL = cp.URL()
	cfg.ControlPlane.Token = "token"
	cfg.ControlPlane.LongPollHold = time.Second
	cfg.Bridge.SiteURL = siteOrigin + "/dashboard"
	cfg.Bridge.DefaultTimeout = 2 * time.Second
	cfg.Keepalive.Enabled = false

	eng, err := engine.NewEngineBuilder("").WithConfig(cfg).WithLogger(zap.NewNop()).Build()
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := api.NewAPIServer(eng, api.DefaultServerConfig(), "1.0.0-test", nil)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		eng.Stop()
	})
	base := "http://" + ln.Addr().String()

	// 非白名单来源无法接入
	_, resp, err := mocks.DialTabAgent(base+"/agent/ws", "https://evil.example.com", mocks.AgentTab{ID: "9"})
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}

	agent, _, err := mocks.DialTabAgent(base+"/agent/ws", siteOrigin, mocks.AgentTab{
		ID:           "1",
		URL:          siteOrigin + "/dashboard",
		Active:       true,
		LastAccessed: time.Now().UnixMilli(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { agent.Close() })
	agent.SetHandler(func(req mocks.AgentFrame) *mocks.AgentFrame {
		switch req.Action {
		case "ping":
			return &mocks.AgentFrame{Success: true, Data: map[string]any{"pong": true}}
		case "getCookies":
			return &mocks.AgentFrame{Success: true, Data: map[string]any{"hasSession": true, "isExpired": false}}
		default:
			return &mocks.AgentFrame{Success: false, Error: "unknown action"}
		}
	})

	require.Eventually(t, func() bool {
		r, err := http.Get(base + "/ready")
		if err != nil {
			return false
		}
		r.Body.Close()
		return r.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	post := func(origin string, body any) (*http.Response, dto.OperationResponse) {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		req, err := http.NewRequest(http.MethodPost, base+"/api/v1/operations", bytes.NewReader(raw))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Origin", origin)
		r, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer r.Body.Close()
		var out dto.OperationResponse
		require.NoError(t, json.NewDecoder(r.Body).Decode(&out))
		return r, out
	}

	r, out := post(siteOrigin, dto.OperationRequest{Action: "ping", RequestID: "req-1"})
	assert.Equal(t, http.StatusOK, r.StatusCode)
	assert.True(t, out.Success, out.Error)
	assert.Equal(t, "req-1", out.RequestID)

	r, out = post(siteOrigin, dto.OperationRequest{Action: "session_status"})
	assert.Equal(t, http.StatusOK, r.StatusCode)
	require.True(t, out.Success, out.Error)
	var status engine.SessionStatusResult
	require.NoError(t, json.Unmarshal(out.Data, &status))
	assert.True(t, status.Session.HasSession)

	r, out = post(siteOrigin, dto.OperationRequest{Action: "reboot"})
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
	assert.Equal(t, "UNSUPPORTED_ACTION", out.ErrorCode)

	r, out = post("https://evil.example.com", dto.OperationRequest{Action: "ping"})
	assert.Equal(t, http.StatusForbidden, r.StatusCode)
	assert.Equal(t, "UNAUTHORIZED_ORIGIN", out.ErrorCode)

	// 被拒绝的请求不会到达标签页
	pings := 0
	for _, req := range agent.Requests() {
		if req.Action == "ping" {
			pings++
		}
	}
	assert.Equal(t, 1, pings)

	sr, err := http.Get(base + "/api/v1/status")
	require.NoError(t, err)
	defer sr.Body.Close()
	var st dto.APIResponse[engine.Status]
	require.NoError(t, json.NewDecoder(sr.Body).Decode(&st))
	assert.Len(t, st.Data.Targets, 1)
	assert.GreaterOrEqual(t, st.Data.Bridge.Succeeded, int64(2))
}
