package agentclient_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/relay-agent/pkg/api/dto"
	"github.com/LENAX/relay-agent/pkg/cli/agentclient"
	"github.com/LENAX/relay-agent/pkg/core/engine"
	"github.com/LENAX/relay-agent/pkg/core/scheduler"
	"github.com/LENAX/relay-agent/pkg/core/target"
	"github.com/LENAX/relay-agent/pkg/storage"
)

// TestClient 测试管理接口客户端
func TestClient(t *testing.T) {
	t.Run("Status成功", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/status", r.URL.Path)
			assert.Equal(t, http.MethodGet, r.Method)
			json.NewEncoder(w).Encode(dto.NewSuccessResponse(engine.Status{
				Instance:  "agent-1",
				Running:   true,
				Scheduler: scheduler.Stats{State: scheduler.StateSleeping, Polls: 3},
			}))
		}))
		defer server.Close()

		st, err := agentclient.New(server.URL + "/").Status()
		require.NoError(t, err)
		assert.Equal(t, "agent-1", st.Instance)
		assert.Equal(t, scheduler.StateSleeping, st.Scheduler.State)
		assert.Equal(t, int64(3), st.Scheduler.Polls)
	})

	t.Run("Pause携带时长", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/scheduler/pause", r.URL.Path)
			assert.Equal(t, http.MethodPost, r.Method)
			var req dto.PauseRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "15m0s", req.Duration)
			json.NewEncoder(w).Encode(dto.NewSuccessResponse(dto.PauseResponse{State: "paused", ResumeAfter: req.Duration}))
		}))
		defer server.Close()

		resp, err := agentclient.New(server.URL).Pause(15 * time.Minute)
		require.NoError(t, err)
		assert.Equal(t, "paused", resp.State)
		assert.Equal(t, "15m0s", resp.ResumeAfter)
	})

	t.Run("Executions查询参数", func(t *testing.T) {
		since := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, "/api/v1/executions", r.URL.Path)
			assert.Equal(t, "42", q.Get("task_id"))
			assert.Equal(t, "adhoc", q.Get("source"))
			assert.Equal(t, "false", q.Get("success"))
			assert.Equal(t, "2026-03-01T08:00:00Z", q.Get("since"))
			assert.Equal(t, "5", q.Get("limit"))
			assert.Empty(t, q.Get("offset"))
			json.NewEncoder(w).Encode(dto.NewSuccessResponse(dto.ListResponse[storage.ExecutionRecord]{
				Total: 1,
				Items: []storage.ExecutionRecord{{ID: "e1", TaskID: "42", ErrorCode: "TIMEOUT"}},
			}))
		}))
		defer server.Close()

		failed := false
		result, err := agentclient.New(server.URL).Executions(agentclient.ExecutionQuery{
			TaskID: "42", Source: "adhoc", Success: &failed, Since: since, Limit: 5,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Total)
		assert.Equal(t, "TIMEOUT", result.Items[0].ErrorCode)
	})

	t.Run("错误响应转为错误", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusGatewayTimeout)
			json.NewEncoder(w).Encode(dto.NewErrorResponse(504, "等待标签页就绪超时"))
		}))
		defer server.Close()

		_, err := agentclient.New(server.URL).OpenTarget("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "等待标签页就绪超时")
	})

	t.Run("OpenTarget成功", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req dto.OpenTargetRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			json.NewEncoder(w).Encode(dto.NewSuccessResponse(target.Info{ID: "t1", URL: req.URL, Ready: true}))
		}))
		defer server.Close()

		info, err := agentclient.New(server.URL).OpenTarget("https://seller.example.com/home")
		require.NoError(t, err)
		assert.Equal(t, "https://seller.example.com/home", info.URL)
		assert.True(t, info.Ready)
	})

	t.Run("Operate携带Origin", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/operations", r.URL.Path)
			if r.Header.Get("Origin") != "https://seller.example.com" {
				w.WriteHeader(http.StatusForbidden)
				json.NewEncoder(w).Encode(dto.OperationResponse{ErrorCode: "UNAUTHORIZED_ORIGIN", Error: "forbidden"})
				return
			}
			var req dto.OperationRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			json.NewEncoder(w).Encode(dto.OperationResponse{Success: true, RequestID: req.RequestID, Data: json.RawMessage(`{"pong":true}`)})
		}))
		defer server.Close()

		client := agentclient.New(server.URL)
		resp, err := client.Operate("https://seller.example.com", dto.OperationRequest{Action: "ping", RequestID: "r1"})
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, "r1", resp.RequestID)
		assert.JSONEq(t, `{"pong":true}`, string(resp.Data))

		resp, err = client.Operate("", dto.OperationRequest{Action: "ping"})
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, "UNAUTHORIZED_ORIGIN", resp.ErrorCode)
	})

	t.Run("非JSON响应", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("bad gateway"))
		}))
		defer server.Close()

		_, err := agentclient.New(server.URL).Health()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "解析响应失败")
	})

	t.Run("Ready未就绪", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(dto.APIResponse[dto.ReadyResponse]{Code: 503, Data: dto.ReadyResponse{Status: "not_ready"}})
		}))
		defer server.Close()

		resp, ready, err := agentclient.New(server.URL).Ready()
		require.NoError(t, err)
		assert.False(t, ready)
		assert.Equal(t, "not_ready", resp.Status)
	})
}
