package agentclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/LENAX/relay-agent/pkg/api/dto"
	"github.com/LENAX/relay-agent/pkg/core/engine"
	"github.com/LENAX/relay-agent/pkg/core/target"
	"github.com/LENAX/relay-agent/pkg/storage"
)

// Client 中继代理本地管理接口客户端
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New 创建客户端
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			// 打开标签页与临时操作可能等待较久
			Timeout: 2 * time.Minute,
		},
	}
}

// ExecutionQuery 执行日志查询条件
type ExecutionQuery struct {
	TaskID  string
	Source  string
	Success *bool
	Since   time.Time
	Limit   int
	Offset  int
}

// ========== Health API ==========

// Health 健康检查
func (c *Client) Health() (*dto.HealthResponse, error) {
	var resp dto.APIResponse[dto.HealthResponse]
	if err := c.get("/health", &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, errors.New(resp.Message)
	}
	return &resp.Data, nil
}

// Ready 就绪检查，未就绪时返回 ready=false 而不是错误
func (c *Client) Ready() (*dto.ReadyResponse, bool, error) {
	var resp dto.APIResponse[dto.ReadyResponse]
	if err := c.get("/ready", &resp); err != nil {
		return nil, false, err
	}
	return &resp.Data, resp.Code == 0, nil
}

// ========== Admin API ==========

// Status 运行状态
func (c *Client) Status() (*engine.Status, error) {
	var resp dto.APIResponse[engine.Status]
	if err := c.get("/api/v1/status", &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, errors.New(resp.Message)
	}
	return &resp.Data, nil
}

// Pause 暂停调度，d<=0 表示无限期
func (c *Client) Pause(d time.Duration) (*dto.PauseResponse, error) {
	req := dto.PauseRequest{}
	if d > 0 {
		req.Duration = d.String()
	}
	var resp dto.APIResponse[dto.PauseResponse]
	if err := c.post("/api/v1/scheduler/pause", req, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, errors.New(resp.Message)
	}
	return &resp.Data, nil
}

// Resume 恢复调度
func (c *Client) Resume() (*dto.PauseResponse, error) {
	var resp dto.APIResponse[dto.PauseResponse]
	if err := c.post("/api/v1/scheduler/resume", nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, errors.New(resp.Message)
	}
	return &resp.Data, nil
}

// Executions 查询执行日志
func (c *Client) Executions(q ExecutionQuery) (*dto.ListResponse[storage.ExecutionRecord], error) {
	params := url.Values{}
	if q.TaskID != "" {
		params.Set("task_id", q.TaskID)
	}
	if q.Source != "" {
		params.Set("source", q.Source)
	}
	if q.Success != nil {
		params.Set("success", strconv.FormatBool(*q.Success))
	}
	if !q.Since.IsZero() {
		params.Set("since", q.Since.Format(time.RFC3339))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}

	path := "/api/v1/executions"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp dto.APIResponse[dto.ListResponse[storage.ExecutionRecord]]
	if err := c.get(path, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, errors.New(resp.Message)
	}
	return &resp.Data, nil
}

// OpenTarget 打开站点标签页，url 为空时使用代理配置的站点地址
func (c *Client) OpenTarget(targetURL string) (*target.Info, error) {
	var resp dto.APIResponse[target.Info]
	if err := c.post("/api/v1/targets/open", dto.OpenTargetRequest{URL: targetURL}, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, errors.New(resp.Message)
	}
	return &resp.Data, nil
}

// ========== Operations API ==========

// Operate 通过临时操作通道执行一次操作，origin 必须在代理的白名单内
func (c *Client) Operate(origin string, req dto.OperationRequest) (*dto.OperationResponse, error) {
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	var resp dto.OperationResponse
	if err := c.post("/api/v1/operations", req, header, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ========== HTTP Methods ==========

func (c *Client) get(path string, result interface{}) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	return c.parseResponse(resp, result)
}

func (c *Client) post(path string, body interface{}, header http.Header, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求体失败: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	return c.parseResponse(resp, result)
}

func (c *Client) parseResponse(resp *http.Response, result interface{}) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应体失败: %w", err)
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("解析响应失败: %w, status: %d, body: %s", err, resp.StatusCode, string(body))
	}

	return nil
}
