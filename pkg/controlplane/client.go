// Package controlplane 控制面客户端：长轮询拉取任务、上报结果、发送断开通知
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/LENAX/relay-agent/pkg/core/types"
)

// StatusError 控制面返回非 2xx 状态
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("控制面 %s %s 返回 %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Options 客户端配置
type Options struct {
	BaseURL        string
	Token          string
	RequestTimeout time.Duration
	HTTPClient     *http.Client
	Logger         *zap.SugaredLogger
}

// Client 控制面HTTP客户端（对外导出）
type Client struct {
	baseURL        string
	token          string
	requestTimeout time.Duration
	httpClient     *http.Client
	log            *zap.SugaredLogger
}

// New 创建控制面客户端
func New(opts Options) *Client {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.HTTPClient == nil {
		// 超时由每个请求的 ctx 控制，长轮询需要比普通请求更长的时间
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Client{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		token:          opts.Token,
		requestTimeout: opts.RequestTimeout,
		httpClient:     opts.HTTPClient,
		log:            opts.Logger,
	}
}

// Poll 长轮询：服务端最多保持 hold 时长，有任务或超时即返回
func (c *Client) Poll(ctx context.Context, hold time.Duration) (*types.PollResponse, error) {
	params := url.Values{}
	params.Set("timeout", strconv.Itoa(int(hold/time.Second)))
	path := "/tasks/poll?" + params.Encode()

	ctx, cancel := context.WithTimeout(ctx, hold+c.requestTimeout)
	defer cancel()

	var resp types.PollResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Tasks == nil {
		resp.Tasks = []types.Task{}
	}
	return &resp, nil
}

// Report 上报任务结果
func (c *Client) Report(ctx context.Context, result types.TaskResult) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	return c.do(ctx, http.MethodPost, "/tasks/"+url.PathEscape(result.TaskID.String())+"/complete", result, nil)
}

// NotifyDisconnect 通知控制面站点会话已断开（调用方不重试）
func (c *Client) NotifyDisconnect(ctx context.Context, reason string, detectedAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	body := map[string]any{
		"reason":      reason,
		"detected_at": detectedAt.UTC().Format(time.RFC3339),
	}
	return c.do(ctx, http.MethodPost, "/connection/disconnected", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求体失败: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if result == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}
