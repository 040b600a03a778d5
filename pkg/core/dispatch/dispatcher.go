// Package dispatch 任务分发表：把任务翻译为内容桥调用
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/LENAX/relay-agent/pkg/core/bridge"
	"github.com/LENAX/relay-agent/pkg/core/target"
	"github.com/LENAX/relay-agent/pkg/core/types"
)

// Caller 内容桥调用原语
type Caller interface {
	Send(ctx context.Context, t target.Target, action string, payload any, timeout time.Duration) (*target.Response, error)
}

// Targets 执行目标定位
type Targets interface {
	Locate() (target.Target, error)
	Ensure(ctx context.Context) (target.Target, error)
}

// Options 分发器配置
type Options struct {
	Caller           Caller
	Targets          Targets
	IdentityPath     string
	RefreshPath      string
	KeepalivePath    string
	DocumentPrefixes []string
	Timeout          time.Duration
	Logger           *zap.SugaredLogger
}

// HTTPResult 通用HTTP任务结果
type HTTPResult struct {
	Status     int    `json:"status,omitempty"`
	StatusText string `json:"status_text,omitempty"`
	Data       any    `json:"data,omitempty"`
}

// Dispatcher 任务分发器（对外导出）
type Dispatcher struct {
	opts    Options
	log     *zap.SugaredLogger
	refresh singleflight.Group
}

// New 创建分发器
func New(opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Dispatcher{opts: opts, log: opts.Logger}
}

// Execute 执行任务
func (d *Dispatcher) Execute(ctx context.Context, task *types.Task) (any, error) {
	kind, err := Classify(task, d.opts.DocumentPrefixes)
	if err != nil {
		return nil, err
	}
	d.log.Debugf("[分发] 任务 %s 分类为 %s", task.ID, KindName(kind))

	switch k := kind.(type) {
	case IdentityCall:
		t, err := d.opts.Targets.Ensure(ctx)
		if err != nil {
			return nil, err
		}
		return result(d.Identity(ctx, t))
	case PingCall:
		t, err := d.opts.Targets.Ensure(ctx)
		if err != nil {
			return nil, err
		}
		return d.Ping(ctx, t)
	case RefreshSessionCall:
		return d.RefreshSession(ctx, k.Body)
	case HTTPCall:
		t, err := d.opts.Targets.Ensure(ctx)
		if err != nil {
			return nil, err
		}
		if k.Document {
			return result(d.FetchDocument(ctx, t, k.Path))
		}
		return result(d.Request(ctx, t, k.Method, k.Path, k.Body))
	default:
		return nil, types.NewError(types.CodeInternal, fmt.Sprintf("未处理的任务分类 %T", kind))
	}
}

// Identity 获取当前登录用户信息
func (d *Dispatcher) Identity(ctx context.Context, t target.Target) (Identity, error) {
	resp, err := d.opts.Caller.Send(ctx, t, bridge.ActionGetIdentity, map[string]any{"path": d.opts.IdentityPath}, d.opts.Timeout)
	if err != nil {
		return Identity{}, err
	}
	return ParseIdentity(resp.Data), nil
}

// Ping 会话保活
func (d *Dispatcher) Ping(ctx context.Context, t target.Target) (any, error) {
	payload := map[string]any{}
	if d.opts.KeepalivePath != "" {
		payload["path"] = d.opts.KeepalivePath
	}
	resp, err := d.opts.Caller.Send(ctx, t, bridge.ActionPing, payload, d.opts.Timeout)
	if err != nil {
		return nil, err
	}
	return decode(resp.Data), nil
}

// RefreshSession 刷新会话；并发调用共享同一次内容桥调用
// 会话可能已过期，所以只定位目标不校验会话
func (d *Dispatcher) RefreshSession(ctx context.Context, body any) (any, error) {
	v, err, shared := d.refresh.Do("refresh", func() (any, error) {
		t, err := d.opts.Targets.Locate()
		if err != nil {
			return nil, err
		}
		payload := map[string]any{"path": d.opts.RefreshPath}
		if body != nil {
			payload["body"] = body
		}
		resp, err := d.opts.Caller.Send(ctx, t, bridge.ActionRefreshSession, payload, d.opts.Timeout)
		if err != nil {
			return nil, err
		}
		return decode(resp.Data), nil
	})
	if shared {
		d.log.Debugf("[分发] 会话刷新与进行中的调用合并")
	}
	return v, err
}

// Request 通过内容桥转发API请求
func (d *Dispatcher) Request(ctx context.Context, t target.Target, method, path string, body any) (*HTTPResult, error) {
	payload := map[string]any{"method": method, "path": path}
	if body != nil {
		payload["body"] = body
	}
	resp, err := d.opts.Caller.Send(ctx, t, bridge.ActionAPIRequest, payload, d.opts.Timeout)
	if err != nil {
		return nil, err
	}
	return &HTTPResult{Status: resp.Status, StatusText: resp.StatusText, Data: decode(resp.Data)}, nil
}

// FetchDocument 抓取页面并解析
func (d *Dispatcher) FetchDocument(ctx context.Context, t target.Target, path string) (*Document, error) {
	resp, err := d.opts.Caller.Send(ctx, t, bridge.ActionFetchDocument, map[string]any{"path": path}, d.opts.Timeout)
	if err != nil {
		return nil, err
	}
	var page struct {
		URL    string `json:"url"`
		Status int    `json:"status"`
		HTML   string `json:"html"`
	}
	if err := json.Unmarshal(resp.Data, &page); err != nil {
		return nil, types.Wrap(types.CodeRemote, "页面响应格式错误", err)
	}
	if page.Status == 0 {
		page.Status = resp.Status
	}
	if page.URL == "" {
		page.URL = path
	}
	doc, err := ParseDocument(page.Status, page.URL, page.HTML)
	if err != nil {
		return nil, types.Wrap(types.CodeRemote, "页面解析失败", err)
	}
	return doc, nil
}

// result 失败时不返回带类型的 nil
func result[T any](v T, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return v, nil
}

func decode(data json.RawMessage) any {
	if len(data) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	return v
}
