package dispatch

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/LENAX/relay-agent/pkg/core/types"
)

// Kind 任务分类（和类型），由 Classify 产生，Execute 中穷举处理
type Kind interface {
	kind() string
}

// IdentityCall 获取当前登录用户信息
type IdentityCall struct{}

// PingCall 会话保活
type PingCall struct{}

// RefreshSessionCall 刷新会话凭证
type RefreshSessionCall struct {
	Body any
}

// HTTPCall 通用HTTP任务；Path 已合并查询参数
type HTTPCall struct {
	Method   string
	Path     string
	Body     any
	Document bool
}

func (IdentityCall) kind() string       { return "identity" }
func (PingCall) kind() string           { return "ping" }
func (RefreshSessionCall) kind() string { return "refresh_session" }
func (HTTPCall) kind() string           { return "http" }

// KindName 分类名称（用于日志与执行记录）
func KindName(k Kind) string {
	if k == nil {
		return ""
	}
	return k.kind()
}

var taskTypes = map[string]func(t *types.Task) Kind{
	"identity":        func(*types.Task) Kind { return IdentityCall{} },
	"get_user_info":   func(*types.Task) Kind { return IdentityCall{} },
	"ping":            func(*types.Task) Kind { return PingCall{} },
	"keepalive":       func(*types.Task) Kind { return PingCall{} },
	"refresh_session": func(t *types.Task) Kind { return RefreshSessionCall{Body: t.Body()} },
	"refresh_token":   func(t *types.Task) Kind { return RefreshSessionCall{Body: t.Body()} },
}

// Classify 任务分类：先看 task_type，再看 http_method+path，都不匹配返回 UNSUPPORTED_TASK
func Classify(task *types.Task, documentPrefixes []string) (Kind, error) {
	if task == nil {
		return nil, types.NewError(types.CodeInvalidRequest, "任务为空")
	}
	if build, ok := taskTypes[strings.ToLower(strings.TrimSpace(task.Type()))]; ok {
		return build(task), nil
	}

	if task.HTTPMethod != "" && task.Path != "" {
		method := strings.ToUpper(strings.TrimSpace(task.HTTPMethod))
		path, err := MergeQuery(task.Path, task.Params)
		if err != nil {
			return nil, types.Wrap(types.CodeInvalidRequest, fmt.Sprintf("无效的任务路径: %s", task.Path), err)
		}
		return HTTPCall{
			Method:   method,
			Path:     path,
			Body:     task.Body(),
			Document: method == "GET" && isDocumentPath(task.Path, documentPrefixes),
		}, nil
	}

	return nil, types.NewError(types.CodeUnsupportedTask,
		fmt.Sprintf("不支持的任务: id=%s, task_type=%q, http_method=%q, path=%q",
			task.ID, task.Type(), task.HTTPMethod, task.Path))
}

// MergeQuery 把参数合并进路径的查询串：保留已有参数，跳过空值
func MergeQuery(path string, params map[string]any) (string, error) {
	if len(params) == 0 {
		return path, nil
	}
	base, rawQuery, _ := strings.Cut(path, "?")
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", err
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := params[k]
		if v == nil {
			continue
		}
		query.Add(k, formatScalar(v))
	}

	encoded := query.Encode()
	if encoded == "" {
		return base, nil
	}
	return base + "?" + encoded, nil
}

func formatScalar(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

func isDocumentPath(path string, prefixes []string) bool {
	p, _, _ := strings.Cut(path, "?")
	if strings.HasSuffix(strings.ToLower(p), ".html") {
		return true
	}
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}
