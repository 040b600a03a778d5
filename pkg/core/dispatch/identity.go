package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Identity 当前登录用户
type Identity struct {
	UserID    string `json:"user_id"`
	LoginName string `json:"login_name"`
	Raw       any    `json:"raw,omitempty"`
}

// Connected 用户ID与登录名都存在才视为已连接
func (i Identity) Connected() bool {
	return i.UserID != "" && i.LoginName != ""
}

var (
	userIDKeys    = []string{"user_id", "userId", "uid", "id"}
	loginNameKeys = []string{"login_name", "loginName", "username", "user_name", "nick", "name"}
)

// ParseIdentity 从用户信息接口的响应中提取用户ID与登录名
// 兼容 {data:{...}}、{user:{...}}、{result:{...}} 包裹
func ParseIdentity(data json.RawMessage) Identity {
	var raw any
	if len(data) == 0 || json.Unmarshal(data, &raw) != nil {
		return Identity{}
	}
	id := Identity{Raw: raw}

	obj, _ := raw.(map[string]any)
	for depth := 0; obj != nil && depth < 3; depth++ {
		if id.UserID == "" {
			id.UserID = firstString(obj, userIDKeys)
		}
		if id.LoginName == "" {
			id.LoginName = firstString(obj, loginNameKeys)
		}
		if id.Connected() {
			break
		}
		obj = unwrap(obj)
	}
	return id
}

func unwrap(obj map[string]any) map[string]any {
	for _, k := range []string{"data", "user", "result"} {
		if inner, ok := obj[k].(map[string]any); ok {
			return inner
		}
	}
	return nil
}

func firstString(obj map[string]any, keys []string) string {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}
