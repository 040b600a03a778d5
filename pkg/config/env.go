package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀
// 键名由配置路径得到，例如 control_plane.base_url -> RELAY_CONTROL_PLANE_BASE_URL
const EnvPrefix = "RELAY"

// envBinding 配置路径、兼容短名称与目标字段
type envBinding struct {
	key     string
	aliases []string
	dst     any
}

func (c *AgentConfig) envBindings() []envBinding {
	return []envBinding{
		{"general.instance_name", []string{"INSTANCE_NAME"}, &c.General.InstanceName},
		{"general.env", []string{"ENV"}, &c.General.Env},

		{"log.level", nil, &c.Log.Level},
		{"log.format", nil, &c.Log.Format},
		{"log.outputs", nil, &c.Log.Outputs},
		{"log.development", nil, &c.Log.Development},

		{"control_plane.base_url", []string{"CONTROL_PLANE_URL"}, &c.ControlPlane.BaseURL},
		{"control_plane.token", nil, &c.ControlPlane.Token},
		{"control_plane.long_poll_hold", []string{"LONG_POLL_HOLD"}, &c.ControlPlane.LongPollHold},
		{"control_plane.error_retry_delay", []string{"ERROR_RETRY_DELAY"}, &c.ControlPlane.ErrorRetryDelay},
		{"control_plane.connection_check_interval", []string{"CONNECTION_CHECK_INTERVAL"}, &c.ControlPlane.ConnectionCheckInterval},
		{"control_plane.min_poll_interval", []string{"MIN_POLL_INTERVAL"}, &c.ControlPlane.MinPollInterval},
		{"control_plane.default_poll_interval", []string{"DEFAULT_POLL_INTERVAL"}, &c.ControlPlane.DefaultPollInterval},
		{"control_plane.pause_check_interval", []string{"PAUSE_CHECK_INTERVAL"}, &c.ControlPlane.PauseCheckInterval},
		{"control_plane.request_timeout", []string{"REQUEST_TIMEOUT"}, &c.ControlPlane.RequestTimeout},

		{"bridge.default_timeout", []string{"BRIDGE_TIMEOUT"}, &c.Bridge.DefaultTimeout},
		{"bridge.load_timeout", []string{"LOAD_TIMEOUT"}, &c.Bridge.LoadTimeout},
		{"bridge.site_url", []string{"SITE_URL"}, &c.Bridge.SiteURL},
		{"bridge.cdp_url", []string{"CDP_URL"}, &c.Bridge.CDPURL},
		{"bridge.session_cookie", []string{"SESSION_COOKIE"}, &c.Bridge.SessionCookie},
		{"bridge.document_prefixes", []string{"DOCUMENT_PREFIXES"}, &c.Bridge.DocumentPrefixes},
		{"bridge.identity_path", []string{"IDENTITY_PATH"}, &c.Bridge.IdentityPath},
		{"bridge.refresh_path", []string{"REFRESH_PATH"}, &c.Bridge.RefreshPath},
		{"bridge.keepalive_path", []string{"KEEPALIVE_PATH"}, &c.Bridge.KeepalivePath},

		{"queue.max_concurrent", nil, &c.Queue.MaxConcurrent},
		{"queue.max_queue_size", []string{"QUEUE_MAX_SIZE"}, &c.Queue.MaxQueueSize},

		{"ingress.host", nil, &c.Ingress.Host},
		{"ingress.port", nil, &c.Ingress.Port},
		{"ingress.allowed_origins", []string{"ALLOWED_ORIGINS"}, &c.Ingress.AllowedOrigins},

		{"keepalive.enabled", nil, &c.Keepalive.Enabled},
		{"keepalive.cron_expr", []string{"KEEPALIVE_CRON"}, &c.Keepalive.CronExpr},

		{"journal.enabled", nil, &c.Journal.Enabled},
		{"journal.type", nil, &c.Journal.Type},
		{"journal.dsn", nil, &c.Journal.DSN},
		{"journal.retention", nil, &c.Journal.Retention},
	}
}

// ApplyEnv 使用 RELAY_* 环境变量覆盖配置，空白值不覆盖
func (c *AgentConfig) ApplyEnv() error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for _, b := range c.envBindings() {
		names := envNames(b)
		if err := v.BindEnv(append([]string{b.key}, names...)...); err != nil {
			return fmt.Errorf("绑定环境变量 %s 失败: %w", b.key, err)
		}
		if !v.IsSet(b.key) {
			continue
		}
		raw := strings.TrimSpace(v.GetString(b.key))
		if raw == "" {
			continue
		}
		if err := assignEnv(b.dst, raw); err != nil {
			return fmt.Errorf("环境变量 %s 无效: %w", strings.Join(names, "/"), err)
		}
	}
	return nil
}

// envNames 完整路径名在前，兼容短名称在后
func envNames(b envBinding) []string {
	names := []string{EnvPrefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(b.key))}
	for _, a := range b.aliases {
		names = append(names, EnvPrefix+"_"+a)
	}
	return names
}

func assignEnv(dst any, raw string) error {
	switch p := dst.(type) {
	case *string:
		*p = raw
	case *time.Duration:
		// 纯数字按毫秒处理
		if _, err := strconv.ParseInt(raw, 10, 64); err == nil {
			raw += "ms"
		}
		d, err := cast.ToDurationE(raw)
		if err != nil {
			return err
		}
		*p = d
	case *int:
		n, err := cast.ToIntE(raw)
		if err != nil {
			return err
		}
		*p = n
	case *bool:
		b, err := cast.ToBoolE(raw)
		if err != nil {
			return err
		}
		*p = b
	case *[]string:
		*p = splitList(raw)
	default:
		return fmt.Errorf("不支持的字段类型 %T", dst)
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
