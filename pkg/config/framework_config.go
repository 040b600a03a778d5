package config

import (
	"net/url"
	"strings"
	"time"
)

// AgentConfig 中继代理配置（对外导出）
type AgentConfig struct {
	General      GeneralConfig      `yaml:"general"`
	Log          LogConfig          `yaml:"log"`
	ControlPlane ControlPlaneConfig `yaml:"control_plane"`
	Bridge       BridgeConfig       `yaml:"bridge"`
	Queue        QueueConfig        `yaml:"queue"`
	Ingress      IngressConfig      `yaml:"ingress"`
	Keepalive    KeepaliveConfig    `yaml:"keepalive"`
	Journal      JournalConfig      `yaml:"journal"`
}

// GeneralConfig 基础信息
type GeneralConfig struct {
	InstanceName string `yaml:"instance_name"`
	Env          string `yaml:"env"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level       string         `yaml:"level"`
	Format      string         `yaml:"format"` // console | json
	Outputs     []string       `yaml:"outputs"`
	Development bool           `yaml:"development"`
	Rotation    RotationConfig `yaml:"rotation"`
}

// RotationConfig 日志文件滚动配置
type RotationConfig struct {
	Enable     bool   `yaml:"enable"`
	Filename   string `yaml:"filename"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// ControlPlaneConfig 控制面长轮询配置
type ControlPlaneConfig struct {
	BaseURL                 string        `yaml:"base_url"`
	Token                   string        `yaml:"token"`
	LongPollHold            time.Duration `yaml:"long_poll_hold"`
	ErrorRetryDelay         time.Duration `yaml:"error_retry_delay"`
	ConnectionCheckInterval time.Duration `yaml:"connection_check_interval"`
	MinPollInterval         time.Duration `yaml:"min_poll_interval"`
	DefaultPollInterval     time.Duration `yaml:"default_poll_interval"`
	PauseCheckInterval      time.Duration `yaml:"pause_check_interval"`
	RequestTimeout          time.Duration `yaml:"request_timeout"`
}

// BridgeConfig 内容桥与执行目标配置
type BridgeConfig struct {
	DefaultTimeout   time.Duration `yaml:"default_timeout"`
	LoadTimeout      time.Duration `yaml:"load_timeout"`
	SiteURL          string        `yaml:"site_url"`
	CDPURL           string        `yaml:"cdp_url"`
	SessionCookie    string        `yaml:"session_cookie"`
	DocumentPrefixes []string      `yaml:"document_prefixes"`
	IdentityPath     string        `yaml:"identity_path"`
	RefreshPath      string        `yaml:"refresh_path"`
	KeepalivePath    string        `yaml:"keepalive_path"`
}

// QueueConfig 有界请求队列配置
type QueueConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
	MaxQueueSize  int `yaml:"max_queue_size"`
}

// IngressConfig 本地入口（临时操作通道、标签页代理、管理API）
type IngressConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// KeepaliveConfig 定时保活配置
type KeepaliveConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CronExpr string `yaml:"cron_expr"`
}

// JournalConfig 执行日志存储配置
type JournalConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Type            string        `yaml:"type"`
	DSN             string        `yaml:"dsn"`
	Retention       time.Duration `yaml:"retention"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// Addr 本地监听地址
func (c *IngressConfig) Addr() string {
	return c.Host + ":" + itoa(c.Port)
}

// OriginAllowed 校验请求来源；列表中的 "*" 放行所有来源
func (c *IngressConfig) OriginAllowed(origin string) bool {
	origin = strings.TrimRight(strings.TrimSpace(origin), "/")
	if origin == "" {
		return false
	}
	for _, o := range c.AllowedOrigins {
		if o == "*" || strings.EqualFold(strings.TrimRight(o, "/"), origin) {
			return true
		}
	}
	return false
}

// AgentURL 标签页代理回连的 websocket 地址
func (c *IngressConfig) AgentURL() string {
	return "ws://" + c.Addr() + "/agent/ws"
}

// SiteOrigin 站点URL对应的Origin（scheme://host）
func (c *BridgeConfig) SiteOrigin() string {
	u, err := url.Parse(strings.TrimSpace(c.SiteURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// Default 返回带默认值的配置
func Default() *AgentConfig {
	cfg := &AgentConfig{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults 应用默认值
func (c *AgentConfig) ApplyDefaults() {
	// General默认值
	if c.General.InstanceName == "" {
		c.General.InstanceName = "relay-agent"
	}
	if c.General.Env == "" {
		c.General.Env = "dev"
	}

	// Log默认值
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}

	// ControlPlane默认值
	cp := &c.ControlPlane
	cp.BaseURL = strings.TrimRight(cp.BaseURL, "/")
	if cp.LongPollHold <= 0 {
		cp.LongPollHold = 30 * time.Second
	}
	if cp.ErrorRetryDelay <= 0 {
		cp.ErrorRetryDelay = 5 * time.Second
	}
	if cp.ConnectionCheckInterval <= 0 {
		cp.ConnectionCheckInterval = 60 * time.Second
	}
	if cp.MinPollInterval <= 0 {
		cp.MinPollInterval = 1 * time.Second
	}
	if cp.DefaultPollInterval <= 0 {
		cp.DefaultPollInterval = 5 * time.Second
	}
	if cp.PauseCheckInterval <= 0 {
		cp.PauseCheckInterval = 1 * time.Second
	}
	if cp.RequestTimeout <= 0 {
		cp.RequestTimeout = 10 * time.Second
	}

	// Bridge默认值
	if c.Bridge.DefaultTimeout <= 0 {
		c.Bridge.DefaultTimeout = 30 * time.Second
	}
	if c.Bridge.LoadTimeout <= 0 {
		c.Bridge.LoadTimeout = 30 * time.Second
	}
	if c.Bridge.SessionCookie == "" {
		c.Bridge.SessionCookie = "session"
	}
	if c.Bridge.IdentityPath == "" {
		c.Bridge.IdentityPath = "/api/user/info"
	}
	if c.Bridge.RefreshPath == "" {
		c.Bridge.RefreshPath = "/api/session/refresh"
	}

	// Queue默认值
	if c.Queue.MaxConcurrent <= 0 {
		c.Queue.MaxConcurrent = 3
	}
	if c.Queue.MaxQueueSize <= 0 {
		c.Queue.MaxQueueSize = 20
	}

	// Ingress默认值
	if c.Ingress.Host == "" {
		c.Ingress.Host = "127.0.0.1"
	}
	if c.Ingress.Port <= 0 {
		c.Ingress.Port = 8719
	}
	if origin := c.Bridge.SiteOrigin(); origin != "" && !containsString(c.Ingress.AllowedOrigins, origin) {
		c.Ingress.AllowedOrigins = append(c.Ingress.AllowedOrigins, origin)
	}

	// Keepalive默认值
	if c.Keepalive.CronExpr == "" {
		c.Keepalive.CronExpr = "0 */5 * * * *"
	}

	// Journal默认值
	if c.Journal.Type == "" {
		c.Journal.Type = "sqlite"
	}
	if c.Journal.DSN == "" && c.Journal.Type == "sqlite" {
		c.Journal.DSN = "relay-agent.db"
	}
	if c.Journal.Retention <= 0 {
		c.Journal.Retention = 7 * 24 * time.Hour
	}
	if c.Journal.MaxOpenConns <= 0 {
		c.Journal.MaxOpenConns = 5
	}
	if c.Journal.ConnMaxLifetime <= 0 {
		c.Journal.ConnMaxLifetime = 1 * time.Hour
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
