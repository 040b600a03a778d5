package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate 校验配置合法性
func Validate(cfg *AgentConfig) error {
	if cfg == nil {
		return fmt.Errorf("配置不能为空")
	}

	// 校验General
	if cfg.General.InstanceName == "" {
		return fmt.Errorf("general.instance_name不能为空")
	}

	// 校验Log
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Log.Level)] {
		return fmt.Errorf("log.level必须是debug/info/warn/error之一")
	}
	if f := strings.ToLower(cfg.Log.Format); f != "console" && f != "json" {
		return fmt.Errorf("log.format必须是console/json之一")
	}

	// 校验ControlPlane
	cp := cfg.ControlPlane
	if cp.BaseURL == "" {
		return fmt.Errorf("control_plane.base_url不能为空")
	}
	if u, err := url.Parse(cp.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("control_plane.base_url无效: %s", cp.BaseURL)
	}
	if cp.LongPollHold <= 0 || cp.ErrorRetryDelay <= 0 || cp.ConnectionCheckInterval <= 0 {
		return fmt.Errorf("control_plane的时间参数必须大于0")
	}
	if cp.MinPollInterval <= 0 {
		return fmt.Errorf("control_plane.min_poll_interval必须大于0")
	}
	if cp.DefaultPollInterval < cp.MinPollInterval {
		return fmt.Errorf("control_plane.default_poll_interval不能小于min_poll_interval")
	}

	// 校验Bridge
	if cfg.Bridge.DefaultTimeout <= 0 || cfg.Bridge.LoadTimeout <= 0 {
		return fmt.Errorf("bridge的超时时间必须大于0")
	}
	if cfg.Bridge.SiteURL != "" && cfg.Bridge.SiteOrigin() == "" {
		return fmt.Errorf("bridge.site_url无效: %s", cfg.Bridge.SiteURL)
	}

	// 校验Queue
	if cfg.Queue.MaxConcurrent <= 0 {
		return fmt.Errorf("queue.max_concurrent必须大于0")
	}
	if cfg.Queue.MaxQueueSize <= 0 {
		return fmt.Errorf("queue.max_queue_size必须大于0")
	}

	// 校验Ingress
	if cfg.Ingress.Port <= 0 || cfg.Ingress.Port > 65535 {
		return fmt.Errorf("ingress.port必须在1-65535之间")
	}

	// 校验Keepalive（秒级Cron表达式）
	if cfg.Keepalive.Enabled {
		parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(cfg.Keepalive.CronExpr); err != nil {
			return fmt.Errorf("keepalive.cron_expr无效: %w", err)
		}
	}

	// 校验Journal
	if cfg.Journal.Enabled {
		validDBTypes := map[string]bool{
			"sqlite":     true,
			"postgres":   true,
			"postgresql": true,
			"mysql":      true,
		}
		if !validDBTypes[cfg.Journal.Type] {
			return fmt.Errorf("journal.type必须是sqlite/postgres/mysql之一")
		}
		if cfg.Journal.DSN == "" {
			return fmt.Errorf("journal.dsn不能为空")
		}
	}
	return nil
}
