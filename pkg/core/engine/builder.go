package engine

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/LENAX/relay-agent/pkg/config"
	"github.com/LENAX/relay-agent/pkg/core/health"
	"github.com/LENAX/relay-agent/pkg/core/scheduler"
	"github.com/LENAX/relay-agent/pkg/core/target"
	"github.com/LENAX/relay-agent/pkg/logger"
)

// EngineBuilder 引擎构建器（链式调用）
type EngineBuilder struct {
	configPath   string
	cfg          *config.AgentConfig
	logger       *zap.Logger
	controlPlane scheduler.ControlPlane
	notifier     health.Notifier
	opener       target.Opener
	err          error
}

// NewEngineBuilder 创建引擎构建器（入口）
// configPath 为空或文件不存在时使用默认配置与环境变量
func NewEngineBuilder(configPath string) *EngineBuilder {
	return &EngineBuilder{configPath: configPath}
}

// WithConfig 直接使用已加载的配置，跳过配置文件（链式）
func (b *EngineBuilder) WithConfig(cfg *config.AgentConfig) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if cfg == nil {
		b.err = errors.New("config cannot be nil")
		return b
	}
	b.cfg = cfg
	return b
}

// WithLogger 使用外部日志器（链式）
func (b *EngineBuilder) WithLogger(l *zap.Logger) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if l == nil {
		b.err = errors.New("logger cannot be nil")
		return b
	}
	b.logger = l
	return b
}

// WithControlPlane 替换控制面客户端（链式）
func (b *EngineBuilder) WithControlPlane(cp scheduler.ControlPlane) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if cp == nil {
		b.err = errors.New("control plane cannot be nil")
		return b
	}
	b.controlPlane = cp
	return b
}

// WithNotifier 替换断开通知的接收方（链式）
func (b *EngineBuilder) WithNotifier(n health.Notifier) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if n == nil {
		b.err = errors.New("notifier cannot be nil")
		return b
	}
	b.notifier = n
	return b
}

// WithOpener 替换标签页打开器（链式）
func (b *EngineBuilder) WithOpener(o target.Opener) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if o == nil {
		b.err = errors.New("opener cannot be nil")
		return b
	}
	b.opener = o
	return b
}

// Build 构建引擎实例（最终步骤）
func (b *EngineBuilder) Build() (*Engine, error) {
	// 检查构建过程是否有错误
	if b.err != nil {
		return nil, b.err
	}

	// 1. 加载配置
	cfg := b.cfg
	if cfg == nil {
		loaded, err := config.Load(b.configPath)
		if err != nil {
			return nil, fmt.Errorf("load agent config failed: %w", err)
		}
		cfg = loaded
	} else {
		cfg.ApplyDefaults()
	}

	// 2. 校验配置
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate agent config failed: %w", err)
	}

	// 3. 初始化日志
	zl := b.logger
	if zl == nil {
		l, err := logger.Setup(cfg.Log)
		if err != nil {
			return nil, fmt.Errorf("init logger failed: %w", err)
		}
		zl = l
	}

	// 4. 组装组件
	eng, err := newEngine(cfg, zl, components{
		controlPlane: b.controlPlane,
		notifier:     b.notifier,
		opener:       b.opener,
	})
	if err != nil {
		return nil, fmt.Errorf("create engine failed: %w", err)
	}
	return eng, nil
}
