package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/LENAX/relay-agent/pkg/api"
	"github.com/LENAX/relay-agent/pkg/cli/output"
	"github.com/LENAX/relay-agent/pkg/config"
	"github.com/LENAX/relay-agent/pkg/core/engine"
	"github.com/LENAX/relay-agent/pkg/logger"
)

var (
	configPath string
	listenHost string
	listenPort int
)

// defaultConfigPaths 未指定 --config 时依次尝试的路径
var defaultConfigPaths = []string{
	"./configs/relay-agent.yaml",
	"./config/relay-agent.yaml",
	"./relay-agent.yaml",
}

// runCmd 运行代理
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "运行中继代理",
	Long: `启动长轮询调度器、标签页接入点和本地管理接口，直到收到中断信号。

示例：
  # 使用默认配置（环境变量 RELAY_* 覆盖）启动
  relay-agent run

  # 指定配置文件和监听端口
  relay-agent run --config ./configs/relay-agent.yaml --port 8719`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := resolveConfigPath(configPath)
		if path != "" {
			output.Info("使用配置文件: %s", path)
		} else {
			output.Info("未找到配置文件，使用默认配置与环境变量")
		}

		cfg, err := config.Load(path)
		if err != nil {
			output.Error("加载配置失败: %v", err)
			return err
		}
		if cmd.Flags().Changed("host") {
			cfg.Ingress.Host = listenHost
		}
		if cmd.Flags().Changed("port") {
			cfg.Ingress.Port = listenPort
		}

		zl, err := logger.Setup(cfg.Log)
		if err != nil {
			output.Error("初始化日志失败: %v", err)
			return err
		}
		defer func() { _ = zl.Sync() }()

		// 创建Engine
		eng, err := engine.NewEngineBuilder(path).WithConfig(cfg).WithLogger(zl).Build()
		if err != nil {
			output.Error("创建Engine失败: %v", err)
			return err
		}

		// 先开放接入点，标签页代理才能连上
		serverCfg := api.DefaultServerConfig()
		serverCfg.Host = cfg.Ingress.Host
		serverCfg.Port = cfg.Ingress.Port
		if w := cfg.Bridge.DefaultTimeout + cfg.Bridge.LoadTimeout; w > serverCfg.WriteTimeout {
			serverCfg.WriteTimeout = w
		}
		apiServer := api.NewAPIServer(eng, serverCfg, Version, zl.Sugar().Named("api"))

		serveErr := make(chan error, 1)
		go func() {
			serveErr <- apiServer.Start()
		}()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := eng.Start(ctx); err != nil {
			output.Error("启动Engine失败: %v", err)
			eng.Stop()
			return err
		}
		output.Success("Relay Agent started on %s (control plane: %s)", apiServer.Addr(), cfg.ControlPlane.BaseURL)

		var runErr error
		select {
		case <-ctx.Done():
			output.Info("正在关闭服务...")
		case err := <-serveErr:
			if err != nil {
				output.Error("API服务器错误: %v", err)
				runErr = err
			}
		}

		// 优雅关闭
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverCfg.WriteTimeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			output.Error("关闭API服务器失败: %v", err)
		}

		eng.Stop()
		output.Success("服务已停止")
		return runErr
	},
}

// resolveConfigPath 确定配置文件路径，找不到时返回空串
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv("RELAY_CONFIG"); p != "" {
		return p
	}
	for _, p := range defaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "配置文件路径")
	runCmd.Flags().StringVarP(&listenHost, "host", "H", "127.0.0.1", "监听地址（覆盖 ingress.host）")
	runCmd.Flags().IntVarP(&listenPort, "port", "p", 8719, "监听端口（覆盖 ingress.port）")
}
