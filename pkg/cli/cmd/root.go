package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// 构建信息，发布时通过 -ldflags 注入
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var (
	serverURL  string
	outputJSON bool
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "relay-agent",
	Short: "站点会话中继代理",
	Long: `relay-agent 从控制面长轮询任务，经由已登录的浏览器标签页执行，并回报结果。

除 run 外的子命令都通过本地管理接口与正在运行的代理交互。`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// NewRootCommand 返回根命令（测试使用）
func NewRootCommand() *cobra.Command {
	return rootCmd
}

// Execute 执行命令行
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", envOr("RELAY_AGENT_URL", "http://127.0.0.1:8719"), "代理管理接口地址")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "以JSON格式输出")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(opCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
