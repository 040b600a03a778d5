package cmd

import (
	"github.com/spf13/cobra"

	"github.com/LENAX/relay-agent/pkg/cli/agentclient"
	"github.com/LENAX/relay-agent/pkg/cli/output"
)

var pauseFor string

// pauseCmd 暂停调度
var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "暂停长轮询调度",
	Long: `暂停从控制面拉取任务；已在执行的任务不受影响。

示例：
  # 无限期暂停
  relay-agent pause

  # 暂停30分钟后自动恢复
  relay-agent pause --for 30m`,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := parseDurationFlag(pauseFor)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		client := agentclient.New(serverURL)
		resp, err := client.Pause(d)
		if err != nil {
			output.Error("暂停失败: %v", err)
			return err
		}
		if outputJSON {
			return output.PrintJSON(resp)
		}
		if resp.ResumeAfter != "" {
			output.Success("调度已暂停，%s 后自动恢复", resp.ResumeAfter)
		} else {
			output.Success("调度已暂停")
		}
		return nil
	},
}

// resumeCmd 恢复调度
var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "恢复长轮询调度",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := agentclient.New(serverURL)
		resp, err := client.Resume()
		if err != nil {
			output.Error("恢复失败: %v", err)
			return err
		}
		if outputJSON {
			return output.PrintJSON(resp)
		}
		output.Success("调度已恢复，当前状态: %s", resp.State)
		return nil
	},
}

func init() {
	pauseCmd.Flags().StringVar(&pauseFor, "for", "", "暂停时长（如 30m），为空表示无限期")
}
