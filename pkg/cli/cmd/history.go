package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/LENAX/relay-agent/pkg/cli/agentclient"
	"github.com/LENAX/relay-agent/pkg/cli/output"
)

var (
	historyTaskID string
	historySource string
	historyStatus string
	historySince  string
	historyLimit  int
	historyOffset int
)

// historyCmd 查询执行日志
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "查询执行日志",
	Long: `查询代理记录的执行日志（需启用 journal）。

示例：
  relay-agent history --source scheduler --status failed --since 2h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := agentclient.ExecutionQuery{
			TaskID: historyTaskID,
			Source: historySource,
			Limit:  historyLimit,
			Offset: historyOffset,
		}
		switch historyStatus {
		case "":
		case "success", "failed":
			ok := historyStatus == "success"
			q.Success = &ok
		default:
			err := fmt.Errorf("无效的状态: %s（可选 success、failed）", historyStatus)
			output.Error("%v", err)
			return err
		}
		if historySince != "" {
			d, err := parseDurationFlag(historySince)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			q.Since = time.Now().Add(-d)
		}

		client := agentclient.New(serverURL)
		result, err := client.Executions(q)
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(result)
		}

		if len(result.Items) == 0 {
			output.Info("暂无执行记录")
			return nil
		}

		table := output.NewTable([]string{"TASK", "SOURCE", "KIND", "RESULT", "STATUS", "DURATION", "STARTED", "ERROR"})
		for _, r := range result.Items {
			res := "ok"
			if !r.Success {
				res = r.ErrorCode
			}
			status := "-"
			if r.StatusCode != 0 {
				status = strconv.Itoa(r.StatusCode)
			}
			table.AddRow([]string{
				r.TaskID,
				r.Source,
				r.Kind,
				res,
				status,
				output.FormatMillis(r.DurationMs),
				output.FormatTime(r.StartedAt),
				r.ErrorMessage,
			})
		}
		table.Render()

		if result.HasMore {
			output.Info("共 %d 条，使用 --offset %d 查看更多", result.Total, historyOffset+len(result.Items))
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyTaskID, "task", "", "按任务ID过滤")
	historyCmd.Flags().StringVar(&historySource, "source", "", "按来源过滤（scheduler、adhoc、keepalive）")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "按结果过滤（success、failed）")
	historyCmd.Flags().StringVar(&historySince, "since", "", "只看最近一段时间（如 2h）")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "返回条数")
	historyCmd.Flags().IntVar(&historyOffset, "offset", 0, "偏移量")
}

// parseDurationFlag 解析时长参数
func parseDurationFlag(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("无效的时长: %s", s)
	}
	return d, nil
}
