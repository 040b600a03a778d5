package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/LENAX/relay-agent/pkg/cli/agentclient"
	"github.com/LENAX/relay-agent/pkg/cli/output"
)

// statusCmd 查看运行状态
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "查看代理运行状态",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := agentclient.New(serverURL)
		st, err := client.Status()
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(st)
		}

		output.KV("Instance:", st.Instance)
		output.KV("Running:", st.Running)
		output.KV("Started:", output.FormatTime(st.StartedAt))
		output.KV("Scheduler:", st.Scheduler.State)
		if !st.Scheduler.PausedUntil.IsZero() {
			output.KV("Paused Until:", output.FormatTime(st.Scheduler.PausedUntil))
		}
		output.KV("Polls:", fmt.Sprintf("%d (errors %d)", st.Scheduler.Polls, st.Scheduler.PollErrors))
		output.KV("Tasks:", fmt.Sprintf("%d received, %d failed", st.Scheduler.TasksReceived, st.Scheduler.TasksFailed))
		output.KV("Queue:", fmt.Sprintf("%d active, %d pending (max %d/%d), %d rejected",
			st.Queue.Active, st.Queue.Pending, st.Queue.MaxConcurrent, st.Queue.MaxQueueSize, st.Queue.Rejected))
		output.KV("Bridge:", fmt.Sprintf("%d sent, %d ok, %d failed, %d timed out",
			st.Bridge.Sent, st.Bridge.Succeeded, st.Bridge.Failed, st.Bridge.TimedOut))
		output.KV("Connected:", st.Connection.WasConnected)
		output.KV("Cron Jobs:", strings.Join(st.CronJobs, ", "))

		if len(st.Targets) == 0 {
			output.Warning("没有已接入的站点标签页")
			return nil
		}

		table := output.NewTable([]string{"ID", "TAB", "READY", "ACTIVE", "URL", "CONNECTED"})
		for _, t := range st.Targets {
			table.AddRow([]string{
				t.ID,
				t.TabID,
				fmt.Sprintf("%v", t.Ready),
				fmt.Sprintf("%v", t.Active),
				t.URL,
				output.FormatTime(t.ConnectedAt),
			})
		}
		table.Render()
		return nil
	},
}
