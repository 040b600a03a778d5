package cmd

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/LENAX/relay-agent/pkg/cli/output"
)

// versionCmd 版本信息
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	RunE: func(cmd *cobra.Command, args []string) error {
		if outputJSON {
			return output.PrintJSON(map[string]string{
				"version":    Version,
				"git_commit": GitCommit,
				"build_time": BuildTime,
				"go_version": runtime.Version(),
			})
		}
		output.KV("Version:", Version)
		output.KV("Git Commit:", GitCommit)
		output.KV("Build Time:", BuildTime)
		output.KV("Go Version:", runtime.Version())
		return nil
	},
}
