package cmd

import (
	"github.com/spf13/cobra"

	"github.com/LENAX/relay-agent/pkg/cli/agentclient"
	"github.com/LENAX/relay-agent/pkg/cli/output"
)

// openCmd 打开站点标签页
var openCmd = &cobra.Command{
	Use:   "open [url]",
	Short: "在浏览器中打开站点标签页并等待代理接入",
	Long: `通过浏览器调试端口打开站点标签页（需配置 bridge.cdp_url），
并等待标签页代理就绪。未指定 url 时使用 bridge.site_url。`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url := ""
		if len(args) == 1 {
			url = args[0]
		}

		client := agentclient.New(serverURL)
		info, err := client.OpenTarget(url)
		if err != nil {
			output.Error("打开标签页失败: %v", err)
			return err
		}
		if outputJSON {
			return output.PrintJSON(info)
		}
		output.Success("标签页已就绪: id=%s, url=%s", info.ID, info.URL)
		return nil
	},
}
