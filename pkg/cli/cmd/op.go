package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LENAX/relay-agent/pkg/api/dto"
	"github.com/LENAX/relay-agent/pkg/cli/agentclient"
	"github.com/LENAX/relay-agent/pkg/cli/output"
)

var (
	opOrigin  string
	opPayload string
	opRequest string
)

// opCmd 经临时操作通道执行一次操作
var opCmd = &cobra.Command{
	Use:   "op <action>",
	Short: "执行一次临时操作（ping、session_status、identity、api_request、refresh_session、queue_stats）",
	Long: `经临时操作通道执行一次操作，用于排查。请求必须带白名单内的 Origin。

示例：
  relay-agent op ping --origin https://seller.example.com
  relay-agent op api_request --origin https://seller.example.com --payload '{"path":"/api/orders","params":{"page":1}}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if opOrigin == "" {
			err := errors.New("必须通过 --origin 指定白名单内的来源")
			output.Error("%v", err)
			return err
		}
		req := dto.OperationRequest{Action: args[0], RequestID: opRequest}
		if opPayload != "" {
			if !json.Valid([]byte(opPayload)) {
				err := fmt.Errorf("payload 不是合法的JSON")
				output.Error("%v", err)
				return err
			}
			req.Payload = json.RawMessage(opPayload)
		}

		client := agentclient.New(serverURL)
		resp, err := client.Operate(opOrigin, req)
		if err != nil {
			output.Error("请求失败: %v", err)
			return err
		}

		if outputJSON {
			if err := output.PrintJSON(resp); err != nil {
				return err
			}
		} else if resp.Success {
			output.Success("操作成功: %s", args[0])
			if len(resp.Data) > 0 {
				var v any
				if err := json.Unmarshal(resp.Data, &v); err == nil {
					_ = output.PrintJSON(v)
				}
			}
		}
		if !resp.Success {
			err := fmt.Errorf("%s: %s", resp.ErrorCode, resp.Error)
			if !outputJSON {
				output.Error("操作失败: %v", err)
			}
			return err
		}
		return nil
	},
}

func init() {
	opCmd.Flags().StringVar(&opOrigin, "origin", envOr("RELAY_ORIGIN", ""), "请求来源（Origin 头）")
	opCmd.Flags().StringVar(&opPayload, "payload", "", "操作负载（JSON）")
	opCmd.Flags().StringVar(&opRequest, "request-id", "", "请求ID，默认由代理生成")
}
