package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LENAX/automation-engine/pkg/cli/client"
	"github.com/LENAX/automation-engine/pkg/cli/output"
)

var historyLimit int

// runCmd run子命令
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "运行管理命令",
	Long:  `触发和管理任务运行，包括手动触发、查询状态、查看历史和取消。`,
}

// runSubmitCmd 手动触发运行
var runSubmitCmd = &cobra.Command{
	Use:   "submit <task-id>",
	Short: "手动触发任务运行",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cli := client.New(serverURL)
		result, err := cli.SubmitRun(args[0])
		if err != nil {
			output.Error("触发失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(result)
		}

		output.Success("运行已提交: %s", result.RunID)
		return nil
	},
}

// runStatusCmd 查询运行状态
var runStatusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "查询运行状态",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cli := client.New(serverURL)
		result, err := cli.GetRun(args[0])
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(result)
		}

		fmt.Printf("运行:     %s\n", result.ID)
		fmt.Printf("任务:     %s\n", result.TaskID)
		fmt.Printf("状态:     %s\n", result.Status)
		if result.StartedAt != nil {
			fmt.Printf("开始:     %s\n", result.StartedAt.Format("2006-01-02 15:04:05"))
		}
		if result.FinishedAt != nil {
			fmt.Printf("结束:     %s\n", result.FinishedAt.Format("2006-01-02 15:04:05"))
		}
		if result.Duration != "" {
			fmt.Printf("耗时:     %s\n", result.Duration)
		}
		if result.ErrorMessage != "" {
			fmt.Printf("错误:     %s\n", result.ErrorMessage)
		}
		for _, warning := range result.Warnings {
			output.Warning("%s", warning)
		}
		return nil
	},
}

// runCancelCmd 取消运行
var runCancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "请求取消运行",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cli := client.New(serverURL)
		if err := cli.CancelRun(args[0]); err != nil {
			output.Error("取消失败: %v", err)
			return err
		}

		output.Success("取消请求已提交: %s", args[0])
		return nil
	},
}

// runHistoryCmd 查询运行历史
var runHistoryCmd = &cobra.Command{
	Use:   "history <task-id>",
	Short: "查询任务的运行历史",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cli := client.New(serverURL)
		result, err := cli.GetRunHistory(args[0], historyLimit)
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(result)
		}

		if len(result.Items) == 0 {
			output.Info("暂无运行记录")
			return nil
		}

		table := output.NewTable([]string{"ID", "STATUS", "STARTED", "DURATION", "ERROR"})
		for _, r := range result.Items {
			startedStr := "-"
			if r.StartedAt != nil {
				startedStr = r.StartedAt.Format("2006-01-02 15:04:05")
			}
			durationStr := "-"
			if r.Duration != "" {
				durationStr = r.Duration
			}
			table.AddRow([]string{
				r.ID,
				r.Status,
				startedStr,
				durationStr,
				r.ErrorMessage,
			})
		}
		table.Render()
		return nil
	},
}

func init() {
	runHistoryCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "返回的记录数量")

	runCmd.AddCommand(runSubmitCmd)
	runCmd.AddCommand(runStatusCmd)
	runCmd.AddCommand(runCancelCmd)
	runCmd.AddCommand(runHistoryCmd)
}
