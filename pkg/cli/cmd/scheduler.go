package cmd

import (
	"github.com/spf13/cobra"

	"github.com/LENAX/automation-engine/pkg/cli/client"
	"github.com/LENAX/automation-engine/pkg/cli/output"
)

// schedulerCmd scheduler子命令
var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "调度器控制命令",
	Long:  `控制调度器，包括暂停、恢复和查看状态。暂停不影响已在运行的任务。`,
}

// schedulerStateCmd 查询调度器状态
var schedulerStateCmd = &cobra.Command{
	Use:   "state",
	Short: "查看调度器状态",
	RunE: func(cmd *cobra.Command, args []string) error {
		cli := client.New(serverURL)
		result, err := cli.SchedulerState()
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(result)
		}

		output.Info("调度器状态: %s", result.State)
		return nil
	},
}

// schedulerPauseCmd 暂停调度器
var schedulerPauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "暂停调度器",
	RunE: func(cmd *cobra.Command, args []string) error {
		cli := client.New(serverURL)
		result, err := cli.PauseScheduler()
		if err != nil {
			output.Error("暂停失败: %v", err)
			return err
		}

		output.Success("调度器已暂停: %s", result.State)
		return nil
	},
}

// schedulerResumeCmd 恢复调度器
var schedulerResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "恢复调度器",
	RunE: func(cmd *cobra.Command, args []string) error {
		cli := client.New(serverURL)
		result, err := cli.ResumeScheduler()
		if err != nil {
			output.Error("恢复失败: %v", err)
			return err
		}

		output.Success("调度器已恢复: %s", result.State)
		return nil
	},
}

func init() {
	schedulerCmd.AddCommand(schedulerStateCmd)
	schedulerCmd.AddCommand(schedulerPauseCmd)
	schedulerCmd.AddCommand(schedulerResumeCmd)
}
