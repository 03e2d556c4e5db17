package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// 全局变量
	serverURL  string
	outputJSON bool
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "automation",
	Short: "Automation Engine CLI - 任务编排引擎命令行工具",
	Long: `Automation Engine CLI 是一个用于管理编排任务的命令行工具。

支持的功能：
  - 管理任务定义（创建、列出、查看、删除、启用/禁用）
  - 触发和查询运行（手动触发、查询状态、查看历史、取消）
  - 控制调度器（暂停、恢复、查看状态）

使用示例：
  # 列出所有任务
  automation task list

  # 手动触发任务
  automation run submit <task-id>

  # 查询运行状态
  automation run status <run-id>

  # 暂停调度器
  automation scheduler pause`,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "Automation Engine服务器地址")
	rootCmd.PersistentFlags().BoolVarP(&outputJSON, "json", "j", false, "使用JSON格式输出")

	// 添加子命令
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(schedulerCmd)
	rootCmd.AddCommand(versionCmd)
}
