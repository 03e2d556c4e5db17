package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/LENAX/automation-engine/pkg/api/dto"
	"github.com/LENAX/automation-engine/pkg/cli/client"
	"github.com/LENAX/automation-engine/pkg/cli/output"
)

// taskCmd task子命令
var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "任务定义管理命令",
	Long:  `管理任务定义，包括创建、列出、查看、删除和启用/禁用。`,
}

// taskListCmd 列出任务
var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出所有任务定义",
	RunE: func(cmd *cobra.Command, args []string) error {
		cli := client.New(serverURL)
		result, err := cli.ListTasks()
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(result)
		}

		if len(result.Items) == 0 {
			output.Info("暂无任务")
			return nil
		}

		table := output.NewTable([]string{"ID", "NAME", "TYPE", "CRON", "ENABLED", "TAGS", "UPDATED"})
		for _, t := range result.Items {
			cronStr := "-"
			if t.CronExpr != "" {
				cronStr = t.CronExpr
			}
			table.AddRow([]string{
				t.ID,
				t.Name,
				t.Type,
				cronStr,
				fmt.Sprintf("%t", t.Enabled),
				strings.Join(t.Tags, ","),
				t.UpdatedAt.Format("2006-01-02 15:04:05"),
			})
		}
		table.Render()
		return nil
	},
}

// taskShowCmd 查看任务详情
var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "查看任务定义详情",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cli := client.New(serverURL)
		result, err := cli.GetTask(args[0])
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(result)
		}

		fmt.Printf("任务:     %s\n", result.Name)
		fmt.Printf("ID:       %s\n", result.ID)
		fmt.Printf("类型:     %s\n", result.Type)
		fmt.Printf("启用:     %t\n", result.Enabled)
		if result.CronExpr != "" {
			fmt.Printf("定时:     %s\n", result.CronExpr)
		}
		if len(result.Tags) > 0 {
			fmt.Printf("标签:     %s\n", strings.Join(result.Tags, ", "))
		}
		if len(result.Payload) > 0 {
			fmt.Println("\nPayload:")
			var pretty map[string]interface{}
			if err := json.Unmarshal(result.Payload, &pretty); err == nil {
				output.PrintJSON(pretty)
			} else {
				fmt.Println(string(result.Payload))
			}
		}
		return nil
	},
}

// taskCreateCmd 创建任务
var taskCreateCmd = &cobra.Command{
	Use:   "create <file>",
	Short: "从JSON文件创建任务定义",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := os.ReadFile(args[0])
		if err != nil {
			output.Error("读取文件失败: %v", err)
			return err
		}

		var req dto.SaveTaskRequest
		if err := json.Unmarshal(content, &req); err != nil {
			output.Error("解析文件失败: %v", err)
			return err
		}

		cli := client.New(serverURL)
		result, err := cli.CreateTask(req)
		if err != nil {
			output.Error("创建失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(result)
		}

		output.Success("任务创建成功: %s (%s)", result.Name, result.ID)
		return nil
	},
}

// taskDeleteCmd 删除任务
var taskDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "删除任务定义",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cli := client.New(serverURL)
		if err := cli.DeleteTask(args[0]); err != nil {
			output.Error("删除失败: %v", err)
			return err
		}

		output.Success("任务已删除: %s", args[0])
		return nil
	},
}

// taskEnableCmd 启用任务
var taskEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "启用任务",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cli := client.New(serverURL)
		if err := cli.SetTaskEnabled(args[0], true); err != nil {
			output.Error("启用失败: %v", err)
			return err
		}

		output.Success("任务已启用: %s", args[0])
		return nil
	},
}

// taskDisableCmd 禁用任务
var taskDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "禁用任务",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cli := client.New(serverURL)
		if err := cli.SetTaskEnabled(args[0], false); err != nil {
			output.Error("禁用失败: %v", err)
			return err
		}

		output.Success("任务已禁用: %s", args[0])
		return nil
	},
}

func init() {
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskDeleteCmd)
	taskCmd.AddCommand(taskEnableCmd)
	taskCmd.AddCommand(taskDisableCmd)
}
