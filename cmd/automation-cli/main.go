package main

import (
	"github.com/LENAX/automation-engine/pkg/cli/cmd"
)

// CLI工具入口：管理任务定义、触发运行、控制调度器
func main() {
	cmd.Execute()
}
