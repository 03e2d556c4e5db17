package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/LENAX/automation-engine/pkg/core/security"
	"github.com/LENAX/automation-engine/pkg/core/task"
)

// shellPayload script类型Step的payload结构
type shellPayload struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	WorkDir string            `json:"work_dir,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// shellResult script执行结果
// stdout为合法JSON时填入data，供下游Step的占位符引用
type shellResult struct {
	ExitCode int             `json:"exit_code"`
	Stdout   string          `json:"stdout"`
	Stderr   string          `json:"stderr,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// ShellStepExecutor 基于本地进程的Step执行器（对外导出）
// payload格式: {"command": "...", "args": [...], "work_dir": "...", "env": {...}}
// 超时由调用方通过ctx控制；stderr经过脱敏后进入结果
type ShellStepExecutor struct{}

// NewShellStepExecutor 创建ShellStepExecutor
func NewShellStepExecutor() *ShellStepExecutor {
	return &ShellStepExecutor{}
}

// ExecuteStep 执行script类型Step
func (s *ShellStepExecutor) ExecuteStep(ctx context.Context, step task.StepDefinition, resolvedPayload json.RawMessage) (json.RawMessage, error) {
	var payload shellPayload
	if err := json.Unmarshal(resolvedPayload, &payload); err != nil {
		return nil, fmt.Errorf("解析script payload失败: %w", err)
	}
	if payload.Command == "" {
		return nil, fmt.Errorf("script payload缺少command字段")
	}

	cmd := exec.CommandContext(ctx, payload.Command, payload.Args...)
	if payload.WorkDir != "" {
		cmd.Dir = payload.WorkDir
	}
	for key, value := range payload.Env {
		cmd.Env = append(cmd.Env, key+"="+value)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := shellResult{
		Stdout: strings.TrimRight(stdout.String(), "\n"),
		Stderr: security.RedactText(strings.TrimRight(stderr.String(), "\n")),
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
	}

	if err != nil {
		return nil, fmt.Errorf("script执行失败（%s）: %w", payload.Command, err)
	}

	if json.Valid([]byte(result.Stdout)) {
		result.Data = json.RawMessage(result.Stdout)
	}

	return json.Marshal(result)
}
