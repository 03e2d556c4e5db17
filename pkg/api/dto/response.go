package dto

import (
	"encoding/json"
	"time"
)

// APIResponse 通用API响应结构
type APIResponse[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data,omitempty"`
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse[T any](data T) APIResponse[T] {
	return APIResponse[T]{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) APIResponse[any] {
	return APIResponse[any]{
		Code:    code,
		Message: message,
	}
}

// TaskSummary 任务定义摘要信息
type TaskSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	CronExpr  string    `json:"cron_expr,omitempty"`
	Enabled   bool      `json:"enabled"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TaskDetail 任务定义详细信息
type TaskDetail struct {
	TaskSummary
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RunSummary 运行摘要信息
type RunSummary struct {
	ID           string     `json:"id"`
	TaskID       string     `json:"task_id"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Duration     string     `json:"duration,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// RunDetail 运行详细信息
type RunDetail struct {
	RunSummary
	StepOutputs map[string]json.RawMessage `json:"step_outputs,omitempty"`
	Warnings    []string                   `json:"warnings,omitempty"`
}

// SubmitRunResponse 提交运行响应
type SubmitRunResponse struct {
	RunID   string `json:"run_id"`
	Message string `json:"message"`
}

// SchedulerStateResponse 调度器状态响应
type SchedulerStateResponse struct {
	State string `json:"state"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Uptime    string `json:"uptime"`
	Timestamp string `json:"timestamp"`
}

// ListResponse 列表响应
type ListResponse[T any] struct {
	Total   int  `json:"total"`
	Items   []T  `json:"items"`
	HasMore bool `json:"has_more"`
}
