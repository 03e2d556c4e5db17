package executor

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/LENAX/automation-engine/pkg/core/task"
)

// StepExecutor 外部Step执行能力（对外导出）
// 数据库脚本、HTTP调用等具体执行方式由调用方注入；
// ctx携带调用方设置的超时，超时视为可重试的执行失败
type StepExecutor interface {
	ExecuteStep(ctx context.Context, step task.StepDefinition, resolvedPayload json.RawMessage) (json.RawMessage, error)
}

// Options 执行器选项（对外导出）
type Options struct {
	MaxRetries       int           // 每个Step的最大重试次数（不含首次执行）
	BaseRetryDelayMS uint64        // 线性退避的基础延迟（毫秒）
	StepTimeout      time.Duration // 单次Step调用的超时
}

// DefaultOptions 默认执行器选项
func DefaultOptions() Options {
	return Options{
		MaxRetries:       3,
		BaseRetryDelayMS: 1000,
		StepTimeout:      30 * time.Second,
	}
}

// ComputeRetryDelayMS 计算线性退避延迟（对外导出）
// delay = base * attempt，乘法溢出时饱和到最大值；
// attempt从1开始计数，base或attempt为0时延迟为0
func ComputeRetryDelayMS(baseDelayMS, attempt uint64) uint64 {
	if baseDelayMS == 0 || attempt == 0 {
		return 0
	}
	if baseDelayMS > math.MaxUint64/attempt {
		return math.MaxUint64
	}
	return baseDelayMS * attempt
}

// 运行事件类型
const (
	EventStepStarted   = "step_started"
	EventStepSucceeded = "step_succeeded"
	EventStepFailed    = "step_failed"
	EventStepRetrying  = "step_retrying"
	EventStepSkipped   = "step_skipped"
	EventRunFinished   = "run_finished"
)

// RunEvent 运行事件（对外导出）
// Message已脱敏
type RunEvent struct {
	RunID     string    `json:"run_id"`
	TaskID    string    `json:"task_id"`
	Type      string    `json:"type"`
	StepKey   string    `json:"step_key,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	Status    string    `json:"status,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventSink 运行事件接收端（对外导出）
// 实现方不得阻塞Publish
type EventSink interface {
	Publish(event RunEvent)
}
