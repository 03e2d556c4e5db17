package task

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	RunStatusPending   = "PENDING"
	RunStatusRunning   = "RUNNING"
	RunStatusSuccess   = "SUCCESS"
	RunStatusFailed    = "FAILED"
	RunStatusCancelled = "CANCELLED"
)

// RunRecord 运行记录（对外导出）
// 运行开始时创建，仅由Executor修改，进入终态后不可变
type RunRecord struct {
	ID           string // 操作ID（operation id）
	TaskID       string
	Status       string
	CreateTime   time.Time
	StartTime    *time.Time
	EndTime      *time.Time
	StepOutputs  map[string]json.RawMessage // step_key -> 输出JSON
	ErrorMessage string                     // 持久化前已脱敏
	Warnings     []string                   // 持久化前已脱敏
}

// NewRunRecord 创建Pending状态的运行记录（对外导出）
func NewRunRecord(taskID string, now time.Time) *RunRecord {
	return &RunRecord{
		ID:          uuid.NewString(),
		TaskID:      taskID,
		Status:      RunStatusPending,
		CreateTime:  now,
		StepOutputs: make(map[string]json.RawMessage),
	}
}

// IsTerminal 是否已进入终态
func (r *RunRecord) IsTerminal() bool {
	switch r.Status {
	case RunStatusSuccess, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}
