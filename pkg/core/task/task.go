package task

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	TaskTypeScript    = "script"    // 单脚本任务
	TaskTypeComposite = "composite" // 复合任务（多Step DAG）
)

// TaskDefinition 任务定义（对外导出）
// Payload为类型相关的原始JSON：script任务为脚本参数，composite任务为CompositePayload
type TaskDefinition struct {
	ID         string
	Name       string
	Type       string
	CronExpr   string // 定时表达式（可选，为空表示不定时调度）
	Enabled    bool
	Tags       []string
	Payload    json.RawMessage
	CreateTime time.Time
	UpdateTime time.Time
}

// NewTaskDefinition 创建任务定义（对外导出）
func NewTaskDefinition(name, taskType string, payload json.RawMessage) *TaskDefinition {
	now := time.Now()
	return &TaskDefinition{
		ID:         uuid.NewString(),
		Name:       name,
		Type:       taskType,
		Enabled:    true,
		Payload:    payload,
		CreateTime: now,
		UpdateTime: now,
	}
}

// IsScheduled 是否启用定时调度
func (d *TaskDefinition) IsScheduled() bool {
	return d.CronExpr != ""
}

// NormalizeTags 规范化标签：去除首尾空白、统一小写、去重（保持原有顺序）
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	result := make([]string, 0, len(tags))
	for _, tag := range tags {
		normalized := strings.ToLower(strings.TrimSpace(tag))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		result = append(result, normalized)
	}
	return result
}
