package task

import (
	"encoding/json"
	"fmt"
)

const (
	JoinPolicyAny = "any" // 任一入边条件满足即执行（默认）
	JoinPolicyAll = "all" // 所有入边条件满足才执行
)

// StepDefinition 复合任务的Step定义（对外导出）
// Payload是可能包含 {{steps.<key>.<path>}} 占位符的JSON模板
type StepDefinition struct {
	StepKey string          `json:"step_key"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EdgeCondition 边条件：源Step输出中Path处的值等于Equals时条件满足
type EdgeCondition struct {
	Path   string      `json:"path"`
	Equals interface{} `json:"equals"`
}

// CompositeTaskEdge 复合任务的有向边（对外导出）
// 边构成Step之上的有向图，持久化前必须验证无环
type CompositeTaskEdge struct {
	FromStepKey string         `json:"from_step_key"`
	ToStepKey   string         `json:"to_step_key"`
	Condition   *EdgeCondition `json:"condition,omitempty"`
}

// CompositePayload 复合任务的Payload结构（对外导出）
type CompositePayload struct {
	Steps              []StepDefinition    `json:"steps"`
	Edges              []CompositeTaskEdge `json:"edges"`
	JoinPolicy         string              `json:"join_policy,omitempty"`
	MaxRetries         int                 `json:"max_retries,omitempty"`
	BaseRetryDelayMS   uint64              `json:"base_retry_delay_ms,omitempty"`
	StepTimeoutSeconds int                 `json:"step_timeout_seconds,omitempty"`
}

// ParseCompositePayload 解析复合任务Payload（对外导出）
func ParseCompositePayload(raw json.RawMessage) (*CompositePayload, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("复合任务Payload为空")
	}
	var payload CompositePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("解析复合任务Payload失败: %w", err)
	}
	if len(payload.Steps) == 0 {
		return nil, fmt.Errorf("复合任务至少需要一个Step")
	}
	switch payload.JoinPolicy {
	case "":
		payload.JoinPolicy = JoinPolicyAny
	case JoinPolicyAny, JoinPolicyAll:
	default:
		return nil, fmt.Errorf("未知的join_policy: %s（支持 any/all）", payload.JoinPolicy)
	}
	return &payload, nil
}
