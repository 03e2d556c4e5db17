package dto

import "encoding/json"

// SaveTaskRequest 创建/更新任务定义请求
type SaveTaskRequest struct {
	Name     string          `json:"name" binding:"required"`
	Type     string          `json:"type" binding:"required,oneof=script composite"`
	CronExpr string          `json:"cron_expr" binding:"omitempty"`
	Enabled  *bool           `json:"enabled" binding:"omitempty"`
	Tags     []string        `json:"tags" binding:"omitempty"`
	Payload  json.RawMessage `json:"payload" binding:"omitempty"`
}

// SetEnabledRequest 启用/禁用任务请求
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// HistoryQueryRequest 运行历史查询请求
type HistoryQueryRequest struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=100"`
}

// GetDefaultLimit 获取默认limit
func (r *HistoryQueryRequest) GetDefaultLimit() int {
	if r.Limit <= 0 {
		return 20
	}
	return r.Limit
}
