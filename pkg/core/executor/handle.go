package executor

import "sync/atomic"

// Handle 单次运行的控制句柄（对外导出）
// 取消请求仅在Step边界被检查，不会中断执行中的Step
type Handle struct {
	cancelled atomic.Bool
}

// NewHandle 创建运行控制句柄
func NewHandle() *Handle {
	return &Handle{}
}

// RequestCancel 请求取消运行
func (h *Handle) RequestCancel() {
	h.cancelled.Store(true)
}

// IsCancelRequested 是否已请求取消
func (h *Handle) IsCancelRequested() bool {
	return h.cancelled.Load()
}
