package engine

import (
	"log"
	"sync"

	"github.com/LENAX/automation-engine/pkg/core/executor"
)

// 单个订阅channel的缓冲大小
const subscriberBufferSize = 64

// EventHub 运行事件分发中心（对外导出）
// 实现executor.EventSink；按RunID分发给订阅者（如websocket连接）
type EventHub struct {
	mu   sync.RWMutex
	subs map[string]map[chan executor.RunEvent]struct{}
}

// NewEventHub 创建事件分发中心
func NewEventHub() *EventHub {
	return &EventHub{
		subs: make(map[string]map[chan executor.RunEvent]struct{}),
	}
}

// Publish 发布运行事件（实现executor.EventSink）
// 非阻塞发送，订阅者channel已满时丢弃并告警
func (h *EventHub) Publish(event executor.RunEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[event.RunID] {
		select {
		case ch <- event:
		default:
			log.Printf("⚠️ [EventHub] 订阅channel已满，事件丢弃: RunID=%s, Type=%s", event.RunID, event.Type)
		}
	}
}

// Subscribe 订阅指定运行的事件（对外导出）
// 返回事件channel和取消订阅函数
func (h *EventHub) Subscribe(runID string) (<-chan executor.RunEvent, func()) {
	ch := make(chan executor.RunEvent, subscriberBufferSize)

	h.mu.Lock()
	if h.subs[runID] == nil {
		h.subs[runID] = make(map[chan executor.RunEvent]struct{})
	}
	h.subs[runID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, exists := h.subs[runID]; exists {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, runID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}
