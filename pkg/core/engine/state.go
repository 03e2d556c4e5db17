package engine

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/LENAX/automation-engine/pkg/storage"
)

const (
	// SchedulerRunning 调度器运行中（初始状态）
	SchedulerRunning = "RUNNING"
	// SchedulerPaused 调度器已暂停
	SchedulerPaused = "PAUSED"
)

// SchedulerStateHandle 进程级调度器状态句柄（对外导出）
// 显式初始状态为Running；由操作者通过API/CLI切换，调度循环每个tick读取。
// 以句柄形式同时传入调度循环和命令层，不使用隐式单例
type SchedulerStateHandle struct {
	mu    sync.RWMutex
	state string
	repo  storage.SchedulerStateRepository // 可选，持久化状态跨重启保留
}

// NewSchedulerStateHandle 创建调度器状态句柄（对外导出）
// repo非空时从存储恢复上次的状态，未初始化则为Running
func NewSchedulerStateHandle(ctx context.Context, repo storage.SchedulerStateRepository) (*SchedulerStateHandle, error) {
	handle := &SchedulerStateHandle{state: SchedulerRunning, repo: repo}
	if repo != nil {
		persisted, err := repo.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("恢复调度器状态失败: %w", err)
		}
		if persisted == SchedulerPaused {
			handle.state = SchedulerPaused
		}
	}
	return handle, nil
}

// Current 当前状态
func (h *SchedulerStateHandle) Current() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// IsRunning 调度器是否处于Running状态
func (h *SchedulerStateHandle) IsRunning() bool {
	return h.Current() == SchedulerRunning
}

// Pause 暂停调度器
func (h *SchedulerStateHandle) Pause(ctx context.Context) error {
	return h.set(ctx, SchedulerPaused)
}

// Resume 恢复调度器
func (h *SchedulerStateHandle) Resume(ctx context.Context) error {
	return h.set(ctx, SchedulerRunning)
}

func (h *SchedulerStateHandle) set(ctx context.Context, state string) error {
	h.mu.Lock()
	h.state = state
	h.mu.Unlock()

	if h.repo != nil {
		if err := h.repo.Save(ctx, state); err != nil {
			return fmt.Errorf("持久化调度器状态失败: %w", err)
		}
	}
	log.Printf("✅ [调度器] 状态切换为 %s", state)
	return nil
}
