package storage

import (
	"context"
	"errors"

	"github.com/LENAX/automation-engine/pkg/core/task"
)

// ErrNotFound 记录不存在哨兵错误（对外导出）
var ErrNotFound = errors.New("记录不存在")

// TaskRepository 任务定义存储接口（对外导出）
type TaskRepository interface {
	// Save 保存任务定义（存在则更新）
	Save(ctx context.Context, def *task.TaskDefinition) error
	// GetByID 根据ID查询任务定义，不存在返回ErrNotFound
	GetByID(ctx context.Context, id string) (*task.TaskDefinition, error)
	// List 列出所有任务定义
	List(ctx context.Context) ([]*task.TaskDefinition, error)
	// ListEnabledScheduled 列出启用且配置了cron表达式的任务定义
	ListEnabledScheduled(ctx context.Context) ([]*task.TaskDefinition, error)
	// Delete 删除任务定义
	Delete(ctx context.Context, id string) error
}

// RunRepository 运行记录存储接口（对外导出）
// 运行记录仅由Executor写入；终态记录不再变更
type RunRepository interface {
	// Create 创建运行记录
	Create(ctx context.Context, rec *task.RunRecord) error
	// Update 更新运行记录
	Update(ctx context.Context, rec *task.RunRecord) error
	// GetByID 根据操作ID查询运行记录，不存在返回ErrNotFound
	GetByID(ctx context.Context, id string) (*task.RunRecord, error)
	// ListByTaskID 查询指定任务的运行历史（按创建时间倒序，limit<=0表示不限制）
	ListByTaskID(ctx context.Context, taskID string, limit int) ([]*task.RunRecord, error)
	// ListUnfinished 列出所有未进入终态的运行记录（启动对账用）
	ListUnfinished(ctx context.Context) ([]*task.RunRecord, error)
}

// SchedulerStateRepository 调度器状态存储接口（对外导出）
type SchedulerStateRepository interface {
	// Load 读取持久化的调度器状态，未初始化时返回空字符串
	Load(ctx context.Context) (string, error)
	// Save 保存调度器状态
	Save(ctx context.Context, state string) error
}

// Repositories 存储Repository集合（对外导出）
type Repositories struct {
	Tasks          TaskRepository
	Runs           RunRepository
	SchedulerState SchedulerStateRepository
}
