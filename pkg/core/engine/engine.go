package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/LENAX/automation-engine/pkg/core/cron"
	"github.com/LENAX/automation-engine/pkg/core/dag"
	"github.com/LENAX/automation-engine/pkg/core/executor"
	"github.com/LENAX/automation-engine/pkg/core/task"
	"github.com/LENAX/automation-engine/pkg/storage"
)

// ErrTaskInFlight 同一任务已有运行在进行中（对外导出）
var ErrTaskInFlight = errors.New("任务已有运行在进行中")

// ErrRunFinished 运行已进入终态（对外导出）
var ErrRunFinished = errors.New("运行已结束")

// Options 引擎选项（对外导出）
type Options struct {
	Executor           executor.Options
	StaleMarkerTimeout time.Duration // in-flight标记的过期时间，孤儿标记超过后被回收
}

// DefaultOptions 默认引擎选项
func DefaultOptions() Options {
	return Options{
		Executor:           executor.DefaultOptions(),
		StaleMarkerTimeout: time.Hour,
	}
}

// inflightMarker 每任务互斥标记：同一任务的运行互斥
type inflightMarker struct {
	runID      string
	acquiredAt time.Time
}

// Engine 编排引擎门面（对外导出）
// 对外提供任务定义管理、手动触发、取消与状态查询；
// 调度循环通过同一实例派发到期任务
type Engine struct {
	repos *storage.Repositories
	exec  *executor.Executor
	clock task.Clock
	state *SchedulerStateHandle
	hub   *EventHub
	opts  Options

	mu       sync.Mutex
	inflight map[string]*inflightMarker  // taskID -> 标记
	handles  map[string]*executor.Handle // runID -> 控制句柄
	wg       sync.WaitGroup
}

// NewEngine 创建引擎实例（对外导出）
func NewEngine(ctx context.Context, repos *storage.Repositories, steps executor.StepExecutor, clock task.Clock, opts Options) (*Engine, error) {
	if clock == nil {
		clock = task.SystemClock()
	}
	if opts.StaleMarkerTimeout <= 0 {
		opts.StaleMarkerTimeout = DefaultOptions().StaleMarkerTimeout
	}

	state, err := NewSchedulerStateHandle(ctx, repos.SchedulerState)
	if err != nil {
		return nil, err
	}

	hub := NewEventHub()
	exec := executor.NewExecutor(steps, repos.Runs, clock, opts.Executor)
	exec.SetEventSink(hub)

	return &Engine{
		repos:    repos,
		exec:     exec,
		clock:    clock,
		state:    state,
		hub:      hub,
		opts:     opts,
		inflight: make(map[string]*inflightMarker),
		handles:  make(map[string]*executor.Handle),
	}, nil
}

// SchedulerState 调度器状态句柄（对外导出）
func (e *Engine) SchedulerState() *SchedulerStateHandle {
	return e.state
}

// Events 运行事件分发中心（对外导出）
func (e *Engine) Events() *EventHub {
	return e.hub
}

// ReconcileOnStart 启动时对账（对外导出）
// 上个进程遗留的未完成运行标记为Failed，避免孤儿标记永久阻塞后续运行
func (e *Engine) ReconcileOnStart(ctx context.Context) error {
	unfinished, err := e.repos.Runs.ListUnfinished(ctx)
	if err != nil {
		return fmt.Errorf("查询未完成运行失败: %w", err)
	}
	for _, rec := range unfinished {
		endTime := e.clock.Now()
		rec.Status = task.RunStatusFailed
		rec.EndTime = &endTime
		rec.ErrorMessage = "进程重启时运行未完成，已标记为失败"
		if err := e.repos.Runs.Update(ctx, rec); err != nil {
			return fmt.Errorf("对账运行记录失败: RunID=%s, %w", rec.ID, err)
		}
		log.Printf("⚠️ [Engine] 启动对账：未完成运行已标记失败: RunID=%s, TaskID=%s", rec.ID, rec.TaskID)
	}
	return nil
}

// ValidateCronExpression 验证cron表达式（对外导出）
func (e *Engine) ValidateCronExpression(expr string) error {
	return cron.ValidateCronExpression(expr)
}

// DetectCompositeCycle 检测复合任务边集中的循环（对外导出）
// 定义保存前调用，循环图在持久化前被拒绝；无环返回nil
func (e *Engine) DetectCompositeCycle(edges []task.CompositeTaskEdge) []string {
	return dag.DetectCycle(edges)
}

// SaveTaskDefinition 校验并保存任务定义（对外导出）
// 校验失败的定义不会被持久化
func (e *Engine) SaveTaskDefinition(ctx context.Context, def *task.TaskDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("任务名称不能为空")
	}
	switch def.Type {
	case task.TaskTypeScript:
	case task.TaskTypeComposite:
		payload, err := task.ParseCompositePayload(def.Payload)
		if err != nil {
			return err
		}
		if _, err := dag.BuildGraph(payload.Steps, payload.Edges); err != nil {
			return err
		}
	default:
		return fmt.Errorf("未知的任务类型: %s", def.Type)
	}
	if def.CronExpr != "" {
		if err := cron.ValidateCronExpression(def.CronExpr); err != nil {
			return err
		}
	}

	def.Tags = task.NormalizeTags(def.Tags)
	def.UpdateTime = e.clock.Now()
	if err := e.repos.Tasks.Save(ctx, def); err != nil {
		return err
	}
	log.Printf("✅ [Engine] 任务定义已保存: ID=%s, Name=%s, Type=%s", def.ID, def.Name, def.Type)
	return nil
}

// GetTaskDefinition 查询任务定义（对外导出）
func (e *Engine) GetTaskDefinition(ctx context.Context, id string) (*task.TaskDefinition, error) {
	return e.repos.Tasks.GetByID(ctx, id)
}

// ListTaskDefinitions 列出任务定义（对外导出）
func (e *Engine) ListTaskDefinitions(ctx context.Context) ([]*task.TaskDefinition, error) {
	return e.repos.Tasks.List(ctx)
}

// DeleteTaskDefinition 删除任务定义（对外导出）
func (e *Engine) DeleteTaskDefinition(ctx context.Context, id string) error {
	return e.repos.Tasks.Delete(ctx, id)
}

// SetTaskEnabled 启用/禁用任务（对外导出）
func (e *Engine) SetTaskEnabled(ctx context.Context, id string, enabled bool) error {
	def, err := e.repos.Tasks.GetByID(ctx, id)
	if err != nil {
		return err
	}
	def.Enabled = enabled
	def.UpdateTime = e.clock.Now()
	return e.repos.Tasks.Save(ctx, def)
}

// SubmitManualRun 手动触发一次运行（对外导出）
// 返回操作ID；同一任务已有运行在进行中时返回ErrTaskInFlight
func (e *Engine) SubmitManualRun(ctx context.Context, taskID string) (string, error) {
	def, err := e.repos.Tasks.GetByID(ctx, taskID)
	if err != nil {
		return "", err
	}
	return e.dispatch(ctx, def)
}

// dispatch 获取in-flight标记、创建运行记录并异步执行
func (e *Engine) dispatch(ctx context.Context, def *task.TaskDefinition) (string, error) {
	rec := task.NewRunRecord(def.ID, e.clock.Now())

	e.mu.Lock()
	if marker, exists := e.inflight[def.ID]; exists {
		if e.clock.Now().Sub(marker.acquiredAt) <= e.opts.StaleMarkerTimeout {
			e.mu.Unlock()
			return "", fmt.Errorf("%w: TaskID=%s", ErrTaskInFlight, def.ID)
		}
		// 过期标记：持有它的运行早已不存在，回收以免永久阻塞
		log.Printf("⚠️ [Engine] 回收过期的in-flight标记: TaskID=%s, RunID=%s", def.ID, marker.runID)
		delete(e.handles, marker.runID)
	}
	e.inflight[def.ID] = &inflightMarker{runID: rec.ID, acquiredAt: e.clock.Now()}
	e.mu.Unlock()

	if err := e.repos.Runs.Create(ctx, rec); err != nil {
		e.release(def.ID, rec.ID)
		return "", fmt.Errorf("创建运行记录失败: %w", err)
	}

	handle := executor.NewHandle()
	e.mu.Lock()
	e.handles[rec.ID] = handle
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		// 标记在所有退出路径上释放
		defer e.release(def.ID, rec.ID)
		if err := e.exec.Execute(context.Background(), def, rec, handle); err != nil {
			log.Printf("❌ [Engine] 运行执行出错: RunID=%s, Error=%v", rec.ID, err)
		}
	}()

	return rec.ID, nil
}

// release 释放in-flight标记与控制句柄
func (e *Engine) release(taskID, runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if marker, exists := e.inflight[taskID]; exists && marker.runID == runID {
		delete(e.inflight, taskID)
	}
	delete(e.handles, runID)
}

// isInFlight 指定任务是否有未过期的in-flight标记
func (e *Engine) isInFlight(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	marker, exists := e.inflight[taskID]
	if !exists {
		return false
	}
	return e.clock.Now().Sub(marker.acquiredAt) <= e.opts.StaleMarkerTimeout
}

// reclaimStaleMarkers 回收过期的in-flight标记（调度tick调用）
func (e *Engine) reclaimStaleMarkers() {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.Now()
	for taskID, marker := range e.inflight {
		if now.Sub(marker.acquiredAt) > e.opts.StaleMarkerTimeout {
			log.Printf("⚠️ [Engine] 回收过期的in-flight标记: TaskID=%s, RunID=%s", taskID, marker.runID)
			delete(e.inflight, taskID)
			delete(e.handles, marker.runID)
		}
	}
}

// CancelRun 请求取消运行（对外导出）
// 取消在Step边界生效；已进入终态的运行返回ErrRunFinished
func (e *Engine) CancelRun(ctx context.Context, runID string) error {
	e.mu.Lock()
	handle, exists := e.handles[runID]
	e.mu.Unlock()
	if exists {
		handle.RequestCancel()
		log.Printf("🛑 [Engine] 已请求取消运行: RunID=%s", runID)
		return nil
	}

	rec, err := e.repos.Runs.GetByID(ctx, runID)
	if err != nil {
		return err
	}
	if rec.IsTerminal() {
		return fmt.Errorf("%w: RunID=%s", ErrRunFinished, runID)
	}
	// 没有存活句柄的非终态运行（进程重启遗留），直接标记取消
	endTime := e.clock.Now()
	rec.Status = task.RunStatusCancelled
	rec.EndTime = &endTime
	return e.repos.Runs.Update(ctx, rec)
}

// GetRunStatus 查询运行状态（对外导出）
func (e *Engine) GetRunStatus(ctx context.Context, runID string) (*task.RunRecord, error) {
	return e.repos.Runs.GetByID(ctx, runID)
}

// ListRuns 查询任务的运行历史（对外导出）
func (e *Engine) ListRuns(ctx context.Context, taskID string, limit int) ([]*task.RunRecord, error) {
	return e.repos.Runs.ListByTaskID(ctx, taskID, limit)
}

// Stop 等待所有in-flight运行结束（对外导出）
// 超时后放弃等待返回false
func (e *Engine) Stop(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Println("✅ [Engine] 所有运行已结束")
		return true
	case <-time.After(timeout):
		log.Println("⚠️ [Engine] 等待运行结束超时")
		return false
	}
}
