package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"reflect"
	"sync"
	"time"

	"github.com/LENAX/automation-engine/pkg/core/dag"
	"github.com/LENAX/automation-engine/pkg/core/security"
	"github.com/LENAX/automation-engine/pkg/core/task"
	"github.com/LENAX/automation-engine/pkg/core/template"
	"github.com/LENAX/automation-engine/pkg/storage"
)

// Step在一次运行内的内部状态
const (
	stepPending = "pending"
	stepSuccess = "success"
	stepFailed  = "failed"
	stepSkipped = "skipped"
)

// Executor 运行执行器（对外导出）
// 驱动单次运行走完整个生命周期：Pending → Running → 终态。
// RunRecord只由Executor写入
type Executor struct {
	steps  StepExecutor
	runs   storage.RunRepository
	clock  task.Clock
	opts   Options
	events EventSink // 可选
}

// NewExecutor 创建执行器实例（对外导出）
func NewExecutor(steps StepExecutor, runs storage.RunRepository, clock task.Clock, opts Options) *Executor {
	if clock == nil {
		clock = task.SystemClock()
	}
	return &Executor{
		steps: steps,
		runs:  runs,
		clock: clock,
		opts:  opts,
	}
}

// SetEventSink 设置运行事件接收端（对外导出）
func (e *Executor) SetEventSink(events EventSink) {
	e.events = events
}

// Execute 执行一次运行（对外导出）
// 运行结果反映在rec中并持久化；返回错误仅表示存储层故障
func (e *Executor) Execute(ctx context.Context, def *task.TaskDefinition, rec *task.RunRecord, handle *Handle) error {
	startTime := e.clock.Now()
	rec.Status = task.RunStatusRunning
	rec.StartTime = &startTime
	if err := e.runs.Update(ctx, rec); err != nil {
		return fmt.Errorf("持久化Running状态失败: %w", err)
	}
	log.Printf("🚀 [Executor] 运行开始: RunID=%s, TaskID=%s, TaskName=%s", rec.ID, def.ID, def.Name)

	run := &runState{
		def:        def,
		rec:        rec,
		handle:     handle,
		joinPolicy: task.JoinPolicyAny,
		opts:       e.opts,
		states:     make(map[string]string),
	}

	if err := e.prepare(run); err != nil {
		// 定义不合法（Payload解析/图构建失败）：确定性失败，不重试
		return e.finish(ctx, run, task.RunStatusFailed, err)
	}

	for _, level := range run.order.Levels {
		// 取消仅在Step边界检查
		if handle != nil && handle.IsCancelRequested() {
			return e.finish(ctx, run, task.RunStatusCancelled, nil)
		}

		e.executeLevel(ctx, run, level)

		// 每层结束后持久化增量进度
		if err := e.runs.Update(ctx, rec); err != nil {
			log.Printf("⚠️ [Executor] 持久化运行进度失败: RunID=%s, Error=%v", rec.ID, err)
		}
	}

	if handle != nil && handle.IsCancelRequested() {
		return e.finish(ctx, run, task.RunStatusCancelled, nil)
	}
	if run.firstErr != nil {
		return e.finish(ctx, run, task.RunStatusFailed, run.firstErr)
	}
	return e.finish(ctx, run, task.RunStatusSuccess, nil)
}

// runState 单次运行的内部状态
type runState struct {
	def        *task.TaskDefinition
	rec        *task.RunRecord
	handle     *Handle
	graph      *dag.Graph
	order      *dag.TopologicalOrder
	joinPolicy string
	opts       Options

	mu       sync.Mutex
	states   map[string]string // step_key -> 内部状态
	firstErr error             // 第一个Step失败错误
}

// prepare 解析任务Payload并构建执行图
func (e *Executor) prepare(run *runState) error {
	def := run.def

	switch def.Type {
	case task.TaskTypeScript:
		// 单脚本任务视作只有一个Step的图
		graph, err := dag.BuildGraph([]task.StepDefinition{
			{StepKey: "main", Type: task.TaskTypeScript, Payload: def.Payload},
		}, nil)
		if err != nil {
			return err
		}
		run.graph = graph
	case task.TaskTypeComposite:
		payload, err := task.ParseCompositePayload(def.Payload)
		if err != nil {
			return err
		}
		graph, err := dag.BuildGraph(payload.Steps, payload.Edges)
		if err != nil {
			return err
		}
		run.graph = graph
		run.joinPolicy = payload.JoinPolicy
		if payload.MaxRetries > 0 {
			run.opts.MaxRetries = payload.MaxRetries
		}
		if payload.BaseRetryDelayMS > 0 {
			run.opts.BaseRetryDelayMS = payload.BaseRetryDelayMS
		}
		if payload.StepTimeoutSeconds > 0 {
			run.opts.StepTimeout = time.Duration(payload.StepTimeoutSeconds) * time.Second
		}
	default:
		return fmt.Errorf("未知的任务类型: %s", def.Type)
	}

	run.order = run.graph.TopologicalLevels()
	return nil
}

// executeLevel 执行拓扑排序中的一层
// 同层Step之间无依赖，可并行执行；依赖分支互不影响
func (e *Executor) executeLevel(ctx context.Context, run *runState, level []string) {
	var wg sync.WaitGroup
	for _, stepKey := range level {
		if !e.isEligible(run, stepKey) {
			run.mu.Lock()
			run.states[stepKey] = stepSkipped
			run.mu.Unlock()
			e.publish(run, RunEvent{Type: EventStepSkipped, StepKey: stepKey})
			continue
		}

		step, _ := run.graph.Step(stepKey)
		wg.Add(1)
		go func(step task.StepDefinition) {
			defer wg.Done()
			e.executeStep(ctx, run, step)
		}(step)
	}
	wg.Wait()
}

// isEligible 判断Step是否应当执行
// 无入边的Step总是执行；有入边时按join policy评估：
// any=任一入边条件满足即执行，all=全部满足才执行。
// 源Step未成功执行的边一律视为不满足
func (e *Executor) isEligible(run *runState, stepKey string) bool {
	edges := run.graph.InboundEdges(stepKey)
	if len(edges) == 0 {
		return true
	}

	run.mu.Lock()
	defer run.mu.Unlock()

	satisfiedCount := 0
	for _, edge := range edges {
		if e.edgeSatisfied(run, edge) {
			satisfiedCount++
		}
	}

	if run.joinPolicy == task.JoinPolicyAll {
		return satisfiedCount == len(edges)
	}
	return satisfiedCount > 0
}

// edgeSatisfied 评估单条入边的条件（调用方需持有run.mu）
func (e *Executor) edgeSatisfied(run *runState, edge task.CompositeTaskEdge) bool {
	if run.states[edge.FromStepKey] != stepSuccess {
		return false
	}
	if edge.Condition == nil {
		return true
	}

	output, exists := run.rec.StepOutputs[edge.FromStepKey]
	if !exists {
		return false
	}
	var decoded interface{}
	if err := json.Unmarshal(output, &decoded); err != nil {
		return false
	}

	value, err := template.ResolveStepOutputPath(
		"steps."+edge.FromStepKey+"."+edge.Condition.Path,
		map[string]interface{}{edge.FromStepKey: decoded},
	)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(value, edge.Condition.Equals)
}

// executeStep 执行单个Step：解析Payload、带重试调用外部能力、记录输出
func (e *Executor) executeStep(ctx context.Context, run *runState, step task.StepDefinition) {
	e.publish(run, RunEvent{Type: EventStepStarted, StepKey: step.StepKey})

	resolvedPayload, err := e.resolvePayload(run, step)
	if err != nil {
		// 解析错误是确定性的，不重试
		e.recordStepFailure(run, step.StepKey, fmt.Errorf("解析Step Payload失败: %w", err))
		return
	}

	output, err := e.invokeWithRetry(ctx, run, step, resolvedPayload)
	if err != nil {
		e.recordStepFailure(run, step.StepKey, err)
		return
	}

	run.mu.Lock()
	run.states[step.StepKey] = stepSuccess
	run.rec.StepOutputs[step.StepKey] = output
	run.mu.Unlock()
	e.publish(run, RunEvent{Type: EventStepSucceeded, StepKey: step.StepKey})
	log.Printf("✅ [Executor] Step执行成功: RunID=%s, StepKey=%s", run.rec.ID, step.StepKey)
}

// resolvePayload 以已累积的Step输出为上下文解析Payload模板
func (e *Executor) resolvePayload(run *runState, step task.StepDefinition) (json.RawMessage, error) {
	run.mu.Lock()
	outputs, err := template.DecodeOutputs(run.rec.StepOutputs)
	run.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return template.ResolveRawPayload(step.Payload, outputs)
}

// invokeWithRetry 带线性退避重试地调用外部Step执行能力
// 每次调用都包裹超时；超时与其他执行错误一样可重试
func (e *Executor) invokeWithRetry(ctx context.Context, run *runState, step task.StepDefinition, payload json.RawMessage) (json.RawMessage, error) {
	var lastErr error
	maxAttempts := run.opts.MaxRetries + 1

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		stepCtx, cancel := context.WithTimeout(ctx, run.opts.StepTimeout)
		output, err := e.steps.ExecuteStep(stepCtx, step, payload)
		cancel()

		if err == nil {
			return output, nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("Step执行超时（%s）: %w", run.opts.StepTimeout, err)
		}
		lastErr = err

		if attempt < maxAttempts {
			delay := ComputeRetryDelayMS(run.opts.BaseRetryDelayMS, uint64(attempt))
			warning := security.RedactText(fmt.Sprintf(
				"Step %s 第%d次执行失败，%dms后重试: %v", step.StepKey, attempt, delay, err))
			run.mu.Lock()
			run.rec.Warnings = append(run.rec.Warnings, warning)
			run.mu.Unlock()
			e.publish(run, RunEvent{Type: EventStepRetrying, StepKey: step.StepKey, Attempt: attempt, Message: warning})
			log.Printf("🔄 [Executor] %s", warning)
			time.Sleep(time.Duration(delay) * time.Millisecond)
		}
	}
	return nil, lastErr
}

// recordStepFailure 记录Step失败；仅保留第一个失败作为运行级错误
func (e *Executor) recordStepFailure(run *runState, stepKey string, err error) {
	redacted := security.RedactText(err.Error())
	run.mu.Lock()
	run.states[stepKey] = stepFailed
	if run.firstErr == nil {
		run.firstErr = fmt.Errorf("step %s: %s", stepKey, redacted)
	}
	run.mu.Unlock()
	e.publish(run, RunEvent{Type: EventStepFailed, StepKey: stepKey, Message: redacted})
	log.Printf("❌ [Executor] Step执行失败: RunID=%s, StepKey=%s, Error=%s", run.rec.ID, stepKey, redacted)
}

// finish 将运行置为终态并持久化
func (e *Executor) finish(ctx context.Context, run *runState, status string, runErr error) error {
	endTime := e.clock.Now()
	run.rec.Status = status
	run.rec.EndTime = &endTime
	if runErr != nil {
		run.rec.ErrorMessage = security.RedactText(runErr.Error())
	}

	if err := e.runs.Update(ctx, run.rec); err != nil {
		return fmt.Errorf("持久化运行终态失败: %w", err)
	}

	e.publish(run, RunEvent{Type: EventRunFinished, Status: status, Message: run.rec.ErrorMessage})
	switch status {
	case task.RunStatusSuccess:
		log.Printf("✅ [Executor] 运行成功: RunID=%s", run.rec.ID)
	case task.RunStatusCancelled:
		log.Printf("🛑 [Executor] 运行已取消: RunID=%s", run.rec.ID)
	default:
		log.Printf("❌ [Executor] 运行失败: RunID=%s, Error=%s", run.rec.ID, run.rec.ErrorMessage)
	}
	return nil
}

// publish 发布运行事件（无接收端时为空操作）
func (e *Executor) publish(run *runState, event RunEvent) {
	if e.events == nil {
		return
	}
	event.RunID = run.rec.ID
	event.TaskID = run.def.ID
	event.Timestamp = e.clock.Now()
	e.events.Publish(event)
}
