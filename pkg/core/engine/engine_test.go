package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/LENAX/automation-engine/pkg/core/executor"
	"github.com/LENAX/automation-engine/pkg/core/task"
	"github.com/LENAX/automation-engine/pkg/storage"
)

// ---------- 测试用Fake ----------

type memTaskRepo struct {
	mu   sync.Mutex
	defs map[string]*task.TaskDefinition
}

func newMemTaskRepo() *memTaskRepo {
	return &memTaskRepo{defs: make(map[string]*task.TaskDefinition)}
}

func (r *memTaskRepo) Save(ctx context.Context, def *task.TaskDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.ID] = def
	return nil
}

func (r *memTaskRepo) GetByID(ctx context.Context, id string) (*task.TaskDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, exists := r.defs[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return def, nil
}

func (r *memTaskRepo) List(ctx context.Context) ([]*task.TaskDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]*task.TaskDefinition, 0, len(r.defs))
	for _, def := range r.defs {
		result = append(result, def)
	}
	return result, nil
}

func (r *memTaskRepo) ListEnabledScheduled(ctx context.Context) ([]*task.TaskDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]*task.TaskDefinition, 0)
	for _, def := range r.defs {
		if def.Enabled && def.IsScheduled() {
			result = append(result, def)
		}
	}
	return result, nil
}

func (r *memTaskRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[id]; !exists {
		return storage.ErrNotFound
	}
	delete(r.defs, id)
	return nil
}

type memRunRepo struct {
	mu   sync.Mutex
	recs map[string]*task.RunRecord
}

func newMemRunRepo() *memRunRepo {
	return &memRunRepo{recs: make(map[string]*task.RunRecord)}
}

// copyRunRecord 存取均做快照，模拟真实存储的隔离性
func copyRunRecord(rec *task.RunRecord) *task.RunRecord {
	copied := *rec
	copied.StepOutputs = make(map[string]json.RawMessage, len(rec.StepOutputs))
	for key, value := range rec.StepOutputs {
		copied.StepOutputs[key] = value
	}
	copied.Warnings = append([]string(nil), rec.Warnings...)
	return &copied
}

func (r *memRunRepo) Create(ctx context.Context, rec *task.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs[rec.ID] = copyRunRecord(rec)
	return nil
}

func (r *memRunRepo) Update(ctx context.Context, rec *task.RunRecord) error {
	return r.Create(ctx, rec)
}

func (r *memRunRepo) GetByID(ctx context.Context, id string) (*task.RunRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, exists := r.recs[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyRunRecord(rec), nil
}

func (r *memRunRepo) ListByTaskID(ctx context.Context, taskID string, limit int) ([]*task.RunRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]*task.RunRecord, 0)
	for _, rec := range r.recs {
		if rec.TaskID == taskID {
			result = append(result, copyRunRecord(rec))
		}
	}
	return result, nil
}

func (r *memRunRepo) ListUnfinished(ctx context.Context) ([]*task.RunRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]*task.RunRecord, 0)
	for _, rec := range r.recs {
		if !rec.IsTerminal() {
			result = append(result, copyRunRecord(rec))
		}
	}
	return result, nil
}

func (r *memRunRepo) count(taskID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, rec := range r.recs {
		if rec.TaskID == taskID {
			count++
		}
	}
	return count
}

type memStateRepo struct {
	mu    sync.Mutex
	state string
}

func (r *memStateRepo) Load(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, nil
}

func (r *memStateRepo) Save(ctx context.Context, state string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
	return nil
}

// instantStepExecutor 立即成功的Step执行器
type instantStepExecutor struct{}

func (instantStepExecutor) ExecuteStep(ctx context.Context, step task.StepDefinition, payload json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

// blockingStepExecutor 阻塞直到release被关闭
type blockingStepExecutor struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingStepExecutor() *blockingStepExecutor {
	return &blockingStepExecutor{
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (b *blockingStepExecutor) ExecuteStep(ctx context.Context, step task.StepDefinition, payload json.RawMessage) (json.RawMessage, error) {
	b.started <- struct{}{}
	<-b.release
	return json.RawMessage(`{}`), nil
}

func (b *blockingStepExecutor) releaseAll() {
	b.once.Do(func() { close(b.release) })
}

// testClock 可推进的测试时钟
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock {
	return &testClock{now: now}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// ---------- 测试辅助 ----------

func newTestEngine(t *testing.T, steps executor.StepExecutor, clock task.Clock) (*Engine, *memTaskRepo, *memRunRepo) {
	t.Helper()
	tasks := newMemTaskRepo()
	runs := newMemRunRepo()
	repos := &storage.Repositories{
		Tasks:          tasks,
		Runs:           runs,
		SchedulerState: &memStateRepo{},
	}

	opts := DefaultOptions()
	opts.Executor.MaxRetries = 0
	opts.Executor.BaseRetryDelayMS = 0

	eng, err := NewEngine(context.Background(), repos, steps, clock, opts)
	if err != nil {
		t.Fatalf("创建Engine失败: %v", err)
	}
	return eng, tasks, runs
}

func scriptDef(name string) *task.TaskDefinition {
	return task.NewTaskDefinition(name, task.TaskTypeScript, json.RawMessage(`{"command": "echo"}`))
}

func waitForTerminal(t *testing.T, eng *Engine, runID string) *task.RunRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := eng.GetRunStatus(context.Background(), runID)
		if err != nil {
			t.Fatalf("查询运行状态失败: %v", err)
		}
		if rec.IsTerminal() {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("等待运行进入终态超时")
	return nil
}

// ---------- 任务定义管理 ----------

func TestSaveTaskDefinitionValidation(t *testing.T) {
	eng, _, _ := newTestEngine(t, instantStepExecutor{}, nil)
	ctx := context.Background()

	// 空名称
	def := scriptDef("")
	if err := eng.SaveTaskDefinition(ctx, def); err == nil {
		t.Fatal("空名称应被拒绝")
	}

	// 非法cron
	def = scriptDef("bad-cron")
	def.CronExpr = "* * 1 * *"
	if err := eng.SaveTaskDefinition(ctx, def); err == nil {
		t.Fatal("非法cron应被拒绝")
	}

	// 未知类型
	def = task.NewTaskDefinition("bad-type", "webhook", nil)
	if err := eng.SaveTaskDefinition(ctx, def); err == nil {
		t.Fatal("未知类型应被拒绝")
	}

	// 循环复合任务
	def = task.NewTaskDefinition("cyclic", task.TaskTypeComposite, json.RawMessage(`{
		"steps": [{"step_key": "a", "type": "script"}, {"step_key": "b", "type": "script"}],
		"edges": [
			{"from_step_key": "a", "to_step_key": "b"},
			{"from_step_key": "b", "to_step_key": "a"}
		]
	}`))
	if err := eng.SaveTaskDefinition(ctx, def); err == nil {
		t.Fatal("循环复合任务应被拒绝")
	}

	// 被拒绝的定义均未持久化
	defs, _ := eng.ListTaskDefinitions(ctx)
	if len(defs) != 0 {
		t.Fatalf("校验失败的定义不应持久化，实际存有%d个", len(defs))
	}
}

func TestSaveTaskDefinitionNormalizesTags(t *testing.T) {
	eng, _, _ := newTestEngine(t, instantStepExecutor{}, nil)
	ctx := context.Background()

	def := scriptDef("tagged")
	def.Tags = []string{" ETL ", "Daily", "etl"}
	if err := eng.SaveTaskDefinition(ctx, def); err != nil {
		t.Fatalf("保存失败: %v", err)
	}

	saved, err := eng.GetTaskDefinition(ctx, def.ID)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if len(saved.Tags) != 2 || saved.Tags[0] != "etl" || saved.Tags[1] != "daily" {
		t.Fatalf("标签应规范化去重: %v", saved.Tags)
	}
}

// ---------- 手动触发与互斥 ----------

func TestSubmitManualRun(t *testing.T) {
	eng, _, _ := newTestEngine(t, instantStepExecutor{}, nil)
	ctx := context.Background()

	def := scriptDef("manual")
	if err := eng.SaveTaskDefinition(ctx, def); err != nil {
		t.Fatalf("保存失败: %v", err)
	}

	runID, err := eng.SubmitManualRun(ctx, def.ID)
	if err != nil {
		t.Fatalf("触发失败: %v", err)
	}

	rec := waitForTerminal(t, eng, runID)
	if rec.Status != task.RunStatusSuccess {
		t.Fatalf("运行应成功，实际为 %s: %s", rec.Status, rec.ErrorMessage)
	}
}

func TestSubmitManualRunUnknownTask(t *testing.T) {
	eng, _, _ := newTestEngine(t, instantStepExecutor{}, nil)
	_, err := eng.SubmitManualRun(context.Background(), "ghost")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("未知任务应返回ErrNotFound: %v", err)
	}
}

func TestSubmitManualRunInFlightExclusion(t *testing.T) {
	blocking := newBlockingStepExecutor()
	eng, _, _ := newTestEngine(t, blocking, nil)
	ctx := context.Background()

	def := scriptDef("exclusive")
	if err := eng.SaveTaskDefinition(ctx, def); err != nil {
		t.Fatalf("保存失败: %v", err)
	}

	runID, err := eng.SubmitManualRun(ctx, def.ID)
	if err != nil {
		t.Fatalf("首次触发失败: %v", err)
	}
	<-blocking.started // 等待运行真正开始

	// 同一任务的第二次触发被拒绝
	if _, err := eng.SubmitManualRun(ctx, def.ID); !errors.Is(err, ErrTaskInFlight) {
		t.Fatalf("in-flight任务应返回ErrTaskInFlight: %v", err)
	}

	blocking.releaseAll()
	waitForTerminal(t, eng, runID)
	if !eng.Stop(5 * time.Second) {
		t.Fatal("等待运行结束超时")
	}

	// 结束后可再次触发
	if _, err := eng.SubmitManualRun(ctx, def.ID); err != nil {
		t.Fatalf("运行结束后应可再次触发: %v", err)
	}
}

func TestStaleMarkerReclaimed(t *testing.T) {
	clock := newTestClock(time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC))
	blocking := newBlockingStepExecutor()
	defer blocking.releaseAll()

	eng, _, _ := newTestEngine(t, blocking, clock)
	ctx := context.Background()

	def := scriptDef("stale")
	if err := eng.SaveTaskDefinition(ctx, def); err != nil {
		t.Fatalf("保存失败: %v", err)
	}

	if _, err := eng.SubmitManualRun(ctx, def.ID); err != nil {
		t.Fatalf("触发失败: %v", err)
	}
	<-blocking.started

	if !eng.isInFlight(def.ID) {
		t.Fatal("任务应处于in-flight状态")
	}

	// 标记过期后视为可回收
	clock.Set(clock.Now().Add(2 * time.Hour))
	if eng.isInFlight(def.ID) {
		t.Fatal("过期标记不应视为in-flight")
	}

	// 过期后允许新的运行
	if _, err := eng.SubmitManualRun(ctx, def.ID); err != nil {
		t.Fatalf("过期标记应被回收并允许新运行: %v", err)
	}
}

// ---------- 取消 ----------

func TestCancelRunInFlight(t *testing.T) {
	blocking := newBlockingStepExecutor()
	eng, _, _ := newTestEngine(t, blocking, nil)
	ctx := context.Background()

	def := task.NewTaskDefinition("cancellable", task.TaskTypeComposite, json.RawMessage(`{
		"steps": [
			{"step_key": "s1", "type": "script"},
			{"step_key": "s2", "type": "script"}
		],
		"edges": [{"from_step_key": "s1", "to_step_key": "s2"}]
	}`))
	if err := eng.SaveTaskDefinition(ctx, def); err != nil {
		t.Fatalf("保存失败: %v", err)
	}

	runID, err := eng.SubmitManualRun(ctx, def.ID)
	if err != nil {
		t.Fatalf("触发失败: %v", err)
	}
	<-blocking.started // s1执行中

	if err := eng.CancelRun(ctx, runID); err != nil {
		t.Fatalf("取消失败: %v", err)
	}
	blocking.releaseAll()

	rec := waitForTerminal(t, eng, runID)
	if rec.Status != task.RunStatusCancelled {
		t.Fatalf("运行应为CANCELLED，实际为 %s", rec.Status)
	}
}

func TestCancelRunOrphan(t *testing.T) {
	eng, _, runs := newTestEngine(t, instantStepExecutor{}, nil)
	ctx := context.Background()

	// 没有存活句柄的非终态运行（进程重启遗留）
	rec := task.NewRunRecord("task-x", time.Now())
	rec.Status = task.RunStatusRunning
	runs.Create(ctx, rec)

	if err := eng.CancelRun(ctx, rec.ID); err != nil {
		t.Fatalf("孤儿运行取消失败: %v", err)
	}
	got, _ := eng.GetRunStatus(ctx, rec.ID)
	if got.Status != task.RunStatusCancelled {
		t.Fatalf("孤儿运行应直接标记CANCELLED，实际为 %s", got.Status)
	}
}

func TestCancelRunFinished(t *testing.T) {
	eng, _, runs := newTestEngine(t, instantStepExecutor{}, nil)
	ctx := context.Background()

	rec := task.NewRunRecord("task-y", time.Now())
	rec.Status = task.RunStatusSuccess
	runs.Create(ctx, rec)

	if err := eng.CancelRun(ctx, rec.ID); !errors.Is(err, ErrRunFinished) {
		t.Fatalf("终态运行应返回ErrRunFinished: %v", err)
	}
}

// ---------- 启动对账 ----------

func TestReconcileOnStart(t *testing.T) {
	eng, _, runs := newTestEngine(t, instantStepExecutor{}, nil)
	ctx := context.Background()

	unfinished := task.NewRunRecord("task-z", time.Now())
	unfinished.Status = task.RunStatusRunning
	runs.Create(ctx, unfinished)

	finished := task.NewRunRecord("task-z", time.Now())
	finished.Status = task.RunStatusSuccess
	runs.Create(ctx, finished)

	if err := eng.ReconcileOnStart(ctx); err != nil {
		t.Fatalf("对账失败: %v", err)
	}

	got, _ := eng.GetRunStatus(ctx, unfinished.ID)
	if got.Status != task.RunStatusFailed {
		t.Fatalf("未完成运行应标记FAILED，实际为 %s", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Fatal("对账的运行应有错误消息")
	}

	got, _ = eng.GetRunStatus(ctx, finished.ID)
	if got.Status != task.RunStatusSuccess {
		t.Fatalf("已完成运行不应被修改，实际为 %s", got.Status)
	}
}

// ---------- 调度器状态 ----------

func TestSchedulerStatePersistence(t *testing.T) {
	stateRepo := &memStateRepo{}
	ctx := context.Background()

	handle, err := NewSchedulerStateHandle(ctx, stateRepo)
	if err != nil {
		t.Fatalf("创建状态句柄失败: %v", err)
	}
	if !handle.IsRunning() {
		t.Fatal("初始状态应为Running")
	}

	if err := handle.Pause(ctx); err != nil {
		t.Fatalf("暂停失败: %v", err)
	}
	if handle.IsRunning() {
		t.Fatal("暂停后不应为Running")
	}

	// 新句柄从存储恢复Paused状态
	restored, err := NewSchedulerStateHandle(ctx, stateRepo)
	if err != nil {
		t.Fatalf("恢复状态句柄失败: %v", err)
	}
	if restored.IsRunning() {
		t.Fatal("应恢复为Paused状态")
	}

	if err := restored.Resume(ctx); err != nil {
		t.Fatalf("恢复失败: %v", err)
	}
	if !restored.IsRunning() {
		t.Fatal("Resume后应为Running")
	}
}

// ---------- 事件 ----------

func TestEventHubSubscribe(t *testing.T) {
	hub := NewEventHub()

	ch, cancel := hub.Subscribe("run-1")
	defer cancel()

	hub.Publish(executor.RunEvent{RunID: "run-1", Type: executor.EventStepStarted})
	hub.Publish(executor.RunEvent{RunID: "run-2", Type: executor.EventStepStarted}) // 其他运行

	select {
	case event := <-ch:
		if event.RunID != "run-1" {
			t.Fatalf("收到其他运行的事件: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("应收到订阅运行的事件")
	}

	select {
	case event := <-ch:
		t.Fatalf("不应收到其他运行的事件: %+v", event)
	default:
	}

	cancel()
	// 取消订阅后发布不会panic或阻塞
	hub.Publish(executor.RunEvent{RunID: "run-1", Type: executor.EventRunFinished})
}
