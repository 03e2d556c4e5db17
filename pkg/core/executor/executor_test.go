package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/LENAX/automation-engine/pkg/core/task"
	"github.com/LENAX/automation-engine/pkg/storage"
)

// ---------- 测试用Fake ----------

// fakeStepExecutor 按step_key返回预设结果，记录调用次数
type fakeStepExecutor struct {
	mu      sync.Mutex
	results map[string]func(attempt int) (json.RawMessage, error)
	calls   map[string]int
}

func newFakeStepExecutor() *fakeStepExecutor {
	return &fakeStepExecutor{
		results: make(map[string]func(int) (json.RawMessage, error)),
		calls:   make(map[string]int),
	}
}

func (f *fakeStepExecutor) succeed(stepKey, output string) {
	f.results[stepKey] = func(int) (json.RawMessage, error) {
		return json.RawMessage(output), nil
	}
}

func (f *fakeStepExecutor) fail(stepKey string, err error) {
	f.results[stepKey] = func(int) (json.RawMessage, error) {
		return nil, err
	}
}

func (f *fakeStepExecutor) ExecuteStep(ctx context.Context, step task.StepDefinition, payload json.RawMessage) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls[step.StepKey]++
	attempt := f.calls[step.StepKey]
	fn := f.results[step.StepKey]
	f.mu.Unlock()

	if fn == nil {
		return json.RawMessage(`{}`), nil
	}
	return fn(attempt)
}

func (f *fakeStepExecutor) callCount(stepKey string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[stepKey]
}

// memRunRepo 内存运行记录存储
type memRunRepo struct {
	mu   sync.Mutex
	recs map[string]*task.RunRecord
}

func newMemRunRepo() *memRunRepo {
	return &memRunRepo{recs: make(map[string]*task.RunRecord)}
}

func (r *memRunRepo) Create(ctx context.Context, rec *task.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs[rec.ID] = rec
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
	return rec, nil
}

func (r *memRunRepo) ListByTaskID(ctx context.Context, taskID string, limit int) ([]*task.RunRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]*task.RunRecord, 0)
	for _, rec := range r.recs {
		if rec.TaskID == taskID {
			result = append(result, rec)
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
			result = append(result, rec)
		}
	}
	return result, nil
}

// fixedClock 固定时间
type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

// ---------- 测试辅助 ----------

func fastOptions() Options {
	return Options{MaxRetries: 1, BaseRetryDelayMS: 0, StepTimeout: 5 * time.Second}
}

func compositeDef(t *testing.T, payload string) *task.TaskDefinition {
	t.Helper()
	return task.NewTaskDefinition("composite-test", task.TaskTypeComposite, json.RawMessage(payload))
}

func runTask(t *testing.T, steps *fakeStepExecutor, def *task.TaskDefinition, opts Options) (*task.RunRecord, *memRunRepo) {
	t.Helper()
	runs := newMemRunRepo()
	clock := &fixedClock{now: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)}
	exec := NewExecutor(steps, runs, clock, opts)

	rec := task.NewRunRecord(def.ID, clock.Now())
	if err := runs.Create(context.Background(), rec); err != nil {
		t.Fatalf("创建运行记录失败: %v", err)
	}
	if err := exec.Execute(context.Background(), def, rec, NewHandle()); err != nil {
		t.Fatalf("执行出错: %v", err)
	}
	return rec, runs
}

// ---------- 重试延迟 ----------

func TestComputeRetryDelayMS(t *testing.T) {
	cases := []struct {
		base, attempt, expected uint64
	}{
		{250, 1, 250},
		{250, 3, 750},
		{1000, 2, 2000},
		{0, 5, 0},
		{5, 0, 0},
	}
	for _, c := range cases {
		if got := ComputeRetryDelayMS(c.base, c.attempt); got != c.expected {
			t.Fatalf("ComputeRetryDelayMS(%d, %d) = %d, 期望 %d", c.base, c.attempt, got, c.expected)
		}
	}
}

func TestComputeRetryDelayMSSaturates(t *testing.T) {
	if got := ComputeRetryDelayMS(math.MaxUint64/2, 3); got != math.MaxUint64 {
		t.Fatalf("溢出时应饱和到最大值，实际为 %d", got)
	}
	if got := ComputeRetryDelayMS(math.MaxUint64, 1); got != math.MaxUint64 {
		t.Fatalf("临界值不应饱和错误: %d", got)
	}
}

// ---------- 运行生命周期 ----------

func TestExecuteScriptSuccess(t *testing.T) {
	steps := newFakeStepExecutor()
	steps.succeed("main", `{"exit_code": 0}`)

	def := task.NewTaskDefinition("script-test", task.TaskTypeScript, json.RawMessage(`{"command": "echo"}`))
	rec, _ := runTask(t, steps, def, fastOptions())

	if rec.Status != task.RunStatusSuccess {
		t.Fatalf("运行应成功，实际为 %s: %s", rec.Status, rec.ErrorMessage)
	}
	if rec.StartTime == nil || rec.EndTime == nil {
		t.Fatal("开始/结束时间应已记录")
	}
	if string(rec.StepOutputs["main"]) != `{"exit_code": 0}` {
		t.Fatalf("main步骤输出错误: %s", rec.StepOutputs["main"])
	}
}

func TestExecuteInvalidDefinitionFailsWithoutRetry(t *testing.T) {
	steps := newFakeStepExecutor()
	def := compositeDef(t, `{"steps": []}`)

	rec, _ := runTask(t, steps, def, fastOptions())
	if rec.Status != task.RunStatusFailed {
		t.Fatalf("非法定义应失败，实际为 %s", rec.Status)
	}
	if rec.ErrorMessage == "" {
		t.Fatal("失败运行应有错误消息")
	}
}

func TestExecuteFailurePropagatesSkip(t *testing.T) {
	steps := newFakeStepExecutor()
	steps.fail("s1", fmt.Errorf("boom"))
	steps.succeed("s2", `{}`)
	steps.succeed("s3", `{}`)

	def := compositeDef(t, `{
		"steps": [
			{"step_key": "s1", "type": "script"},
			{"step_key": "s2", "type": "script"},
			{"step_key": "s3", "type": "script"}
		],
		"edges": [
			{"from_step_key": "s1", "to_step_key": "s2"},
			{"from_step_key": "s2", "to_step_key": "s3"}
		]
	}`)

	rec, _ := runTask(t, steps, def, fastOptions())

	if rec.Status != task.RunStatusFailed {
		t.Fatalf("运行应失败，实际为 %s", rec.Status)
	}
	if !strings.Contains(rec.ErrorMessage, "s1") {
		t.Fatalf("错误消息应指向首个失败Step: %s", rec.ErrorMessage)
	}
	// 下游被跳过，不执行
	if steps.callCount("s2") != 0 || steps.callCount("s3") != 0 {
		t.Fatalf("失败Step的下游不应执行: s2=%d, s3=%d", steps.callCount("s2"), steps.callCount("s3"))
	}
}

func TestExecuteIndependentBranchesContinue(t *testing.T) {
	steps := newFakeStepExecutor()
	steps.fail("bad", fmt.Errorf("boom"))
	steps.succeed("good", `{"done": true}`)

	def := compositeDef(t, `{
		"steps": [
			{"step_key": "bad", "type": "script"},
			{"step_key": "good", "type": "script"}
		],
		"edges": []
	}`)

	rec, _ := runTask(t, steps, def, fastOptions())

	if rec.Status != task.RunStatusFailed {
		t.Fatalf("有失败Step的运行应失败，实际为 %s", rec.Status)
	}
	if steps.callCount("good") == 0 {
		t.Fatal("独立分支应继续执行")
	}
	if _, exists := rec.StepOutputs["good"]; !exists {
		t.Fatal("独立分支的输出应已记录")
	}
}

func TestExecuteRetryThenSuccess(t *testing.T) {
	steps := newFakeStepExecutor()
	steps.results["flaky"] = func(attempt int) (json.RawMessage, error) {
		if attempt < 3 {
			return nil, fmt.Errorf("transient password=hunter2")
		}
		return json.RawMessage(`{"ok": true}`), nil
	}

	def := compositeDef(t, `{"steps": [{"step_key": "flaky", "type": "script"}]}`)
	opts := Options{MaxRetries: 3, BaseRetryDelayMS: 0, StepTimeout: 5 * time.Second}
	rec, _ := runTask(t, steps, def, opts)

	if rec.Status != task.RunStatusSuccess {
		t.Fatalf("重试后应成功，实际为 %s: %s", rec.Status, rec.ErrorMessage)
	}
	if steps.callCount("flaky") != 3 {
		t.Fatalf("应执行3次，实际为%d", steps.callCount("flaky"))
	}
	if len(rec.Warnings) != 2 {
		t.Fatalf("应记录2条重试告警，实际为%d: %v", len(rec.Warnings), rec.Warnings)
	}
	for _, warning := range rec.Warnings {
		if strings.Contains(warning, "hunter2") {
			t.Fatalf("告警应脱敏: %s", warning)
		}
	}
}

func TestExecuteRetriesExhausted(t *testing.T) {
	steps := newFakeStepExecutor()
	steps.fail("s1", fmt.Errorf("permanent"))

	def := compositeDef(t, `{"steps": [{"step_key": "s1", "type": "script"}]}`)
	opts := Options{MaxRetries: 2, BaseRetryDelayMS: 0, StepTimeout: 5 * time.Second}
	rec, _ := runTask(t, steps, def, opts)

	if rec.Status != task.RunStatusFailed {
		t.Fatalf("重试耗尽应失败，实际为 %s", rec.Status)
	}
	// 首次 + 2次重试
	if steps.callCount("s1") != 3 {
		t.Fatalf("应执行3次，实际为%d", steps.callCount("s1"))
	}
}

func TestExecutePayloadOverridesRetryOptions(t *testing.T) {
	steps := newFakeStepExecutor()
	steps.fail("s1", fmt.Errorf("boom"))

	def := compositeDef(t, `{
		"steps": [{"step_key": "s1", "type": "script"}],
		"max_retries": 1
	}`)
	opts := Options{MaxRetries: 5, BaseRetryDelayMS: 0, StepTimeout: 5 * time.Second}
	runTask(t, steps, def, opts)

	// Payload中的max_retries=1覆盖默认的5
	if steps.callCount("s1") != 2 {
		t.Fatalf("应执行2次（payload覆盖），实际为%d", steps.callCount("s1"))
	}
}

// ---------- 条件边与join policy ----------

func TestExecuteConditionalEdge(t *testing.T) {
	steps := newFakeStepExecutor()
	steps.succeed("check", `{"status": "ready"}`)
	steps.succeed("go", `{}`)
	steps.succeed("stop", `{}`)

	def := compositeDef(t, `{
		"steps": [
			{"step_key": "check", "type": "script"},
			{"step_key": "go", "type": "script"},
			{"step_key": "stop", "type": "script"}
		],
		"edges": [
			{"from_step_key": "check", "to_step_key": "go", "condition": {"path": "status", "equals": "ready"}},
			{"from_step_key": "check", "to_step_key": "stop", "condition": {"path": "status", "equals": "halt"}}
		]
	}`)

	rec, _ := runTask(t, steps, def, fastOptions())

	if rec.Status != task.RunStatusSuccess {
		t.Fatalf("运行应成功，实际为 %s: %s", rec.Status, rec.ErrorMessage)
	}
	if steps.callCount("go") != 1 {
		t.Fatal("条件满足的分支应执行")
	}
	if steps.callCount("stop") != 0 {
		t.Fatal("条件不满足的分支应跳过")
	}
}

func TestExecuteJoinPolicyAny(t *testing.T) {
	steps := newFakeStepExecutor()
	steps.fail("left", fmt.Errorf("boom"))
	steps.succeed("right", `{}`)
	steps.succeed("join", `{}`)

	def := compositeDef(t, `{
		"steps": [
			{"step_key": "left", "type": "script"},
			{"step_key": "right", "type": "script"},
			{"step_key": "join", "type": "script"}
		],
		"edges": [
			{"from_step_key": "left", "to_step_key": "join"},
			{"from_step_key": "right", "to_step_key": "join"}
		],
		"join_policy": "any"
	}`)

	rec, _ := runTask(t, steps, def, fastOptions())
	if steps.callCount("join") != 1 {
		t.Fatal("any策略下任一上游成功即应执行")
	}
	// left失败仍使运行整体失败
	if rec.Status != task.RunStatusFailed {
		t.Fatalf("运行应失败，实际为 %s", rec.Status)
	}
}

func TestExecuteJoinPolicyAll(t *testing.T) {
	steps := newFakeStepExecutor()
	steps.fail("left", fmt.Errorf("boom"))
	steps.succeed("right", `{}`)
	steps.succeed("join", `{}`)

	def := compositeDef(t, `{
		"steps": [
			{"step_key": "left", "type": "script"},
			{"step_key": "right", "type": "script"},
			{"step_key": "join", "type": "script"}
		],
		"edges": [
			{"from_step_key": "left", "to_step_key": "join"},
			{"from_step_key": "right", "to_step_key": "join"}
		],
		"join_policy": "all"
	}`)

	runTask(t, steps, def, fastOptions())
	if steps.callCount("join") != 0 {
		t.Fatal("all策略下存在失败上游时不应执行")
	}
}

// ---------- 模板解析 ----------

func TestExecuteStepPayloadResolution(t *testing.T) {
	steps := newFakeStepExecutor()
	steps.succeed("produce", `{"data": {"id": 42}}`)
	steps.succeed("consume", `{}`)

	def := compositeDef(t, `{
		"steps": [
			{"step_key": "produce", "type": "script"},
			{"step_key": "consume", "type": "script", "payload": {"target": "{{steps.produce.data.id}}"}}
		],
		"edges": [{"from_step_key": "produce", "to_step_key": "consume"}]
	}`)

	runs := newMemRunRepo()
	clock := &fixedClock{now: time.Now()}
	recorder := &payloadRecorder{inner: steps}
	exec := NewExecutor(recorder, runs, clock, fastOptions())

	rec := task.NewRunRecord(def.ID, clock.Now())
	runs.Create(context.Background(), rec)
	if err := exec.Execute(context.Background(), def, rec, nil); err != nil {
		t.Fatalf("执行出错: %v", err)
	}

	if rec.Status != task.RunStatusSuccess {
		t.Fatalf("运行应成功，实际为 %s: %s", rec.Status, rec.ErrorMessage)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(recorder.payloads["consume"], &decoded); err != nil {
		t.Fatalf("解码payload失败: %v", err)
	}
	// 整串占位符保留数字类型
	if decoded["target"] != float64(42) {
		t.Fatalf("payload应解析为上游输出值: %v", decoded["target"])
	}
}

// payloadRecorder 记录每个Step实际收到的已解析payload
type payloadRecorder struct {
	mu       sync.Mutex
	inner    StepExecutor
	payloads map[string]json.RawMessage
}

func (r *payloadRecorder) ExecuteStep(ctx context.Context, step task.StepDefinition, payload json.RawMessage) (json.RawMessage, error) {
	r.mu.Lock()
	if r.payloads == nil {
		r.payloads = make(map[string]json.RawMessage)
	}
	r.payloads[step.StepKey] = payload
	r.mu.Unlock()
	return r.inner.ExecuteStep(ctx, step, payload)
}

func TestExecuteResolutionErrorNoRetry(t *testing.T) {
	steps := newFakeStepExecutor()

	def := compositeDef(t, `{
		"steps": [
			{"step_key": "s1", "type": "script", "payload": {"ref": "{{steps.ghost.x.y}}"}}
		]
	}`)
	opts := Options{MaxRetries: 3, BaseRetryDelayMS: 0, StepTimeout: 5 * time.Second}
	rec, _ := runTask(t, steps, def, opts)

	if rec.Status != task.RunStatusFailed {
		t.Fatalf("解析失败应使运行失败，实际为 %s", rec.Status)
	}
	// 解析错误是确定性的，不应调用外部能力
	if steps.callCount("s1") != 0 {
		t.Fatalf("解析失败不应重试执行，实际调用%d次", steps.callCount("s1"))
	}
}

// ---------- 取消 ----------

func TestExecuteCancelBeforeStart(t *testing.T) {
	steps := newFakeStepExecutor()
	steps.succeed("s1", `{}`)

	def := compositeDef(t, `{"steps": [{"step_key": "s1", "type": "script"}]}`)

	runs := newMemRunRepo()
	exec := NewExecutor(steps, runs, &fixedClock{now: time.Now()}, fastOptions())

	rec := task.NewRunRecord(def.ID, time.Now())
	runs.Create(context.Background(), rec)

	handle := NewHandle()
	handle.RequestCancel()
	if err := exec.Execute(context.Background(), def, rec, handle); err != nil {
		t.Fatalf("执行出错: %v", err)
	}

	if rec.Status != task.RunStatusCancelled {
		t.Fatalf("取消的运行应为CANCELLED，实际为 %s", rec.Status)
	}
	if steps.callCount("s1") != 0 {
		t.Fatal("取消后不应执行任何Step")
	}
}

// ---------- 超时 ----------

func TestExecuteStepTimeout(t *testing.T) {
	slow := &slowStepExecutor{delay: 200 * time.Millisecond}
	def := compositeDef(t, `{"steps": [{"step_key": "slow", "type": "script"}]}`)

	runs := newMemRunRepo()
	opts := Options{MaxRetries: 0, BaseRetryDelayMS: 0, StepTimeout: 20 * time.Millisecond}
	exec := NewExecutor(slow, runs, &fixedClock{now: time.Now()}, opts)

	rec := task.NewRunRecord(def.ID, time.Now())
	runs.Create(context.Background(), rec)
	if err := exec.Execute(context.Background(), def, rec, nil); err != nil {
		t.Fatalf("执行出错: %v", err)
	}

	if rec.Status != task.RunStatusFailed {
		t.Fatalf("超时应使运行失败，实际为 %s", rec.Status)
	}
	if !strings.Contains(rec.ErrorMessage, "超时") {
		t.Fatalf("错误消息应指明超时: %s", rec.ErrorMessage)
	}
}

// slowStepExecutor 等待ctx超时的执行器
type slowStepExecutor struct {
	delay time.Duration
}

func (s *slowStepExecutor) ExecuteStep(ctx context.Context, step task.StepDefinition, payload json.RawMessage) (json.RawMessage, error) {
	select {
	case <-time.After(s.delay):
		return json.RawMessage(`{}`), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ---------- 事件 ----------

// captureSink 收集发布的事件
type captureSink struct {
	mu     sync.Mutex
	events []RunEvent
}

func (s *captureSink) Publish(event RunEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *captureSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, 0, len(s.events))
	for _, e := range s.events {
		types = append(types, e.Type)
	}
	return types
}

func TestExecutePublishesEvents(t *testing.T) {
	steps := newFakeStepExecutor()
	steps.succeed("main", `{}`)

	def := task.NewTaskDefinition("event-test", task.TaskTypeScript, json.RawMessage(`{}`))

	runs := newMemRunRepo()
	sink := &captureSink{}
	exec := NewExecutor(steps, runs, &fixedClock{now: time.Now()}, fastOptions())
	exec.SetEventSink(sink)

	rec := task.NewRunRecord(def.ID, time.Now())
	runs.Create(context.Background(), rec)
	if err := exec.Execute(context.Background(), def, rec, nil); err != nil {
		t.Fatalf("执行出错: %v", err)
	}

	types := sink.types()
	if len(types) < 3 {
		t.Fatalf("应发布至少3个事件，实际为 %v", types)
	}
	if types[0] != EventStepStarted || types[len(types)-1] != EventRunFinished {
		t.Fatalf("事件序列错误: %v", types)
	}
	for _, e := range sink.events {
		if e.RunID != rec.ID || e.TaskID != def.ID {
			t.Fatalf("事件应携带RunID/TaskID: %+v", e)
		}
	}
}
