package task

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestNormalizeTags(t *testing.T) {
	cases := []struct {
		input    []string
		expected []string
	}{
		{[]string{" Daily ", "ETL", "daily", "etl"}, []string{"daily", "etl"}},
		{[]string{"", "  ", "report"}, []string{"report"}},
		{[]string{"B", "a", "b"}, []string{"b", "a"}}, // 保持首次出现顺序
		{nil, []string{}},
	}
	for _, c := range cases {
		if got := NormalizeTags(c.input); !reflect.DeepEqual(got, c.expected) {
			t.Fatalf("NormalizeTags(%v) = %v, 期望 %v", c.input, got, c.expected)
		}
	}
}

func TestNewTaskDefinition(t *testing.T) {
	def := NewTaskDefinition("nightly-sync", TaskTypeScript, json.RawMessage(`{"command":"sync"}`))
	if def.ID == "" {
		t.Fatal("新任务定义应有ID")
	}
	if !def.Enabled {
		t.Fatal("新任务定义应默认启用")
	}
	if def.IsScheduled() {
		t.Fatal("无cron表达式的任务不应定时")
	}
	def.CronExpr = "0 2 * * *"
	if !def.IsScheduled() {
		t.Fatal("有cron表达式的任务应定时")
	}
}

func TestParseCompositePayload(t *testing.T) {
	raw := json.RawMessage(`{
		"steps": [
			{"step_key": "fetch", "type": "script", "payload": {"command": "fetch"}},
			{"step_key": "load", "type": "script", "payload": {"command": "load"}}
		],
		"edges": [
			{"from_step_key": "fetch", "to_step_key": "load", "condition": {"path": "exit_code", "equals": 0}}
		],
		"max_retries": 5
	}`)

	payload, err := ParseCompositePayload(raw)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if len(payload.Steps) != 2 || len(payload.Edges) != 1 {
		t.Fatalf("Step/边数量错误: %d/%d", len(payload.Steps), len(payload.Edges))
	}
	if payload.JoinPolicy != JoinPolicyAny {
		t.Fatalf("join_policy应默认为any，实际为 %s", payload.JoinPolicy)
	}
	if payload.MaxRetries != 5 {
		t.Fatalf("max_retries应为5，实际为%d", payload.MaxRetries)
	}
	cond := payload.Edges[0].Condition
	if cond == nil || cond.Path != "exit_code" || cond.Equals != float64(0) {
		t.Fatalf("边条件解析错误: %+v", cond)
	}
}

func TestParseCompositePayloadInvalid(t *testing.T) {
	cases := []json.RawMessage{
		nil,
		json.RawMessage(`not json`),
		json.RawMessage(`{"steps": []}`),
		json.RawMessage(`{"steps": [{"step_key": "a"}], "join_policy": "majority"}`),
	}
	for i, raw := range cases {
		if _, err := ParseCompositePayload(raw); err == nil {
			t.Fatalf("用例%d应解析失败", i)
		}
	}
}

func TestRunRecordLifecycle(t *testing.T) {
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	rec := NewRunRecord("task-1", now)

	if rec.Status != RunStatusPending {
		t.Fatalf("新运行记录应为PENDING，实际为 %s", rec.Status)
	}
	if rec.IsTerminal() {
		t.Fatal("PENDING不是终态")
	}
	if rec.CreateTime != now {
		t.Fatalf("创建时间错误: %v", rec.CreateTime)
	}

	rec.Status = RunStatusRunning
	if rec.IsTerminal() {
		t.Fatal("RUNNING不是终态")
	}

	for _, status := range []string{RunStatusSuccess, RunStatusFailed, RunStatusCancelled} {
		rec.Status = status
		if !rec.IsTerminal() {
			t.Fatalf("%s 应为终态", status)
		}
	}
}
