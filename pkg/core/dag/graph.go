package dag

import (
	"errors"
	"fmt"
	"sort"

	godag "github.com/begmaroman/go-dag"

	"github.com/LENAX/automation-engine/pkg/core/task"
)

// ErrCycle 循环依赖哨兵错误（对外导出）
var ErrCycle = errors.New("检测到循环依赖")

// CycleError 携带循环路径的错误（对外导出）
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("检测到循环依赖: %v", e.Path)
}

func (e *CycleError) Unwrap() error {
	return ErrCycle
}

// stepVertex go-dag节点，实现Identifiable接口
type stepVertex struct {
	step task.StepDefinition
}

func (v *stepVertex) ID() string {
	return v.step.StepKey
}

// Hash 实现go-dag的Hashable接口，以StepKey作为节点唯一标识
// （默认哈希基于JSON序列化，无法区分只含未导出字段的节点）
func (v *stepVertex) Hash() (godag.VHash, error) {
	return godag.ToHash(v.step.StepKey)
}

// Graph 复合任务的Step图（对外导出）
// 邻接关系托管给go-dag，循环检测在构建前用三色DFS显式完成
type Graph struct {
	dag      *godag.DAG[*stepVertex]
	steps    map[string]task.StepDefinition
	inbound  map[string][]task.CompositeTaskEdge
	outbound map[string][]task.CompositeTaskEdge
}

// BuildGraph 由Step和边构建图（对外导出）
// Step Key重复、边引用未知Step、存在循环均返回错误
func BuildGraph(steps []task.StepDefinition, edges []task.CompositeTaskEdge) (*Graph, error) {
	stepMap := make(map[string]task.StepDefinition, len(steps))
	for _, step := range steps {
		if step.StepKey == "" {
			return nil, fmt.Errorf("存在step_key为空的Step")
		}
		if _, exists := stepMap[step.StepKey]; exists {
			return nil, fmt.Errorf("step_key重复: %s", step.StepKey)
		}
		stepMap[step.StepKey] = step
	}

	for _, edge := range edges {
		if _, exists := stepMap[edge.FromStepKey]; !exists {
			return nil, fmt.Errorf("边引用了未知的Step: %s", edge.FromStepKey)
		}
		if _, exists := stepMap[edge.ToStepKey]; !exists {
			return nil, fmt.Errorf("边引用了未知的Step: %s", edge.ToStepKey)
		}
	}

	// 先一次性检测循环，再交给go-dag（避免在每次AddEdge时做递归检查）
	if cycle := DetectCycle(edges); cycle != nil {
		return nil, &CycleError{Path: cycle}
	}

	d := godag.NewDAG[*stepVertex]()
	keys := make([]string, 0, len(stepMap))
	for key := range stepMap {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		step := stepMap[key]
		if _, err := d.AddVertex(&stepVertex{step: step}); err != nil {
			return nil, fmt.Errorf("添加节点失败: step_key=%s, %w", key, err)
		}
	}

	inbound := make(map[string][]task.CompositeTaskEdge)
	outbound := make(map[string][]task.CompositeTaskEdge)
	for _, edge := range edges {
		if err := d.AddEdge(edge.FromStepKey, edge.ToStepKey); err != nil {
			return nil, fmt.Errorf("添加边失败: %s -> %s, %w", edge.FromStepKey, edge.ToStepKey, err)
		}
		inbound[edge.ToStepKey] = append(inbound[edge.ToStepKey], edge)
		outbound[edge.FromStepKey] = append(outbound[edge.FromStepKey], edge)
	}

	return &Graph{
		dag:      d,
		steps:    stepMap,
		inbound:  inbound,
		outbound: outbound,
	}, nil
}

// Step 获取指定Step定义
func (g *Graph) Step(stepKey string) (task.StepDefinition, bool) {
	step, exists := g.steps[stepKey]
	return step, exists
}

// StepCount Step数量
func (g *Graph) StepCount() int {
	return len(g.steps)
}

// InboundEdges 指定Step的入边
func (g *Graph) InboundEdges(stepKey string) []task.CompositeTaskEdge {
	return g.inbound[stepKey]
}

// OutboundEdges 指定Step的出边
func (g *Graph) OutboundEdges(stepKey string) []task.CompositeTaskEdge {
	return g.outbound[stepKey]
}

// Children 指定Step的下游Step Key（字典序）
func (g *Graph) Children(stepKey string) []string {
	children, err := g.dag.GetChildren(stepKey)
	if err != nil {
		return nil
	}
	result := make([]string, 0, len(children))
	for key := range children {
		result = append(result, key)
	}
	sort.Strings(result)
	return result
}

// Parents 指定Step的上游Step Key（字典序）
func (g *Graph) Parents(stepKey string) []string {
	parents, err := g.dag.GetParents(stepKey)
	if err != nil {
		return nil
	}
	result := make([]string, 0, len(parents))
	for key := range parents {
		result = append(result, key)
	}
	sort.Strings(result)
	return result
}

// TopologicalLevels 计算分层拓扑排序（Kahn算法，对外导出）
// 同层Step之间无依赖，可并行执行；层内按字典序排列保证确定性
func (g *Graph) TopologicalLevels() *TopologicalOrder {
	inDegree := make(map[string]int, len(g.steps))
	for key := range g.steps {
		inDegree[key] = len(g.Parents(key))
	}

	queue := make([]string, 0)
	for key, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, key)
		}
	}
	sort.Strings(queue)

	order := &TopologicalOrder{Levels: make([][]string, 0)}
	for len(queue) > 0 {
		level := queue
		next := make([]string, 0)
		for _, key := range level {
			for _, child := range g.Children(key) {
				inDegree[child]--
				if inDegree[child] == 0 {
					next = append(next, child)
				}
			}
		}
		sort.Strings(next)
		order.Levels = append(order.Levels, level)
		queue = next
	}
	return order
}
