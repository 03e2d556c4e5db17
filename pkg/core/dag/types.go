package dag

// TopologicalOrder 拓扑排序结果（对外导出）
// 每一层的Step可以并行执行
type TopologicalOrder struct {
	Levels [][]string
}

// StepKeys 按层序展开所有Step Key
func (o *TopologicalOrder) StepKeys() []string {
	keys := make([]string, 0)
	for _, level := range o.Levels {
		keys = append(keys, level...)
	}
	return keys
}
