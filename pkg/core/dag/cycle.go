package dag

import (
	"sort"

	"github.com/LENAX/automation-engine/pkg/core/task"
)

// 三色标记：白=未访问，灰=在当前DFS路径上，黑=已访问完成
const (
	colorWhite = 0
	colorGray  = 1
	colorBlack = 2
)

// DetectCycle 检测边集构成的有向图中是否存在循环（对外导出）
// 返回找到的第一个最小循环路径（自环 A→A 返回 [A]），无环返回nil。
// 使用显式栈的三色DFS，入口节点按字典序遍历，结果与入口无关且确定。
func DetectCycle(edges []task.CompositeTaskEdge) []string {
	adjacency := buildAdjacency(edges)

	nodes := make([]string, 0, len(adjacency))
	for node := range adjacency {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)

	color := make(map[string]int, len(adjacency))

	// frame 显式DFS栈帧：node为当前节点，next为下一条待访问出边的下标
	type frame struct {
		node string
		next int
	}

	for _, start := range nodes {
		if color[start] != colorWhite {
			continue
		}

		stack := []frame{{node: start}}
		path := []string{start} // 当前灰色路径，与栈同步
		color[start] = colorGray

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			children := adjacency[top.node]

			if top.next < len(children) {
				child := children[top.next]
				top.next++

				switch color[child] {
				case colorWhite:
					color[child] = colorGray
					stack = append(stack, frame{node: child})
					path = append(path, child)
				case colorGray:
					// 回到灰色节点：当前路径中从child到栈顶即为最小循环
					for i, node := range path {
						if node == child {
							cycle := make([]string, len(path)-i)
							copy(cycle, path[i:])
							return cycle
						}
					}
				}
				// 黑色节点无需处理
				continue
			}

			// 出边遍历完毕，出栈并标黑
			color[top.node] = colorBlack
			stack = stack[:len(stack)-1]
			path = path[:len(path)-1]
		}
	}

	return nil
}

// buildAdjacency 由边集构建邻接表，出边按字典序排序保证确定性
func buildAdjacency(edges []task.CompositeTaskEdge) map[string][]string {
	adjacency := make(map[string][]string)
	for _, edge := range edges {
		if _, exists := adjacency[edge.FromStepKey]; !exists {
			adjacency[edge.FromStepKey] = make([]string, 0, 1)
		}
		if _, exists := adjacency[edge.ToStepKey]; !exists {
			adjacency[edge.ToStepKey] = make([]string, 0)
		}
		adjacency[edge.FromStepKey] = append(adjacency[edge.FromStepKey], edge.ToStepKey)
	}
	for node := range adjacency {
		sort.Strings(adjacency[node])
	}
	return adjacency
}
