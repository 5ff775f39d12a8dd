package task

import (
	"container/heap"
	"sort"
)

// check verifies prerequisites and acyclicity and returns a deterministic
// topological order. The caller holds the write lock.
func (g *Graph) check() ([]string, error) {
	names := make([]string, 0, len(g.tasks))
	for name := range g.tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	index := make(map[string]int, len(names))
	for i, name := range names {
		index[name] = i
	}

	// requires[i] lists the prerequisites of task i; dependents is the
	// reverse relation used for Kahn's algorithm.
	requires := make([][]int, len(names))
	dependents := make([][]int, len(names))
	indeg := make([]int, len(names))
	for i, name := range names {
		for _, p := range g.tasks[name].Prerequisites {
			j, ok := index[p]
			if !ok {
				return nil, graphErrorf(ErrUnknownTask, "task %q requires unknown task %q", name, p)
			}
			requires[i] = append(requires[i], j)
			dependents[j] = append(dependents[j], i)
			indeg[i]++
		}
	}
	for i := range requires {
		sort.Ints(requires[i])
		sort.Ints(dependents[i])
	}

	order := topoOrder(indeg, dependents)
	if len(order) != len(names) {
		return nil, cycleError(findCycle(names, requires))
	}

	out := make([]string, len(order))
	for i, idx := range order {
		out[i] = names[idx]
	}
	return out, nil
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrder runs Kahn's algorithm with a min-heap ready queue so the
// order only depends on the sorted task names.
func topoOrder(indeg []int, dependents [][]int) []int {
	remaining := make([]int, len(indeg))
	copy(remaining, indeg)

	ready := &intMinHeap{}
	for i := range remaining {
		if remaining[i] == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(remaining))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range dependents[n] {
			remaining[m]--
			if remaining[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// findCycle walks the requires edges depth first in index order and
// returns one cycle, first task repeated at the end.
func findCycle(names []string, requires [][]int) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make([]int, len(names))
	parent := make([]int, len(names))
	for i := range parent {
		parent[i] = -1
	}

	var cycle []int

	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range requires[u] {
			if color[v] == white {
				parent[v] = u
				if dfs(v) {
					return true
				}
				continue
			}
			if color[v] == gray {
				// Back edge u -> v: walk parents from u back to v.
				cycle = append(cycle, v)
				for cur := u; cur != -1 && cur != v; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for i := range names {
		if color[i] == white && dfs(i) {
			break
		}
	}

	out := make([]string, len(cycle))
	for i := range cycle {
		out[i] = names[cycle[len(cycle)-1-i]]
	}
	return out
}
