package graph

import "github.com/dreamware/atlas/internal/ids"

// blocked is the sentinel lowlink value used to mark a vertex (and, via the
// usual lowlink-propagation rule, every ancestor on its current DFS path)
// as unable to close into a complete SCC this pass: it depends, directly or
// transitively through tree edges, on a dot this shard hasn't indexed yet.
// Tarjan's real indices start at 0, so -1 can never collide with one and
// can never equal a vertex's own index, guaranteeing such a vertex never
// satisfies the low == index completion test.
const blocked = -1

// tarjanFrame is one stack frame of the iterative DFS: the dot being
// visited, its (already-resolved) neighbor list, and how far through it the
// frame has gotten.
type tarjanFrame struct {
	dot       ids.Dot
	neighbors []ids.Dot
	next      int
}

// tarjanRun holds the scratch state for one Tarjan pass. A fresh tarjanRun
// is created for every findSCC call — Tarjan state never persists across
// calls, since the set of vertices worth visiting (everything still in
// vertexIndex) changes between calls anyway.
type tarjanRun struct {
	exec    *Executor
	index   map[ids.Dot]int
	low     map[ids.Dot]int
	onStack map[ids.Dot]bool
	stack   []ids.Dot
	counter int
	sccs    [][]ids.Dot
}

func newTarjanRun(exec *Executor) *tarjanRun {
	return &tarjanRun{
		exec:    exec,
		index:   make(map[ids.Dot]int),
		low:     make(map[ids.Dot]int),
		onStack: make(map[ids.Dot]bool),
	}
}

// run performs an iterative Tarjan DFS starting at start and returns any
// completed SCCs (in discovery order, which is already a valid partial
// topological release order: the earliest SCC to close has no outstanding
// edges to anything not yet visited).
func (t *tarjanRun) run(start ids.Dot) [][]ids.Dot {
	if _, ok := t.exec.vertexIndex.Find(start); !ok {
		// Already executed, or not ours to resolve — nothing to do.
		return nil
	}
	if _, seen := t.index[start]; seen {
		return nil
	}

	frames := []*tarjanFrame{t.visit(start)}
	for len(frames) > 0 {
		top := frames[len(frames)-1]

		if top.next < len(top.neighbors) {
			w := top.neighbors[top.next]
			top.next++

			if _, seen := t.index[w]; !seen {
				frames = append(frames, t.visit(w))
				continue
			}
			if t.onStack[w] && t.index[w] < t.low[top.dot] {
				t.low[top.dot] = t.index[w]
			}
			continue
		}

		// All neighbors explored; pop and propagate lowlink to the parent.
		frames = frames[:len(frames)-1]
		if len(frames) > 0 {
			parent := frames[len(frames)-1]
			if t.low[top.dot] < t.low[parent.dot] {
				t.low[parent.dot] = t.low[top.dot]
			}
		}

		if t.low[top.dot] != t.index[top.dot] {
			continue
		}

		var scc []ids.Dot
		for {
			d := t.stack[len(t.stack)-1]
			t.stack = t.stack[:len(t.stack)-1]
			t.onStack[d] = false
			scc = append(scc, d)
			if d == top.dot {
				break
			}
		}
		t.sccs = append(t.sccs, scc)
	}
	return t.sccs
}

// visit opens a new frame for dot, computing its (already-indexed)
// neighbors and registering any still-missing dependency with the pending
// index (queuing an outbound Request when owed).
func (t *tarjanRun) visit(dot ids.Dot) *tarjanFrame {
	t.index[dot] = t.counter
	t.low[dot] = t.counter
	t.counter++
	t.stack = append(t.stack, dot)
	t.onStack[dot] = true

	v, _ := t.exec.vertexIndex.Find(dot)
	var neighbors []ids.Dot
	anyMissing := false
	for dep := range v.Deps {
		if t.exec.executedClock.Contains(dep) {
			continue
		}
		if _, found := t.exec.vertexIndex.Find(dep); found {
			neighbors = append(neighbors, dep)
			continue
		}
		anyMissing = true
		target, needsRequest := t.exec.pendingIndex.Index(dep, dot)
		if needsRequest {
			t.exec.queueRequest(target, dep)
		}
	}
	if anyMissing {
		t.low[dot] = blocked
	}
	return &tarjanFrame{dot: dot, neighbors: neighbors}
}
