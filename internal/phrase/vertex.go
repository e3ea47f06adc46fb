package phrase

import "container/heap"

// vertex is a boundary in the n-gram. It is the union of its incoming arcs:
// it holds at a sentence when any incoming arc does.
type vertex struct {
	current  uint32
	incoming arcHeap
}

// arcHeap is a min-heap of arc indices keyed on each arc's current value.
// An arc's key only changes while it is popped.
type arcHeap struct {
	g   *graph
	idx []int
}

func (h *arcHeap) Len() int { return len(h.idx) }

func (h *arcHeap) Less(i, j int) bool {
	return h.g.arcs[h.idx[i]].current() < h.g.arcs[h.idx[j]].current()
}

func (h *arcHeap) Swap(i, j int) { h.idx[i], h.idx[j] = h.idx[j], h.idx[i] }

func (h *arcHeap) Push(x any) { h.idx = append(h.idx, x.(int)) }

func (h *arcHeap) Pop() any {
	n := len(h.idx) - 1
	x := h.idx[n]
	h.idx = h.idx[:n]
	return x
}

func (v *vertex) empty() bool {
	return len(v.incoming.idx) == 0
}

func (v *vertex) addIncoming(i int) {
	if v.incoming.g.arcs[i].empty() {
		return
	}
	heap.Push(&v.incoming, i)
}

// advanceVertex computes the union lower bound of vertex i at target.
// Precondition: the vertex is not empty.
func (g *graph) advanceVertex(i int, target uint32) {
	v := &g.vertices[i]
	if v.empty() {
		panic("phrase: advance on exhausted vertex")
	}
	for {
		top := v.incoming.idx[0]
		if cur := g.arcs[top].current(); cur > target {
			v.current = cur
			return
		}
		// current == target is only a bound until the arc confirms it.
		heap.Pop(&v.incoming)
		g.advanceArc(top, target)
		if !g.arcs[top].empty() {
			heap.Push(&v.incoming, top)
			if g.arcs[top].current() == target {
				v.current = target
				return
			}
		} else if v.empty() {
			return
		}
	}
}
