package phrase

import "slices"

// Sentences is an ascending, duplicate-free list of sentence ids.
type Sentences = []uint32

const noVertex = -1

// arc is one substring match: a forward-only cursor over the sentences the
// substring occurs in. A chained arc only holds at a sentence when its source
// vertex holds there too.
type arc struct {
	sentences Sentences
	pos       int
	from      int
	to        int
}

func (a *arc) empty() bool {
	return a.pos >= len(a.sentences)
}

func (a *arc) current() uint32 {
	if a.empty() {
		panic("phrase: current on exhausted arc")
	}
	return a.sentences[a.pos]
}

// seek moves the cursor to the first element >= target at or after start.
func (a *arc) seek(start int, target uint32) {
	if start >= len(a.sentences) {
		a.pos = len(a.sentences)
		return
	}
	i, _ := slices.BinarySearch(a.sentences[start:], target)
	a.pos = start + i
}

func (a *arc) exhaust() {
	a.pos = len(a.sentences)
}

func (g *graph) bindUnconditional(to int, sentences Sentences) {
	g.bind(noVertex, to, sentences)
}

func (g *graph) bindChained(from, to int, sentences Sentences) {
	g.bind(from, to, sentences)
}

func (g *graph) bind(from, to int, sentences Sentences) {
	i := len(g.arcs)
	g.arcs = append(g.arcs, arc{sentences: sentences, from: from, to: to})
	g.vertices[to].addIncoming(i)
}

// advanceArc leaves arc i in one of three states: empty; current == target,
// meaning target is in the intersection; or current > target, meaning nothing
// below current is.
func (g *graph) advanceArc(i int, target uint32) {
	a := &g.arcs[i]
	a.seek(a.pos, target)
	// Leave the source alone when current > target: its intervening values
	// may still serve another outgoing arc.
	if a.from == noVertex || a.empty() || a.current() > target {
		return
	}
	src := &g.vertices[a.from]
	if src.empty() {
		a.exhaust()
		return
	}
	g.advanceVertex(a.from, target)
	if src.empty() {
		a.exhaust()
		return
	}
	if src.current > target {
		a.seek(a.pos+1, src.current)
	}
}
