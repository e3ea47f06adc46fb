// Package phrase decides whether an n-gram can be reassembled from indexed
// phrase fragments that all occur in one corpus sentence.
//
// The n-gram's boundaries form a small DAG. Arcs carry the sorted sentence
// lists of matching fragments; a chained arc intersects its list with its
// source vertex, and each vertex takes the union of its incoming arcs. The
// evaluator walks lower bounds through this DAG with forward-only cursors
// instead of materialising any intersection or union.
package phrase

import "github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/internal/hashing"

// EvaluateUnion reports whether some sentence covers the whole n-gram with a
// chain of adjacent indexed fragments. hashes must not be empty.
func EvaluateUnion(index Index, hashes []hashing.Hash) bool {
	_, ok := Evaluate(index, hashes)
	return ok
}

// Evaluate is EvaluateUnion that also returns the witness sentence id. The
// witness is the smallest sentence id that covers the n-gram.
func Evaluate(index Index, hashes []hashing.Hash) (uint32, bool) {
	if len(hashes) == 0 {
		panic("phrase: empty n-gram")
	}
	g := acquireGraph(len(hashes))
	defer releaseGraph(g)
	g.build(index, hashes)

	terminal := len(hashes) - 1
	end := &g.vertices[terminal]
	if end.empty() {
		return 0, false
	}
	var lower uint32
	for {
		g.advanceVertex(terminal, lower)
		if end.empty() {
			return 0, false
		}
		if end.current == lower {
			return lower, true
		}
		lower = end.current
	}
}
