package phrase

import (
	"sync"

	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/internal/hashing"
)

// Index answers the four range lookups the graph is built from. A lookup
// reports false when the key is not a substring of any indexed phrase; a
// found key may still carry an empty list. Implementations must be safe for
// concurrent reads.
type Index interface {
	// FindRight returns sentences with a phrase ending in the key.
	FindRight(key hashing.Hash) (Sentences, bool)
	// FindSubstring returns sentences with a phrase containing the key.
	FindSubstring(key hashing.Hash) (Sentences, bool)
	// FindPhrase returns sentences with a phrase equal to the key.
	FindPhrase(key hashing.Hash) (Sentences, bool)
	// FindLeft returns sentences with a phrase starting with the key.
	FindLeft(key hashing.Hash) (Sentences, bool)
}

// graph is the per-evaluation arena. Vertex j means words 0..j are covered.
type graph struct {
	vertices []vertex
	arcs     []arc
}

var graphPool = sync.Pool{
	New: func() any { return new(graph) },
}

func acquireGraph(n int) *graph {
	g := graphPool.Get().(*graph)
	g.reset(n)
	return g
}

func releaseGraph(g *graph) {
	for i := range g.arcs {
		g.arcs[i].sentences = nil
	}
	graphPool.Put(g)
}

// reset sizes the arena for an n-word n-gram: n vertices and one arc slot
// per contiguous substring.
func (g *graph) reset(n int) {
	arcSlots := n * (n + 1) / 2
	if cap(g.arcs) < arcSlots {
		g.arcs = make([]arc, 0, arcSlots)
	}
	g.arcs = g.arcs[:0]
	if cap(g.vertices) < n {
		g.vertices = make([]vertex, n)
	}
	g.vertices = g.vertices[:n]
	for i := range g.vertices {
		v := &g.vertices[i]
		v.current = 0
		v.incoming.g = g
		v.incoming.idx = v.incoming.idx[:0]
	}
}

// build wires one arc per substring match. Both passes stop at the first
// miss: a range that is not a substring of any phrase has no extension that
// is.
func (g *graph) build(index Index, hashes []hashing.Hash) {
	if len(hashes) == 0 {
		panic("phrase: empty n-gram")
	}
	last := len(hashes) - 1
	var roll hashing.Rolling

	// Phrases starting at or before the first word.
	for to := 0; ; to++ {
		key := roll.Add(hashes[to])
		if to == last {
			if found, ok := index.FindSubstring(key); ok {
				g.bindUnconditional(to, found)
			}
			break
		}
		found, ok := index.FindRight(key)
		if !ok {
			break
		}
		g.bindUnconditional(to, found)
	}

	// Phrases starting at the second word or later.
	for start := 1; start <= last; start++ {
		roll.Reset()
		for to := start; ; to++ {
			key := roll.Add(hashes[to])
			if to == last {
				if found, ok := index.FindLeft(key); ok {
					g.bindChained(start-1, to, found)
				}
				break
			}
			found, ok := index.FindPhrase(key)
			if !ok {
				break
			}
			g.bindChained(start-1, to, found)
		}
	}
}
