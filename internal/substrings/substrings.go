// Package substrings indexes every contiguous substring of a set of phrases,
// grouped by the corpus sentence the phrases came from. It answers the range
// lookups the phrase filter builds its graph from.
package substrings

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/internal/hashing"
	apperrors "github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/errors"
)

// Relation holds four ascending sentence lists for one range key:
// Substring where some phrase contains the key, Left where a phrase starts
// with it, Right where a phrase ends with it, Phrase where a phrase is it.
// Hash collisions merge relations, which only makes the filter more
// permissive.
type Relation struct {
	Substring []uint32
	Left      []uint32
	Right     []uint32
	Phrase    []uint32
}

// Entry is one key of a Snapshot.
type Entry struct {
	Key      hashing.Hash
	Relation Relation
}

type Index struct {
	mu          sync.RWMutex
	table       map[hashing.Hash]*Relation
	sentences   uint32
	frozen      bool
	fingerprint uint64
}

func New() *Index {
	return &Index{
		table: make(map[hashing.Hash]*Relation),
	}
}

// AddPhrase records every substring of phrase as occurring in sentence.
func (x *Index) AddPhrase(phrase []hashing.Hash, sentence uint32) error {
	if len(phrase) == 0 {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.frozen {
		return fmt.Errorf("adding phrase to sentence %d: %w", sentence, apperrors.ErrIndexFrozen)
	}
	last := len(phrase) - 1
	var roll hashing.Rolling
	for begin := 0; begin <= last; begin++ {
		roll.Reset()
		for end := begin; end <= last; end++ {
			rel := x.relation(roll.Add(phrase[end]))
			rel.Substring = insert(rel.Substring, sentence)
			if begin == 0 {
				rel.Left = insert(rel.Left, sentence)
			}
			if end == last {
				rel.Right = insert(rel.Right, sentence)
			}
			if begin == 0 && end == last {
				rel.Phrase = insert(rel.Phrase, sentence)
			}
		}
	}
	if sentence >= x.sentences {
		x.sentences = sentence + 1
	}
	return nil
}

func (x *Index) relation(key hashing.Hash) *Relation {
	rel, ok := x.table[key]
	if !ok {
		rel = &Relation{}
		x.table[key] = rel
	}
	return rel
}

// insert keeps list ascending and duplicate-free. Sentences normally arrive
// in order, so the append path is the common one.
func insert(list []uint32, sentence uint32) []uint32 {
	n := len(list)
	if n == 0 || list[n-1] < sentence {
		return append(list, sentence)
	}
	i, found := slices.BinarySearch(list, sentence)
	if found {
		return list
	}
	return slices.Insert(list, i, sentence)
}

// Freeze ends the build phase. Later AddPhrase calls fail.
func (x *Index) Freeze() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.frozen {
		return
	}
	x.frozen = true
	x.fingerprint = x.digest()
}

func (x *Index) digest() uint64 {
	d := xxhash.New()
	var buf [8]byte
	put := func(v uint64) {
		for i := range buf {
			buf[i] = byte(v >> (8 * i))
		}
		d.Write(buf[:])
	}
	for _, e := range x.entries() {
		put(e.Key)
		for _, list := range [][]uint32{e.Relation.Substring, e.Relation.Left, e.Relation.Right, e.Relation.Phrase} {
			put(uint64(len(list)))
			for _, s := range list {
				put(uint64(s))
			}
		}
	}
	return d.Sum64()
}

// Fingerprint identifies the frozen contents of the index. It is zero until
// Freeze is called.
func (x *Index) Fingerprint() uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.fingerprint
}

func (x *Index) Frozen() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.frozen
}

func (x *Index) find(key hashing.Hash) (*Relation, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	rel, ok := x.table[key]
	return rel, ok
}

func (x *Index) FindSubstring(key hashing.Hash) ([]uint32, bool) {
	rel, ok := x.find(key)
	if !ok {
		return nil, false
	}
	return rel.Substring, true
}

func (x *Index) FindLeft(key hashing.Hash) ([]uint32, bool) {
	rel, ok := x.find(key)
	if !ok {
		return nil, false
	}
	return rel.Left, true
}

func (x *Index) FindRight(key hashing.Hash) ([]uint32, bool) {
	rel, ok := x.find(key)
	if !ok {
		return nil, false
	}
	return rel.Right, true
}

func (x *Index) FindPhrase(key hashing.Hash) ([]uint32, bool) {
	rel, ok := x.find(key)
	if !ok {
		return nil, false
	}
	return rel.Phrase, true
}

// Keys returns the number of distinct range keys.
func (x *Index) Keys() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.table)
}

// Sentences returns one more than the largest sentence id added.
func (x *Index) Sentences() uint32 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.sentences
}

// Snapshot returns all entries ordered by key.
func (x *Index) Snapshot() []Entry {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.entries()
}

func (x *Index) entries() []Entry {
	entries := make([]Entry, 0, len(x.table))
	for key, rel := range x.table {
		entries = append(entries, Entry{Key: key, Relation: *rel})
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		return cmp.Compare(a.Key, b.Key)
	})
	return entries
}

// restore installs a decoded entry. Used when loading snapshots.
func (x *Index) restore(e Entry, sentences uint32) {
	x.mu.Lock()
	defer x.mu.Unlock()
	rel := e.Relation
	x.table[e.Key] = &rel
	if sentences > x.sentences {
		x.sentences = sentences
	}
}
