// Package filter decides which language-model n-grams survive filtering
// against a phrase index, and applies that decision to whole ARPA files.
package filter

import (
	"strconv"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/internal/hashing"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/internal/ngram"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/internal/phrase"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/metrics"
)

// Predicate decides whether an n-gram is kept. Implementations must be safe
// for concurrent use.
type Predicate interface {
	PassNGram(words []string) bool
}

// PredicateFunc adapts a function to Predicate.
type PredicateFunc func(words []string) bool

func (f PredicateFunc) PassNGram(words []string) bool { return f(words) }

// Union keeps an n-gram when some sentence of the phrase index can
// reassemble it from adjacent phrase fragments.
type Union struct {
	index   phrase.Index
	buffers sync.Pool
}

func NewUnion(index phrase.Index) *Union {
	return &Union{
		index: index,
		buffers: sync.Pool{
			New: func() any {
				buf := make([]hashing.Hash, 0, 8)
				return &buf
			},
		},
	}
}

// PassNGram reports whether words should be kept. N-grams made only of
// sentence markers always pass.
func (u *Union) PassNGram(words []string) bool {
	_, ok := u.Witness(words)
	return ok
}

// Witness is PassNGram that also returns the smallest sentence id that
// covers the n-gram. The id is zero when the n-gram passes trivially.
func (u *Union) Witness(words []string) (uint32, bool) {
	buf := u.buffers.Get().(*[]hashing.Hash)
	defer u.buffers.Put(buf)
	*buf = ngram.Hashes(words, *buf)
	if len(*buf) == 0 {
		return 0, true
	}
	return phrase.Evaluate(u.index, *buf)
}

// Observe wraps p so every verdict is counted and timed.
func Observe(p Predicate, m *metrics.Metrics) Predicate {
	if m == nil {
		return p
	}
	return PredicateFunc(func(words []string) bool {
		start := time.Now()
		ok := p.PassNGram(words)
		m.EvaluateLatency.Observe(time.Since(start).Seconds())
		m.NGramsEvaluated.WithLabelValues(verdictLabel(ok)).Inc()
		return ok
	})
}

func verdictLabel(kept bool) string {
	if kept {
		return "kept"
	}
	return "dropped"
}

func orderLabel(order int) string {
	return strconv.Itoa(order)
}
