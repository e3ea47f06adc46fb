// Package ngram turns n-gram text into the word hashes the phrase filter
// evaluates.
package ngram

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/internal/hashing"
)

// EndSentence is the end-of-sentence marker. Nothing after it is hashed.
const EndSentence = "</s>"

// Unknown is the model's unknown-word token.
const Unknown = "<unk>"

// Tokenize splits an n-gram on spaces and tabs.
func Tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == ' ' || r == '\t'
	})
}

// IsTag reports whether word is a markup token such as <s> or </s>.
func IsTag(word string) bool {
	return len(word) >= 3 && word[0] == '<' && word[len(word)-1] == '>'
}

// Hashes appends the hashes of the words the filter should check to dst[:0].
// One leading tag is skipped and hashing stops at the end-of-sentence
// marker, so "<s> a b </s>" hashes as "a b". The result is empty when no
// words remain.
func Hashes(words []string, dst []hashing.Hash) []hashing.Hash {
	dst = dst[:0]
	if len(words) > 0 && IsTag(words[0]) {
		words = words[1:]
	}
	for _, w := range words {
		if w == EndSentence {
			break
		}
		dst = append(dst, hashing.Word(w))
	}
	return dst
}
