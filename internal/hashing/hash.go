// Package hashing defines the word and word-range hashes shared by the phrase
// index and the n-gram filter. Both sides must produce identical keys for the
// same word range, so every range hash in the repository is built through
// Rolling or Of.
package hashing

import "github.com/cespare/xxhash/v2"

// Hash is a 64-bit key for a single word or a contiguous run of words.
type Hash = uint64

const golden Hash = 0x9e3779b9

// Word hashes the bytes of one word.
func Word(w string) Hash {
	return xxhash.Sum64String(w)
}

// Combine folds h into seed. Order matters: Combine(Combine(0, a), b) differs
// from Combine(Combine(0, b), a).
func Combine(seed, h Hash) Hash {
	return seed ^ (h + golden + (seed << 6) + (seed >> 2))
}

// Rolling extends a range hash one word at a time. The zero value is the
// hash of the empty range.
type Rolling struct {
	sum Hash
}

// Reset returns r to the empty range.
func (r *Rolling) Reset() {
	r.sum = 0
}

// Add appends one word hash to the range and returns the new range hash.
func (r *Rolling) Add(h Hash) Hash {
	r.sum = Combine(r.sum, h)
	return r.sum
}

// Sum returns the hash of the range accumulated so far.
func (r *Rolling) Sum() Hash {
	return r.sum
}

// Of hashes a whole range at once.
func Of(words []Hash) Hash {
	var r Rolling
	for _, w := range words {
		r.Add(w)
	}
	return r.Sum()
}

// Words hashes each word of a phrase into dst and returns it.
func Words(dst []Hash, words []string) []Hash {
	dst = dst[:0]
	for _, w := range words {
		dst = append(dst, Word(w))
	}
	return dst
}
