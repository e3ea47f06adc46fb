package substrings

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strings"
	"unicode"

	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/internal/hashing"
	apperrors "github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/errors"
)

const maxLineBytes = 16 << 20

// ReadMultiple loads a phrase file into out: one sentence per line, phrases
// separated by tabs (or any whitespace other than a space), words separated
// by spaces. Lines without any words do not consume a sentence id. It
// returns the number of sentences read.
func ReadMultiple(r io.Reader, out *Index) (uint32, error) {
	return readMultipleFrom(r, out, 0)
}

// readMultipleFrom numbers sentences from first. The largest usable id is
// math.MaxUint32-1 so that Sentences still fits in a uint32.
func readMultipleFrom(r io.Reader, out *Index, first uint32) (uint32, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	sentence := first
	var hashes []hashing.Hash
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		content := false
		for _, phrase := range splitPhrases(scanner.Text()) {
			hashes = hashing.Words(hashes, strings.Fields(phrase))
			if len(hashes) == 0 {
				continue
			}
			if sentence == math.MaxUint32 {
				return sentence, fmt.Errorf("line %d: more than %d sentences: %w", lineNo, uint32(math.MaxUint32), apperrors.ErrInvalidInput)
			}
			content = true
			if err := out.AddPhrase(hashes, sentence); err != nil {
				return sentence, fmt.Errorf("line %d: %w", lineNo, err)
			}
		}
		if content {
			sentence++
		}
	}
	if err := scanner.Err(); err != nil {
		return sentence, fmt.Errorf("reading phrases at line %d: %w", lineNo+1, err)
	}
	return sentence, nil
}

func splitPhrases(line string) []string {
	return strings.FieldsFunc(line, func(r rune) bool {
		return r != ' ' && unicode.IsSpace(r)
	})
}
