package filter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/internal/ngram"
	apperrors "github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/metrics"
)

const (
	dataMarker = `\data\`
	endMarker  = `\end\`

	// countWidth is the zero-padded width of every header count, so the
	// header can be patched in place once the kept counts are known.
	countWidth = 20

	maxLineSize = 16 << 20
)

// Options sizes the ARPA filtering pipeline. Zero values pick defaults.
type Options struct {
	Workers   int
	BatchSize int
	Metrics   *metrics.Metrics
}

// Counts reports per-order entry counts, index 0 holding unigrams.
type Counts struct {
	Declared []uint64
	Kept     []uint64
}

func (c Counts) Dropped() uint64 {
	var n uint64
	for i := range c.Declared {
		n += c.Declared[i] - c.Kept[i]
	}
	return n
}

type entry struct {
	line  string
	words []string
}

// FilterARPA copies the ARPA model read from r to w, keeping only the
// entries pass accepts. The unknown-word unigram is always kept. The
// header written to w carries zero counts of fixed width; callers that can
// seek should rewrite it with PatchHeader(w, counts.Kept).
func FilterARPA(ctx context.Context, r io.Reader, w io.Writer, pass Predicate, opts Options) (Counts, error) {
	if opts.Workers < 1 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 1024
	}
	f := &arpaFilter{
		in:     newLineReader(r),
		out:    bufio.NewWriter(w),
		pass:   pass,
		opts:   opts,
		logger: slog.Default().With("component", "arpa-filter"),
	}

	declared, err := f.readHeader()
	if err != nil {
		return Counts{}, err
	}
	counts := Counts{Declared: declared, Kept: make([]uint64, len(declared))}
	f.out.WriteString(dataMarker + "\n")
	for order := 1; order <= len(declared); order++ {
		f.out.WriteString(headerLine(order, 0))
	}
	f.out.WriteString("\n")

	for order := 1; order <= len(declared); order++ {
		kept, err := f.filterSection(ctx, order, declared[order-1])
		if err != nil {
			return counts, err
		}
		counts.Kept[order-1] = kept
	}

	line, ok, err := f.in.nextNonBlank()
	if err != nil {
		return counts, err
	}
	if !ok || line != endMarker {
		return counts, f.malformed("expected %s", endMarker)
	}
	f.out.WriteString(endMarker + "\n")
	if err := f.out.Flush(); err != nil {
		return counts, fmt.Errorf("writing filtered model: %w", err)
	}
	return counts, nil
}

// PatchHeader overwrites the header counts written by FilterARPA.
func PatchHeader(w io.WriterAt, kept []uint64) error {
	off := int64(len(dataMarker) + 1)
	for i, count := range kept {
		line := headerLine(i+1, count)
		if _, err := w.WriteAt([]byte(line), off); err != nil {
			return fmt.Errorf("patching count for order %d: %w", i+1, err)
		}
		off += int64(len(line))
	}
	return nil
}

func headerLine(order int, count uint64) string {
	return fmt.Sprintf("ngram %d=%0*d\n", order, countWidth, count)
}

type arpaFilter struct {
	in     *lineReader
	out    *bufio.Writer
	pass   Predicate
	opts   Options
	logger *slog.Logger
}

func (f *arpaFilter) malformed(format string, args ...any) error {
	return apperrors.Newf(apperrors.ErrMalformedARPA, apperrors.ExitBadInput,
		"line %d: %s", f.in.line, fmt.Sprintf(format, args...))
}

func (f *arpaFilter) readHeader() ([]uint64, error) {
	line, ok, err := f.in.nextNonBlank()
	if err != nil {
		return nil, err
	}
	if !ok || line != dataMarker {
		return nil, f.malformed("expected %s", dataMarker)
	}
	var counts []uint64
	for {
		line, ok, err := f.in.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, f.malformed("unexpected end of file in header")
		}
		if strings.TrimSpace(line) == "" {
			break
		}
		if strings.HasPrefix(line, `\`) {
			f.in.unread()
			break
		}
		rest, found := strings.CutPrefix(line, "ngram ")
		if !found {
			return nil, f.malformed("expected ngram count, got %q", line)
		}
		orderText, countText, found := strings.Cut(rest, "=")
		if !found {
			return nil, f.malformed("expected ngram count, got %q", line)
		}
		order, err := strconv.Atoi(strings.TrimSpace(orderText))
		if err != nil || order != len(counts)+1 {
			return nil, f.malformed("ngram order %q out of sequence", orderText)
		}
		count, err := strconv.ParseUint(strings.TrimSpace(countText), 10, 64)
		if err != nil {
			return nil, f.malformed("bad count %q", countText)
		}
		counts = append(counts, count)
	}
	if len(counts) == 0 {
		return nil, f.malformed("header declares no ngram orders")
	}
	return counts, nil
}

func (f *arpaFilter) filterSection(ctx context.Context, order int, declared uint64) (uint64, error) {
	line, ok, err := f.in.nextNonBlank()
	if err != nil {
		return 0, err
	}
	want := fmt.Sprintf(`\%d-grams:`, order)
	if !ok || line != want {
		return 0, f.malformed("expected %s", want)
	}
	f.out.WriteString(want + "\n")

	var seen, kept uint64
	batch := make([]entry, 0, f.opts.BatchSize)
	keep := make([]bool, f.opts.BatchSize)
	flush := func() error {
		if err := f.evaluate(ctx, order, batch, keep[:len(batch)]); err != nil {
			return err
		}
		for i, e := range batch {
			if keep[i] {
				f.out.WriteString(e.line)
				f.out.WriteByte('\n')
				kept++
			}
		}
		batch = batch[:0]
		return nil
	}

	for {
		line, ok, err := f.in.next()
		if err != nil {
			return 0, err
		}
		if !ok || strings.TrimSpace(line) == "" {
			break
		}
		if strings.HasPrefix(line, `\`) {
			f.in.unread()
			break
		}
		e, err := f.parseEntry(order, line)
		if err != nil {
			return 0, err
		}
		seen++
		batch = append(batch, e)
		if len(batch) == f.opts.BatchSize {
			if err := flush(); err != nil {
				return 0, err
			}
		}
	}
	if err := flush(); err != nil {
		return 0, err
	}
	if seen != declared {
		return 0, f.malformed("%d-grams section has %d entries, header declares %d", order, seen, declared)
	}
	f.out.WriteString("\n")

	if m := f.opts.Metrics; m != nil {
		m.ARPASections.WithLabelValues(orderLabel(order), "kept").Add(float64(kept))
		m.ARPASections.WithLabelValues(orderLabel(order), "dropped").Add(float64(seen - kept))
	}
	f.logger.Info("section filtered", "order", order, "declared", declared, "kept", kept)
	return kept, nil
}

func (f *arpaFilter) parseEntry(order int, line string) (entry, error) {
	prob, rest, found := strings.Cut(line, "\t")
	if !found {
		return entry{}, f.malformed("expected tab-separated entry")
	}
	if _, err := strconv.ParseFloat(prob, 32); err != nil {
		return entry{}, f.malformed("bad probability %q", prob)
	}
	text, _, _ := strings.Cut(rest, "\t")
	words := ngram.Tokenize(text)
	if len(words) != order {
		return entry{}, f.malformed("%d-gram entry has %d words", order, len(words))
	}
	return entry{line: line, words: words}, nil
}

// evaluate fills keep for batch, splitting it across the worker pool.
func (f *arpaFilter) evaluate(ctx context.Context, order int, batch []entry, keep []bool) error {
	if len(batch) == 0 {
		return ctx.Err()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Workers)
	chunk := (len(batch) + f.opts.Workers - 1) / f.opts.Workers
	for start := 0; start < len(batch); start += chunk {
		end := min(start+chunk, len(batch))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				words := batch[i].words
				keep[i] = (order == 1 && words[0] == ngram.Unknown) || f.pass.PassNGram(words)
			}
			return nil
		})
	}
	return g.Wait()
}

// lineReader yields lines without their terminators and allows one line of
// push-back.
type lineReader struct {
	sc       *bufio.Scanner
	line     int
	text     string
	pushback bool
}

func newLineReader(r io.Reader) *lineReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &lineReader{sc: sc}
}

func (l *lineReader) next() (string, bool, error) {
	if l.pushback {
		l.pushback = false
		return l.text, true, nil
	}
	if !l.sc.Scan() {
		if err := l.sc.Err(); err != nil {
			return "", false, fmt.Errorf("reading arpa line %d: %w", l.line+1, err)
		}
		return "", false, nil
	}
	l.line++
	l.text = strings.TrimRight(l.sc.Text(), "\r")
	return l.text, true, nil
}

func (l *lineReader) nextNonBlank() (string, bool, error) {
	for {
		line, ok, err := l.next()
		if err != nil || !ok || strings.TrimSpace(line) != "" {
			return line, ok, err
		}
	}
}

func (l *lineReader) unread() {
	l.pushback = true
}
