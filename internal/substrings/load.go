package substrings

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/internal/stream"
	apperrors "github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/errors"
)

// LoadPhrases builds a frozen index from a phrase file, streaming it through
// a block chain.
func LoadPhrases(ctx context.Context, path string, cfg stream.ChainConfig) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening phrase file: %w", err)
	}
	defer f.Close()

	idx := New()
	c := stream.NewChain(cfg)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return stream.NewRead(f).Run(gctx, c) })
	g.Go(func() error {
		r := stream.NewChainReader(gctx, c)
		defer r.Close()
		_, err := ReadMultiple(r, idx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("loading phrases from %s: %w", path, err)
	}
	idx.Freeze()
	return idx, nil
}

// Load opens snapshotPath when it is set and otherwise builds the index
// from phrasesPath.
func Load(ctx context.Context, phrasesPath, snapshotPath string, cfg stream.ChainConfig) (*Index, error) {
	start := time.Now()
	var (
		idx    *Index
		err    error
		source string
	)
	switch {
	case snapshotPath != "":
		source = snapshotPath
		idx, err = OpenSnapshot(ctx, snapshotPath, cfg)
	case phrasesPath != "":
		source = phrasesPath
		idx, err = LoadPhrases(ctx, phrasesPath, cfg)
	default:
		return nil, apperrors.New(apperrors.ErrInvalidInput, apperrors.ExitUsage, "no phrase file or snapshot given")
	}
	if err != nil {
		return nil, err
	}
	slog.Info("phrase index loaded",
		"source", source,
		"keys", idx.Keys(),
		"sentences", idx.Sentences(),
		"fingerprint", fmt.Sprintf("%016x", idx.Fingerprint()),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return idx, nil
}
