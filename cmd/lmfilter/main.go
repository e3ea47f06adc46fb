package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/internal/stream"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/internal/substrings"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/tracing"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	phrasesPath := flag.String("phrases", "", "phrase file, one sentence per line")
	snapshotPath := flag.String("snapshot", "", "phrase snapshot written by phraseindex")
	inPath := flag.String("in", "", "ARPA model to filter, - for stdin")
	outPath := flag.String("out", "", "filtered ARPA model")
	workers := flag.Int("workers", 0, "evaluation goroutines (default from config)")
	batch := flag.Int("batch", 0, "n-grams per evaluation batch (default from config)")
	metricsPort := flag.Int("metrics-port", 0, "serve /metrics on this port while filtering")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(apperrors.ExitUsage)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if *phrasesPath != "" {
		cfg.Filter.PhrasesPath = *phrasesPath
	}
	if *snapshotPath != "" {
		cfg.Filter.SnapshotPath = *snapshotPath
	}
	if *workers > 0 {
		cfg.Filter.Workers = *workers
	}
	if *batch > 0 {
		cfg.Filter.BatchSize = *batch
	}
	if *inPath == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: lmfilter (-phrases FILE | -snapshot FILE) -in MODEL.arpa -out FILTERED.arpa")
		os.Exit(apperrors.ExitUsage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if *metricsPort > 0 {
		m = metrics.New()
		shutdown := metrics.StartServer(*metricsPort, "lmfilter")
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(shutdownCtx)
		}()
	}

	if err := run(ctx, cfg, *inPath, *outPath, m); err != nil {
		slog.Error("lmfilter failed", "error", err)
		os.Exit(apperrors.ExitCode(err))
	}
}

func run(ctx context.Context, cfg *config.Config, inPath, outPath string, m *metrics.Metrics) error {
	ctx, root := tracing.Start(ctx, "lmfilter")
	defer func() {
		root.End()
		root.Log(slog.Default())
	}()

	chainCfg := stream.ChainConfig{BlockSize: cfg.Filter.BlockSize, Blocks: cfg.Filter.Blocks}
	_, loadSpan := tracing.Start(ctx, "load-index")
	idx, err := substrings.Load(ctx, cfg.Filter.PhrasesPath, cfg.Filter.SnapshotPath, chainCfg)
	loadSpan.End()
	if err != nil {
		return err
	}
	loadSpan.Set("keys", idx.Keys(), "sentences", idx.Sentences())
	if m != nil {
		m.IndexKeys.Set(float64(idx.Keys()))
		m.IndexSentences.Set(float64(idx.Sentences()))
	}

	var in io.Reader = os.Stdin
	if inPath != "-" {
		f, err := os.Open(inPath)
		if err != nil {
			return fmt.Errorf("opening model: %w", err)
		}
		defer f.Close()
		in = f
	}
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	defer out.Close()

	start := time.Now()
	_, filterSpan := tracing.Start(ctx, "filter")
	pass := filter.Observe(filter.NewUnion(idx), m)
	opts := filter.Options{Workers: cfg.Filter.Workers, BatchSize: cfg.Filter.BatchSize, Metrics: m}

	source := stream.NewChain(chainCfg)
	sink := stream.NewChain(chainCfg)
	var counts filter.Counts
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return stream.NewRead(in).Run(gctx, source) })
	g.Go(func() error {
		r := stream.NewChainReader(gctx, source)
		w := stream.NewChainWriter(gctx, sink)
		var err error
		counts, err = filter.FilterARPA(gctx, r, w, pass, opts)
		if closeErr := w.Close(); err == nil {
			err = closeErr
		}
		if closeErr := r.Close(); err == nil {
			err = closeErr
		}
		return err
	})
	g.Go(func() error { return stream.NewWrite(out).Run(gctx, sink) })
	err = g.Wait()
	filterSpan.End()
	if err != nil {
		return err
	}
	filterSpan.Set("declared", counts.Declared, "kept", counts.Kept)

	_, patchSpan := tracing.Start(ctx, "patch-header")
	defer patchSpan.End()
	if err := filter.PatchHeader(out, counts.Kept); err != nil {
		return err
	}
	if err := out.Sync(); err != nil {
		return fmt.Errorf("syncing output: %w", err)
	}
	slog.Info("model filtered",
		"in", inPath,
		"out", outPath,
		"declared", counts.Declared,
		"kept", counts.Kept,
		"dropped", counts.Dropped(),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return nil
}
