package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/internal/stream"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/internal/substrings"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	phrasesPath := flag.String("phrases", "", "phrase file, one sentence per line")
	outPath := flag.String("out", "", "snapshot file to write")
	verify := flag.Bool("verify", false, "reopen the snapshot and compare fingerprints")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(apperrors.ExitUsage)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if *phrasesPath == "" {
		*phrasesPath = cfg.Filter.PhrasesPath
	}
	if *outPath == "" {
		*outPath = cfg.Filter.SnapshotPath
	}
	if *phrasesPath == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: phraseindex -phrases FILE -out SNAPSHOT [-verify]")
		os.Exit(apperrors.ExitUsage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainCfg := stream.ChainConfig{BlockSize: cfg.Filter.BlockSize, Blocks: cfg.Filter.Blocks}
	if err := build(ctx, *phrasesPath, *outPath, chainCfg, *verify); err != nil {
		slog.Error("phraseindex failed", "error", err)
		os.Exit(apperrors.ExitCode(err))
	}
}

func build(ctx context.Context, phrasesPath, outPath string, chainCfg stream.ChainConfig, verify bool) error {
	start := time.Now()
	idx, err := substrings.LoadPhrases(ctx, phrasesPath, chainCfg)
	if err != nil {
		return err
	}
	if err := substrings.WriteSnapshot(outPath, idx); err != nil {
		return err
	}
	slog.Info("snapshot written",
		"path", outPath,
		"keys", idx.Keys(),
		"sentences", idx.Sentences(),
		"fingerprint", fmt.Sprintf("%016x", idx.Fingerprint()),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	if !verify {
		return nil
	}
	reopened, err := substrings.OpenSnapshot(ctx, outPath, chainCfg)
	if err != nil {
		return fmt.Errorf("verifying snapshot: %w", err)
	}
	if reopened.Fingerprint() != idx.Fingerprint() {
		return apperrors.Newf(apperrors.ErrCorruptSnapshot, apperrors.ExitFailure,
			"fingerprint %016x after reopen, wrote %016x", reopened.Fingerprint(), idx.Fingerprint())
	}
	slog.Info("snapshot verified", "path", outPath)
	return nil
}
