package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/internal/filter/consumer"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/internal/filter/handler"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/internal/runs"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/internal/stream"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/internal/substrings"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/filterd.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(apperrors.ExitUsage)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg); err != nil {
		slog.Error("filterd failed", "error", err)
		os.Exit(apperrors.ExitCode(err))
	}
	slog.Info("filterd stopped")
}

func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting filterd", "port", cfg.Server.Port)
	m := metrics.New()

	chainCfg := stream.ChainConfig{BlockSize: cfg.Filter.BlockSize, Blocks: cfg.Filter.Blocks}
	idx, err := substrings.Load(ctx, cfg.Filter.PhrasesPath, cfg.Filter.SnapshotPath, chainCfg)
	if err != nil {
		return err
	}
	m.IndexKeys.Set(float64(idx.Keys()))
	m.IndexSentences.Set(float64(idx.Sentences()))

	checker := health.NewChecker()
	checker.Register("phrase_index", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d keys over %d sentences", idx.Keys(), idx.Sentences()),
		}
	})

	svc := &consumer.Service{
		Union:       filter.NewUnion(idx),
		Metrics:     m,
		Fingerprint: idx.Fingerprint(),
	}

	if cfg.Redis.Addr != "" {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, verdict caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			svc.Cache = filter.NewVerdictCache(redisClient, idx.Fingerprint(), cfg.Redis.CacheTTL, m)
			checker.Register("redis", redisClient.HealthCheck())
			slog.Info("verdict cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	var lister handler.RunLister
	if cfg.Postgres.Enabled {
		var pg *postgres.Client
		err := resilience.Retry(ctx, "postgres-connect", resilience.RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
		}, func() error {
			var err error
			pg, err = postgres.New(cfg.Postgres)
			return err
		})
		if err != nil {
			return apperrors.Newf(apperrors.ErrUnavailable, apperrors.ExitUnavailable, "connecting to postgres: %v", err)
		}
		defer pg.Close()
		store := runs.NewStore(pg.DB)
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		svc.Runs = store
		lister = store
		checker.Register("postgres", pg.HealthCheck())
		slog.Info("run tracking enabled", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	}

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.NGramVerdicts)
	defer producer.Close()
	svc.Publisher = producer
	kafkaConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.NGramRequests, consumer.HandleRequests(svc))
	defer kafkaConsumer.Close()
	checker.Register("kafka", kafkaConsumer.HealthCheck())

	mux := http.NewServeMux()
	handler.New(svc, lister, handler.IndexInfo{
		Keys:        idx.Keys(),
		Sentences:   idx.Sentences(),
		Fingerprint: fmt.Sprintf("%016x", idx.Fingerprint()),
	}).Register(mux)
	checker.Mount(mux)
	mux.Handle("GET /metrics", metrics.Handler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RunID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port != cfg.Server.Port {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, "filterd")
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			shutdownMetrics(shutdownCtx)
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("consuming filter requests",
			"topic", cfg.Kafka.Topics.NGramRequests,
			"group", cfg.Kafka.ConsumerGroup,
			"verdicts", cfg.Kafka.Topics.NGramVerdicts,
		)
		return kafkaConsumer.Start(gctx)
	})
	g.Go(func() error {
		slog.Info("filterd listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
