// Package consumer serves filter requests arriving on Kafka: it judges each
// n-gram against the phrase index, publishes the verdicts and records the
// run totals.
package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/internal/ngram"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/resilience"
)

// Publisher sends verdicts downstream. *kafka.Producer implements it.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// RunRecorder accumulates per-run totals. *runs.Store implements it.
type RunRecorder interface {
	Record(ctx context.Context, runID, fingerprint string, kept, dropped int) error
}

// Service holds what a request handler needs. Cache, Runs and Metrics are
// optional.
type Service struct {
	Union       *filter.Union
	Cache       *filter.VerdictCache
	Publisher   Publisher
	Runs        RunRecorder
	Metrics     *metrics.Metrics
	Fingerprint uint64
}

// Evaluate judges every n-gram of req in order.
func (s *Service) Evaluate(ctx context.Context, req proto.FilterRequest) proto.FilterResponse {
	start := time.Now()
	resp := proto.FilterResponse{
		RunID:       req.RunID,
		Fingerprint: fmt.Sprintf("%016x", s.Fingerprint),
		Verdicts:    make([]proto.FilterVerdict, 0, len(req.NGrams)),
	}
	for _, text := range req.NGrams {
		words := ngram.Tokenize(text)
		v, cached := s.verdict(ctx, words)
		resp.Verdicts = append(resp.Verdicts, proto.FilterVerdict{
			NGram:   text,
			Kept:    v.Kept,
			Witness: v.Witness,
			Cached:  cached,
		})
		if v.Kept {
			resp.Kept++
		} else {
			resp.Dropped++
		}
	}
	resp.LatencyMs = time.Since(start).Milliseconds()
	return resp
}

func (s *Service) verdict(ctx context.Context, words []string) (filter.Verdict, bool) {
	compute := func() filter.Verdict {
		evalStart := time.Now()
		witness, ok := s.Union.Witness(words)
		if s.Metrics != nil {
			s.Metrics.EvaluateLatency.Observe(time.Since(evalStart).Seconds())
		}
		return filter.Verdict{Kept: ok, Witness: witness}
	}
	var (
		v      filter.Verdict
		cached bool
	)
	if s.Cache != nil {
		v, cached = s.Cache.GetOrCompute(ctx, words, compute)
	} else {
		v = compute()
	}
	if s.Metrics != nil {
		label := "dropped"
		if v.Kept {
			label = "kept"
		}
		s.Metrics.NGramsEvaluated.WithLabelValues(label).Inc()
	}
	return v, cached
}

// HandleRequests returns a Kafka MessageHandler that answers each
// proto.FilterRequest with a proto.FilterResponse keyed by run id.
// Undecodable or empty requests are skipped without retrying.
func HandleRequests(s *Service) kafka.MessageHandler {
	log := logger.WithComponent("filter-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		req, err := kafka.DecodeJSON[proto.FilterRequest](value)
		if err != nil {
			log.Error("failed to decode filter request", "error", err, "key", string(key))
			s.count("invalid")
			return resilience.Permanent(err)
		}
		if req.RunID == "" || len(req.NGrams) == 0 {
			log.Warn("skipping empty filter request", "run_id", req.RunID, "ngrams", len(req.NGrams))
			s.count("invalid")
			return nil
		}

		ctx = logger.WithRunID(ctx, req.RunID)
		runLog := logger.FromContext(ctx).With("component", "filter-consumer")
		resp := s.Evaluate(ctx, req)
		if err := s.Publisher.Publish(ctx, kafka.Event{Key: req.RunID, Value: resp}); err != nil {
			s.count("error")
			return fmt.Errorf("publishing verdicts for run %s: %w", req.RunID, err)
		}
		if s.Runs != nil {
			if err := s.Runs.Record(ctx, req.RunID, resp.Fingerprint, resp.Kept, resp.Dropped); err != nil {
				runLog.Error("failed to record run", "error", err)
			}
		}
		s.count("ok")
		runLog.Info("filter request handled",
			"ngrams", len(req.NGrams),
			"kept", resp.Kept,
			"dropped", resp.Dropped,
			"latency_ms", resp.LatencyMs,
		)
		return nil
	}
}

func (s *Service) count(status string) {
	if s.Metrics != nil {
		s.Metrics.RequestsTotal.WithLabelValues(status).Inc()
	}
}
