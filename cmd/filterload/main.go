package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	apperrors "github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/proto"
)

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	BatchSize   int
	RPS         float64
	RunID       string
	NGrams      []string
}

type Stats struct {
	requests atomic.Int64
	failures atomic.Int64
	kept     atomic.Int64
	dropped  atomic.Int64
	cached   atomic.Int64

	mu          sync.Mutex
	latencies   []time.Duration
	statusCodes map[int]int64
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 1<<14),
		statusCodes: make(map[int]int64),
	}
}

func (s *Stats) record(d time.Duration, status int, resp *proto.FilterResponse) {
	s.requests.Add(1)
	if resp == nil {
		s.failures.Add(1)
	} else {
		s.kept.Add(int64(resp.Kept))
		s.dropped.Add(int64(resp.Dropped))
		for _, v := range resp.Verdicts {
			if v.Cached {
				s.cached.Add(1)
			}
		}
	}
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	if status != 0 {
		s.statusCodes[status]++
	}
	s.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of filterd")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	batch := flag.Int("batch", 64, "n-grams per request")
	ngramsPath := flag.String("ngrams", "", "file of n-grams, one per line")
	runID := flag.String("run", "loadtest", "run id sent with every request")
	rps := flag.Float64("rps", 0, "overall request rate cap, 0 for unlimited")
	flag.Parse()

	if *ngramsPath == "" {
		fmt.Fprintln(os.Stderr, "usage: filterload -ngrams FILE [-url URL] [-concurrency N] [-duration D]")
		os.Exit(apperrors.ExitUsage)
	}
	ngrams, err := readNGrams(*ngramsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading n-grams: %v\n", err)
		os.Exit(apperrors.ExitCode(err))
	}

	cfg := Config{
		BaseURL:     *baseURL,
		Concurrency: *concurrency,
		Duration:    *duration,
		BatchSize:   *batch,
		RPS:         *rps,
		RunID:       *runID,
		NGrams:      ngrams,
	}
	fmt.Println("=== Phrase Filter Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	if cfg.RPS > 0 {
		fmt.Printf("Rate cap:    %.0f req/s\n", cfg.RPS)
	}
	fmt.Printf("N-grams:     %d (batches of %d)\n", len(cfg.NGrams), cfg.BatchSize)
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	stats := runLoad(ctx, client, cfg)
	if stats.requests.Load() == 0 {
		fmt.Println("WARNING: No requests completed. Is filterd running?")
		os.Exit(apperrors.ExitUnavailable)
	}
	printReport(os.Stdout, stats, cfg.Duration)
}

func readNGrams(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, apperrors.ExitUsage, "%s holds no n-grams", path)
	}
	return out, nil
}

// runLoad posts batches from cfg.NGrams round robin until ctx ends. A
// positive cfg.RPS caps the combined rate of all workers.
func runLoad(ctx context.Context, client *http.Client, cfg Config) *Stats {
	stats := NewStats()
	batchSize := max(1, min(cfg.BatchSize, len(cfg.NGrams)))
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), max(1, int(cfg.RPS)))
	}
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Concurrency; w++ {
		g.Go(func() error {
			offset := w * batchSize
			for ctx.Err() == nil {
				if err := limiter.Wait(ctx); err != nil {
					return nil
				}
				batch := make([]string, batchSize)
				for i := range batch {
					batch[i] = cfg.NGrams[(offset+i)%len(cfg.NGrams)]
				}
				offset += batchSize

				start := time.Now()
				status, resp := post(ctx, client, cfg, batch)
				if ctx.Err() != nil && resp == nil {
					return nil
				}
				stats.record(time.Since(start), status, resp)
			}
			return nil
		})
	}
	_ = g.Wait()
	return stats
}

func post(ctx context.Context, client *http.Client, cfg Config, batch []string) (int, *proto.FilterResponse) {
	body, err := json.Marshal(proto.FilterRequest{RunID: cfg.RunID, NGrams: batch})
	if err != nil {
		return 0, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/api/v1/filter", bytes.NewReader(body))
	if err != nil {
		return 0, nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.RunIDHeader, cfg.RunID)
	res, err := client.Do(req)
	if err != nil {
		return 0, nil
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		io.Copy(io.Discard, res.Body)
		return res.StatusCode, nil
	}
	var resp proto.FilterResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return res.StatusCode, nil
	}
	return res.StatusCode, &resp
}

func printReport(w io.Writer, stats *Stats, duration time.Duration) {
	total := stats.requests.Load()
	failures := stats.failures.Load()
	kept, dropped := stats.kept.Load(), stats.dropped.Load()

	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "Total Requests:  %d\n", total)
	fmt.Fprintf(w, "Failures:        %d\n", failures)
	if total > 0 {
		fmt.Fprintf(w, "Failure Rate:    %.2f%%\n", float64(failures)/float64(total)*100)
		fmt.Fprintf(w, "Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}
	fmt.Fprintf(w, "N-grams kept:    %d\n", kept)
	fmt.Fprintf(w, "N-grams dropped: %d\n", dropped)
	if judged := kept + dropped; judged > 0 {
		fmt.Fprintf(w, "Cached verdicts: %.1f%%\n", float64(stats.cached.Load())/float64(judged)*100)
	}

	stats.mu.Lock()
	latencies := slices.Clone(stats.latencies)
	codes := make(map[int]int64, len(stats.statusCodes))
	for code, n := range stats.statusCodes {
		codes[code] = n
	}
	stats.mu.Unlock()

	if len(latencies) > 0 {
		slices.Sort(latencies)
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Latency ===")
		fmt.Fprintf(w, "Min:    %s\n", latencies[0])
		fmt.Fprintf(w, "Avg:    %s\n", avg)
		fmt.Fprintf(w, "P50:    %s\n", percentile(latencies, 50))
		fmt.Fprintf(w, "P90:    %s\n", percentile(latencies, 90))
		fmt.Fprintf(w, "P99:    %s\n", percentile(latencies, 99))
		fmt.Fprintf(w, "Max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Status Codes ===")
	keys := make([]int, 0, len(codes))
	for code := range codes {
		keys = append(keys, code)
	}
	slices.Sort(keys)
	for _, code := range keys {
		fmt.Fprintf(w, "  %d: %d\n", code, codes[code])
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
