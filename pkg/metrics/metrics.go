// Package metrics defines the Prometheus metric collectors used by the
// filter tools and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the filter.
type Metrics struct {
	NGramsEvaluated  *prometheus.CounterVec
	EvaluateLatency  prometheus.Histogram
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
	RequestsTotal    *prometheus.CounterVec
	ARPASections     *prometheus.CounterVec
	IndexKeys        prometheus.Gauge
	IndexSentences   prometheus.Gauge

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
}

// New creates the collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors with reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not panic.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NGramsEvaluated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ngrams_evaluated_total",
				Help: "Total n-grams evaluated by verdict (kept, dropped).",
			},
			[]string{"verdict"},
		),
		EvaluateLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ngram_evaluate_latency_seconds",
				Help:    "Latency of a single n-gram evaluation in seconds.",
				Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "verdict_cache_hits_total",
				Help: "Total number of verdict cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "verdict_cache_misses_total",
				Help: "Total number of verdict cache misses.",
			},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filter_requests_total",
				Help: "Total filter requests processed by status.",
			},
			[]string{"status"},
		),
		ARPASections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arpa_ngrams_total",
				Help: "ARPA n-gram entries read, by order and verdict.",
			},
			[]string{"order", "verdict"},
		),
		IndexKeys: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "phrase_index_keys",
				Help: "Number of substring keys in the loaded phrase index.",
			},
		),
		IndexSentences: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "phrase_index_sentences",
				Help: "Number of sentences in the loaded phrase index.",
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests by method, path, and status code.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being served.",
			},
		),
	}

	reg.MustRegister(
		m.NGramsEvaluated,
		m.EvaluateLatency,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.RequestsTotal,
		m.ARPASections,
		m.IndexKeys,
		m.IndexSentences,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
