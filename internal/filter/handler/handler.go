package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/internal/filter/consumer"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/internal/runs"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/proto"
)

const (
	maxBodyBytes     = 4 << 20
	defaultRunsLimit = 20
	maxRunsLimit     = 500
)

// RunLister reads accumulated run totals. *runs.Store implements it.
type RunLister interface {
	Get(ctx context.Context, runID string) (*runs.Run, error)
	List(ctx context.Context, limit int) ([]runs.Run, error)
}

type IndexInfo struct {
	Keys        int    `json:"keys"`
	Sentences   uint32 `json:"sentences"`
	Fingerprint string `json:"fingerprint"`
}

type Handler struct {
	service *consumer.Service
	runs    RunLister
	index   IndexInfo
	logger  *slog.Logger
}

// New builds the HTTP API over service. lister may be nil when run
// tracking is off.
func New(service *consumer.Service, lister RunLister, index IndexInfo) *Handler {
	return &Handler{
		service: service,
		runs:    lister,
		index:   index,
		logger:  slog.Default().With("component", "filter-handler"),
	}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/filter", h.Filter)
	mux.HandleFunc("GET /api/v1/index", h.Index)
	mux.HandleFunc("GET /api/v1/runs", h.ListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", h.GetRun)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

func (h *Handler) Filter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req proto.FilterRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "request body must be a JSON filter request")
		return
	}
	if len(req.NGrams) == 0 {
		h.writeError(w, http.StatusBadRequest, "ngrams must not be empty")
		return
	}
	if req.RunID == "" {
		req.RunID, _ = logger.RunIDFromContext(ctx)
	}

	resp := h.service.Evaluate(ctx, req)
	if h.service.Runs != nil && req.RunID != "" {
		if err := h.service.Runs.Record(ctx, req.RunID, resp.Fingerprint, resp.Kept, resp.Dropped); err != nil {
			log.Error("failed to record run", "error", err)
		}
	}
	log.Info("filter request served",
		"ngrams", len(req.NGrams),
		"kept", resp.Kept,
		"dropped", resp.Dropped,
		"latency_ms", resp.LatencyMs,
	)
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.index)
}

func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		h.writeError(w, http.StatusServiceUnavailable, "run tracking is disabled")
		return
	}
	limit := defaultRunsLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxRunsLimit)
	}
	list, err := h.runs.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("listing runs failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "listing runs failed")
		return
	}
	if list == nil {
		list = []runs.Run{}
	}
	h.writeJSON(w, http.StatusOK, list)
}

func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		h.writeError(w, http.StatusServiceUnavailable, "run tracking is disabled")
		return
	}
	id := r.PathValue("id")
	run, err := h.runs.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("loading run failed", "run_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "loading run failed")
		return
	}
	if run == nil {
		h.writeError(w, http.StatusNotFound, fmt.Sprintf("run %q not found", id))
		return
	}
	h.writeJSON(w, http.StatusOK, run)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.service.Cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.service.Cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.service.Cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	if err := h.service.Cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
