package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/internal/filter/consumer"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/internal/runs"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/internal/substrings"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/proto"
)

type fakeRuns struct {
	recorded map[string]runs.Run
	err      error
}

func (f *fakeRuns) Record(_ context.Context, runID, fingerprint string, kept, dropped int) error {
	r := f.recorded[runID]
	r.ID = runID
	r.Fingerprint = fingerprint
	r.Requests++
	r.Kept += int64(kept)
	r.Dropped += int64(dropped)
	f.recorded[runID] = r
	return nil
}

func (f *fakeRuns) Get(_ context.Context, runID string) (*runs.Run, error) {
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.recorded[runID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (f *fakeRuns) List(_ context.Context, limit int) ([]runs.Run, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []runs.Run
	for _, r := range f.recorded {
		if len(out) == limit {
			break
		}
		out = append(out, r)
	}
	return out, nil
}

func newServer(t *testing.T, withRuns bool) (http.Handler, *fakeRuns) {
	t.Helper()
	idx := substrings.New()
	_, err := substrings.ReadMultiple(strings.NewReader("the cat sat\ton the mat\nthe dog\n"), idx)
	require.NoError(t, err)
	idx.Freeze()

	store := &fakeRuns{recorded: make(map[string]runs.Run)}
	svc := &consumer.Service{Union: filter.NewUnion(idx), Fingerprint: idx.Fingerprint()}
	var lister RunLister
	if withRuns {
		svc.Runs = store
		lister = store
	}
	h := New(svc, lister, IndexInfo{Keys: idx.Keys(), Sentences: idx.Sentences(), Fingerprint: "abc"})
	mux := http.NewServeMux()
	h.Register(mux)
	return middleware.RunID(mux), store
}

func postFilter(t *testing.T, srv http.Handler, runID string, req proto.FilterRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/filter", bytes.NewReader(body))
	if runID != "" {
		r.Header.Set(middleware.RunIDHeader, runID)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, r)
	return w
}

func TestFilterReturnsVerdicts(t *testing.T) {
	srv, store := newServer(t, true)
	w := postFilter(t, srv, "batch-1", proto.FilterRequest{NGrams: []string{"the dog", "cat the"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "batch-1", w.Header().Get(middleware.RunIDHeader))

	var resp proto.FilterResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "batch-1", resp.RunID)
	require.Len(t, resp.Verdicts, 2)
	assert.True(t, resp.Verdicts[0].Kept)
	assert.False(t, resp.Verdicts[1].Kept)
	assert.Equal(t, int64(1), store.recorded["batch-1"].Kept)
	assert.Equal(t, int64(1), store.recorded["batch-1"].Dropped)
}

func TestFilterMintsRunID(t *testing.T) {
	srv, _ := newServer(t, false)
	w := postFilter(t, srv, "", proto.FilterRequest{NGrams: []string{"mat"}})
	require.Equal(t, http.StatusOK, w.Code)
	id := w.Header().Get(middleware.RunIDHeader)
	_, err := uuid.Parse(id)
	require.NoError(t, err)

	var resp proto.FilterResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, id, resp.RunID)
	assert.Equal(t, 1, resp.Kept)
}

func TestFilterRejectsBadBodies(t *testing.T) {
	srv, _ := newServer(t, false)
	w := postFilter(t, srv, "", proto.FilterRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/filter", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestRunsEndpoints(t *testing.T) {
	srv, _ := newServer(t, true)
	postFilter(t, srv, "r1", proto.FilterRequest{NGrams: []string{"the cat", "dog cat"}})
	postFilter(t, srv, "r1", proto.FilterRequest{NGrams: []string{"sat"}})

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs/r1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var run runs.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, runs.Run{ID: "r1", Fingerprint: run.Fingerprint, Requests: 2, Kept: 2, Dropped: 1, UpdatedAt: run.UpdatedAt}, run)

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=5", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list []runs.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=0", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunsStoreFailure(t *testing.T) {
	srv, store := newServer(t, true)
	store.err = errors.New("connection reset")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestDisabledFeatures(t *testing.T) {
	srv, _ := newServer(t, false)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/cache/stats", nil))
	assert.JSONEq(t, `{"status":"disabled"}`, w.Body.String())

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/index", nil))
	var info IndexInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, uint32(2), info.Sentences)
	assert.Equal(t, "abc", info.Fingerprint)
}
