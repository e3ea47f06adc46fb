package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/internal/substrings"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/proto"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []kafka.Event
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, e kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

type recordedRun struct {
	runID, fingerprint string
	kept, dropped      int
}

type captureRuns struct {
	runs []recordedRun
}

func (r *captureRuns) Record(_ context.Context, runID, fingerprint string, kept, dropped int) error {
	r.runs = append(r.runs, recordedRun{runID, fingerprint, kept, dropped})
	return nil
}

func newService(t *testing.T) (*Service, *capturePublisher, *captureRuns) {
	t.Helper()
	idx := substrings.New()
	_, err := substrings.ReadMultiple(strings.NewReader("the cat sat\ton the mat\nthe dog\n"), idx)
	require.NoError(t, err)
	idx.Freeze()
	pub := &capturePublisher{}
	runs := &captureRuns{}
	return &Service{
		Union:       filter.NewUnion(idx),
		Publisher:   pub,
		Runs:        runs,
		Metrics:     metrics.NewWithRegistry(prometheus.NewRegistry()),
		Fingerprint: idx.Fingerprint(),
	}, pub, runs
}

func encode(t *testing.T, req proto.FilterRequest) []byte {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return data
}

func TestEvaluateKeepsRequestOrder(t *testing.T) {
	s, _, _ := newService(t)
	resp := s.Evaluate(context.Background(), proto.FilterRequest{
		RunID:  "r1",
		NGrams: []string{"the dog", "cat dog", "<s> the cat", "sat on"},
	})
	require.Equal(t, "r1", resp.RunID)
	require.Equal(t, 3, resp.Kept)
	require.Equal(t, 1, resp.Dropped)
	require.Len(t, resp.Verdicts, 4)
	require.Equal(t, proto.FilterVerdict{NGram: "the dog", Kept: true, Witness: 1}, resp.Verdicts[0])
	require.False(t, resp.Verdicts[1].Kept)
	require.True(t, resp.Verdicts[2].Kept)
	require.True(t, resp.Verdicts[3].Kept)
}

func TestHandleRequestsPublishesAndRecords(t *testing.T) {
	s, pub, runs := newService(t)
	handler := HandleRequests(s)
	req := proto.FilterRequest{RunID: "run-7", NGrams: []string{"the cat", "fish"}}

	require.NoError(t, handler(context.Background(), []byte("run-7"), encode(t, req)))

	require.Len(t, pub.events, 1)
	require.Equal(t, "run-7", pub.events[0].Key)
	resp := pub.events[0].Value.(proto.FilterResponse)
	require.Equal(t, 1, resp.Kept)
	require.Equal(t, 1, resp.Dropped)

	require.Equal(t, []recordedRun{{"run-7", resp.Fingerprint, 1, 1}}, runs.runs)
	require.Equal(t, 1.0, testutil.ToFloat64(s.Metrics.RequestsTotal.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(s.Metrics.NGramsEvaluated.WithLabelValues("dropped")))
}

func TestHandleRequestsSkipsBadInput(t *testing.T) {
	s, pub, _ := newService(t)
	handler := HandleRequests(s)

	err := handler(context.Background(), nil, []byte("{not json"))
	require.Error(t, err)

	require.NoError(t, handler(context.Background(), nil, encode(t, proto.FilterRequest{RunID: "r"})))
	require.Empty(t, pub.events)
	require.Equal(t, 2.0, testutil.ToFloat64(s.Metrics.RequestsTotal.WithLabelValues("invalid")))
}

func TestHandleRequestsReportsPublishFailure(t *testing.T) {
	s, pub, runs := newService(t)
	pub.err = errors.New("broker down")
	err := HandleRequests(s)(context.Background(), nil, encode(t, proto.FilterRequest{RunID: "r", NGrams: []string{"the"}}))
	require.ErrorContains(t, err, "broker down")
	require.Empty(t, runs.runs)
}
