// Package tracing times the phases of a filtering run. Spans nest through
// contexts and the finished tree is written to slog, one record per span.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/logger"
)

type contextKey struct{}

// Span is one timed phase.
type Span struct {
	Name     string
	RunID    string
	Start    time.Time
	Duration time.Duration

	mu       sync.Mutex
	children []*Span
	attrs    []any
}

// Start opens a span named name. It becomes a child of the span already on
// ctx, if any; a root span takes its run id from the logger context.
func Start(ctx context.Context, name string) (context.Context, *Span) {
	span := &Span{Name: name, Start: time.Now()}
	if parent := FromContext(ctx); parent != nil {
		span.RunID = parent.RunID
		parent.mu.Lock()
		parent.children = append(parent.children, span)
		parent.mu.Unlock()
	} else if runID, ok := logger.RunIDFromContext(ctx); ok {
		span.RunID = runID
	}
	return context.WithValue(ctx, contextKey{}, span), span
}

func FromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(contextKey{}).(*Span)
	return span
}

func (s *Span) End() {
	s.Duration = time.Since(s.Start)
}

// Set attaches key/value pairs reported with the span.
func (s *Span) Set(args ...any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, args...)
	s.mu.Unlock()
}

// Children returns the spans opened under s, in start order.
func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

// Log writes s and its descendants to l, depth first.
func (s *Span) Log(l *slog.Logger) {
	s.log(l, 0)
}

func (s *Span) log(l *slog.Logger, depth int) {
	s.mu.Lock()
	attrs := []any{
		"span", s.Name,
		"depth", depth,
		"duration_ms", s.Duration.Milliseconds(),
	}
	if s.RunID != "" {
		attrs = append(attrs, "run_id", s.RunID)
	}
	attrs = append(attrs, s.attrs...)
	children := append([]*Span(nil), s.children...)
	s.mu.Unlock()

	l.Info("span", attrs...)
	for _, child := range children {
		child.log(l, depth+1)
	}
}
