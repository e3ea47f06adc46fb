package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServeMux exposes gatherer on /metrics and a trivial liveness check on
// /healthz, for processes whose main port is busy or absent (lmfilter).
func ServeMux(component string, gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "%s ok\n", component)
	})
	return mux
}

// StartServer serves the default registry on port in the background. The
// returned func shuts the listener down.
func StartServer(port int, component string) (shutdown func(context.Context) error) {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      ServeMux(component, prometheus.DefaultGatherer),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	log := slog.Default().With("component", component)

	go func() {
		log.Info("metrics listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", "addr", server.Addr, "error", err)
		}
	}()

	return server.Shutdown
}
