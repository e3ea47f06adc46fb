package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/logger"
)

// RunIDHeader names the header a client uses to group requests into a run.
const RunIDHeader = "X-Run-ID"

// RunID tags the request context with the caller's run id, minting one
// when the header is absent, and echoes it on the response.
func RunID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RunIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RunIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRunID(r.Context(), id)))
	})
}
