package middleware

import (
	"net/http"
	"time"
)

// Timeout bounds every request to d. Handlers see the deadline on their
// context; a handler still running at the deadline gets a 503 written for it.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.TimeoutHandler(next, d, `{"error":"request timeout"}`)
	}
}
