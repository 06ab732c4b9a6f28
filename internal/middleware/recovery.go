// Package middleware provides the HTTP middleware for the movies server:
// panic recovery, request logging, per-IP rate limiting, CORS,
// security headers, and request deadlines.
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog/log"
)

// Recovery converts handler panics into a 500 JSON response. Player commands
// drive a live browser, so a panic must not take the whole server down with
// a session open.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		defer func() {
			if v := recover(); v != nil {
				log.Error().
					Interface("panic", v).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("stack", string(debug.Stack())).
					Msg("Panic recovered")

				writeErrorResponse(w, http.StatusInternalServerError, "Internal server error", start)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
