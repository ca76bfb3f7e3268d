// Package httplog provides the request-logging middleware shared by
// the public signing service and the host-only Seal bootstrap service:
// method, path, status, bytes, duration, and request ID, one line per
// request.
package httplog

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Middleware returns a chi-compatible middleware that logs one line per
// request at Info level, tagging it with the chi request ID (taken from
// the request's X-Request-Id header when the client sent one, generated
// otherwise). The ID is not echoed in a response header.
func Middleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(wrapped, r)

			logger.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.Status()).
				Int("bytes", wrapped.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}

// New builds the enclave's default logger: human-readable console
// output in every environment (there is no JSON mode), tagged with
// component. Middleware never logs request or response bodies, since
// either could carry the API key or a Seal plaintext.
func New(component string) zerolog.Logger {
	return zerolog.New(zerolog.NewConsoleWriter()).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}
