package api

import (
	"net/http"
	"runtime/debug"
	"time"

	"bizagents/pkg/logger"
)

// statusRecorder captures the status code written by the handler
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// withLogging logs every request and turns handler panics into 500s
func withLogging(log *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		defer func() {
			if rec := recover(); rec != nil {
				log.Errorw("HTTP handler panic",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				http.Error(wrapped, `{"error":"internal error"}`, http.StatusInternalServerError)
			}

			fields := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			// probes and scrapes are noisy
			switch r.URL.Path {
			case "/health", "/ready", "/live", "/metrics":
				log.Debugw("HTTP request", fields...)
			default:
				log.Infow("HTTP request", fields...)
			}
		}()

		next.ServeHTTP(wrapped, r)
	})
}
