package httpserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// requestLogger writes one access log line per request.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.String("outcome", ww.Header().Get(OutcomeHeader)),
				zap.String("remote", r.RemoteAddr),
				zap.Duration("duration", time.Since(start)))
		})
	}
}

// recoverer turns a panic into a JSON 500 so callers always get a parseable body.
func recoverer(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler { //nolint:errorlint // sentinel comparison as in net/http
					panic(rec)
				}

				logger.Error("panic serving request",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.Any("panic", rec),
					zap.Stack("stack"))
				writeError(w, http.StatusInternalServerError, fmt.Sprintf("Server error: %v", rec))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
