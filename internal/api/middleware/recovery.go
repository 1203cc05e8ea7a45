package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/tutorstack/tutorguard/internal/api/models"
)

// Recovery turns a handler panic into a 500 problem. A streamed reply that
// has already sent bytes cannot change its status, so its connection is
// aborted instead.
func Recovery(log zerolog.Logger) func(http.Handler) http.Handler {
	logger := log.With().Str("component", "http_recovery").Logger()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := newStatusWriter(w)

			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				requestID := GetRequestID(r.Context())
				logger.Error().
					Str("request_id", requestID).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("panic", fmt.Sprint(rec)).
					Bool("response_started", sw.wroteHeader).
					Bytes("stack", debug.Stack()).
					Msg("handler panicked")

				if sw.wroteHeader {
					panic(http.ErrAbortHandler)
				}

				problem := models.NewInternalError(requestID, "the request could not be completed")
				problem.Instance = r.URL.Path
				problem.Write(sw)
			}()

			next.ServeHTTP(sw, r)
		})
	}
}
