package observability

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"github.com/platinummonkey/fleetauthz/pkg/contextkeys"
)

// RecoverPanic recovers from a panic and logs it with its stack. Use it in a
// defer at the top of background goroutines:
//
//	go func() {
//	    defer observability.RecoverPanic(logger, "retention job")
//	    ...
//	}()
//
// The panic is not re-raised.
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		logPanic(logger, where, r)
	}
}

func logPanic(logger *Logger, where string, r interface{}) {
	logger.WithField("panic", r).
		WithField("stack", string(debug.Stack())).
		WithField("context", where).
		Error("PANIC recovered")
}

// RecoveryMiddleware turns a handler panic into a logged 500 response
func RecoveryMiddleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logPanic(logger.WithFields(map[string]interface{}{
						"path":       r.URL.Path,
						"request_id": contextkeys.GetRequestID(r.Context()),
					}), "http handler", rec)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
