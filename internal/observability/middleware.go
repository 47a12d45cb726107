package observability

import (
	"encoding/json"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.statusCode = status
	r.ResponseWriter.WriteHeader(status)
}

// RequestLoggingMiddleware logs one line per request. Client errors are logged
// at warn so repeated 401/429 responses stand out from normal traffic.
func RequestLoggingMiddleware(logger *Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now().UTC()
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)

		fields := map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      recorder.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          clientIP(r),
		}
		switch {
		case recorder.statusCode >= http.StatusInternalServerError:
			logger.Error("http_request", fields)
		case recorder.statusCode >= http.StatusBadRequest:
			logger.Warn("http_request", fields)
		default:
			logger.Info("http_request", fields)
		}
	})
}

func RecoverMiddleware(logger *Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				sentry.WithScope(func(scope *sentry.Scope) {
					scope.SetRequest(r)
					scope.SetExtra("panic", rec)
					scope.SetExtra("stack", string(debug.Stack()))
					sentry.CaptureMessage("panic in request")
				})

				logger.Error("panic_recovered", map[string]any{
					"path":   r.URL.Path,
					"method": r.Method,
					"panic":  rec,
				})

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		if ip := strings.TrimSpace(strings.Split(forwarded, ",")[0]); ip != "" {
			return ip
		}
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}

	return "unknown"
}
