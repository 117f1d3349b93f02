package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/threadline/threadline/internal/observability"
)

// statusRecorder remembers what the handler sent back.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += int64(n)
	return n, err
}

// routeLabel returns a bounded label for the request path. Chi patterns win;
// anything chi did not match collapses into a few fixed buckets.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	path := r.URL.Path
	switch {
	case path == "/":
		return "/"
	case path == "/health" || strings.HasPrefix(path, "/health/"):
		return "/health/*"
	case path == "/version", path == "/metrics":
		return path
	case strings.HasPrefix(path, "/v1/rate-limit/"):
		return "/v1/rate-limit/{endpoint}"
	case strings.HasPrefix(path, "/v1/admin/"):
		return "/v1/admin/*"
	default:
		return "/unknown"
	}
}

// outcomeLabel classifies a status for dashboards. Throttled calls are split
// out from other client errors so limiter pressure is visible on its own.
func outcomeLabel(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status >= 500:
		return "server_error"
	case status >= 400:
		return "client_error"
	default:
		return "ok"
	}
}

// RequestMetrics emits request counters and latency for every call and logs
// the completed request.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if observability.TelemetrySystem == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		route := routeLabel(r)
		outcome := outcomeLabel(rec.status)
		labels := map[string]string{
			"method":   r.Method,
			"endpoint": route,
			"status":   strconv.Itoa(rec.status),
		}

		tel := observability.TelemetrySystem
		_ = tel.Counter("http_requests_total", 1, labels)
		_ = tel.Histogram("http_request_duration_ms", elapsed, labels)
		_ = tel.Gauge("http_response_size_bytes", float64(rec.bytes), map[string]string{
			"method":   r.Method,
			"endpoint": route,
		})
		if r.ContentLength > 0 {
			_ = tel.Gauge("http_request_size_bytes", float64(r.ContentLength), map[string]string{
				"method":   r.Method,
				"endpoint": route,
			})
		}
		if outcome != "ok" {
			_ = tel.Counter("http_errors_total", 1, map[string]string{
				"method":     r.Method,
				"endpoint":   route,
				"status":     strconv.Itoa(rec.status),
				"error_type": outcome,
			})
		}

		if observability.ServerLogger != nil {
			observability.ServerLogger.Info("HTTP request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("endpoint", route),
				zap.Int("status", rec.status),
				zap.String("outcome", outcome),
				zap.Duration("duration", elapsed),
				zap.Int64("response_size", rec.bytes),
				zap.String("request_id", GetRequestID(r.Context())),
			)
		}
	})
}
