// Package metrics names the series threadline emits and wraps the telemetry
// system so callers never have to nil-check it.
package metrics

import (
	"time"

	"github.com/threadline/threadline/internal/observability"
)

// Gateway series.
const (
	OperationsTotal       = "app_operations_total"
	OperationsErrorsTotal = "app_operations_errors_total"
	ActiveConnections     = "app_active_connections"
	HealthCheckTotal      = "app_health_check_total"
	HealthCheckDuration   = "app_health_check_duration_ms"
	ServerStartTime       = "app_server_start_time_seconds"
	ServerUptime          = "app_server_uptime_seconds"
	ErrorsTotal           = "errors_total"
	ErrorsByEndpoint      = "errors_by_endpoint"
	PanicsTotal           = "panics_total"
)

// Limiter series.
const (
	RateLimitDecisionsTotal   = "ratelimit_decisions_total"
	RateLimitStoreErrorsTotal = "ratelimit_store_errors_total"
	RateLimitCleanupDeleted   = "ratelimit_cleanup_deleted"
)

func counter(name string, value float64, labels map[string]string) {
	if tel := observability.TelemetrySystem; tel != nil {
		_ = tel.Counter(name, value, labels)
	}
}

func gauge(name string, value float64, labels map[string]string) {
	if tel := observability.TelemetrySystem; tel != nil {
		_ = tel.Gauge(name, value, labels)
	}
}

func histogram(name string, d time.Duration, labels map[string]string) {
	if tel := observability.TelemetrySystem; tel != nil {
		_ = tel.Histogram(name, d, labels)
	}
}

func outcome(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
