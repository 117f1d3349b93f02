package metrics

import (
	"strconv"
	"time"
)

// RecordOperation counts an admin or maintenance operation.
func RecordOperation(operation string, success bool) {
	counter(OperationsTotal, 1, map[string]string{
		"operation": operation,
		"status":    outcome(success, "success", "failure"),
	})
}

// RecordOperationError counts a failed operation by cause.
func RecordOperationError(operation, errorType string) {
	counter(OperationsErrorsTotal, 1, map[string]string{
		"operation":  operation,
		"error_type": errorType,
	})
}

// SetActiveConnections publishes the number of open HTTP connections.
func SetActiveConnections(count int64) {
	gauge(ActiveConnections, float64(count), nil)
}

// RecordHealthCheck counts a checker run and its latency.
func RecordHealthCheck(check string, healthy bool, d time.Duration) {
	counter(HealthCheckTotal, 1, map[string]string{
		"check":  check,
		"status": outcome(healthy, "healthy", "unhealthy"),
	})
	histogram(HealthCheckDuration, d, map[string]string{"check": check})
}

// SetServerStartTime publishes the unix time the listener came up.
func SetServerStartTime(unix int64) {
	gauge(ServerStartTime, float64(unix), nil)
}

// SetServerUptime publishes seconds since start.
func SetServerUptime(seconds int64) {
	gauge(ServerUptime, float64(seconds), nil)
}

// RecordError counts an error envelope written to a client.
func RecordError(code string, status int) {
	counter(ErrorsTotal, 1, map[string]string{
		"error_code":  code,
		"http_status": strconv.Itoa(status),
	})
}

// RecordErrorByEndpoint counts an error envelope per route.
func RecordErrorByEndpoint(endpoint, code string) {
	counter(ErrorsByEndpoint, 1, map[string]string{
		"endpoint":   endpoint,
		"error_code": code,
	})
}

// RecordPanic counts a recovered handler panic.
func RecordPanic() {
	counter(PanicsTotal, 1, nil)
}
