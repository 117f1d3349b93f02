package metrics

// RecordRateLimitDecision counts a limiter outcome (allowed, denied or
// fail_open) for an endpoint tag.
func RecordRateLimitDecision(endpoint, result string) {
	counter(RateLimitDecisionsTotal, 1, map[string]string{
		"endpoint": endpoint,
		"outcome":  result,
	})
}

// RecordRateLimitStoreError counts a failed store call by operation.
func RecordRateLimitStoreError(operation string) {
	counter(RateLimitStoreErrorsTotal, 1, map[string]string{"operation": operation})
}

// RecordRateLimitCleanup adds swept records to the running total.
func RecordRateLimitCleanup(deleted int64) {
	if deleted > 0 {
		counter(RateLimitCleanupDeleted, float64(deleted), nil)
	}
}
