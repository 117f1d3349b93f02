package metrics

import (
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline/threadline/internal/observability"
)

func withCollector(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)

	prev := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = prev })
	return collector
}

func TestRecordersAreSafeWithoutTelemetry(t *testing.T) {
	prev := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() { observability.TelemetrySystem = prev })

	assert.NotPanics(t, func() {
		RecordRateLimitDecision("vote", "allowed")
		RecordRateLimitStoreError("get")
		RecordRateLimitCleanup(3)
		RecordOperation("admin_reset", true)
		RecordHealthCheck("store", true, time.Millisecond)
		RecordPanic()
	})
}

func TestRateLimitSeries(t *testing.T) {
	collector := withCollector(t)

	RecordRateLimitCleanup(0)
	assert.Equal(t, 0, collector.CountMetricsByName(RateLimitCleanupDeleted), "zero sweeps are not emitted")

	RecordRateLimitDecision("vote", "allowed")
	RecordRateLimitDecision("vote", "denied")
	RecordRateLimitStoreError("increment")
	RecordRateLimitCleanup(4)

	assert.Greater(t, collector.CountMetricsByName(RateLimitDecisionsTotal), 1)
	assert.Greater(t, collector.CountMetricsByName(RateLimitStoreErrorsTotal), 0)
	assert.Greater(t, collector.CountMetricsByName(RateLimitCleanupDeleted), 0)
}

func TestGatewaySeries(t *testing.T) {
	collector := withCollector(t)

	RecordOperation("admin_list", false)
	RecordOperationError("admin_list", "store")
	RecordHealthCheck("store", false, 5*time.Millisecond)
	SetActiveConnections(2)
	RecordError("RATE_LIMITED", 429)

	assert.Greater(t, collector.CountMetricsByName(OperationsTotal), 0)
	assert.Greater(t, collector.CountMetricsByName(OperationsErrorsTotal), 0)
	assert.Greater(t, collector.CountMetricsByName(HealthCheckTotal), 0)
	assert.Greater(t, collector.CountMetricsByName(HealthCheckDuration), 0)
	assert.Greater(t, collector.CountMetricsByName(ActiveConnections), 0)
	assert.Greater(t, collector.CountMetricsByName(ErrorsTotal), 0)
}
