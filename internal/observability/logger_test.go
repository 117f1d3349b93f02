package observability

import (
	"testing"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]string{
		"trace":   "TRACE",
		"DEBUG":   "DEBUG",
		" info ":  "INFO",
		"warning": "WARN",
		"error":   "ERROR",
		"":        "INFO",
		"verbose": "INFO",
	}
	for input, want := range tests {
		assert.Equal(t, want, parseLogLevel(input), input)
	}
}

func TestEnvironment(t *testing.T) {
	t.Setenv("THREADLINE_ENV", "")
	assert.Equal(t, "production", environment())

	t.Setenv("THREADLINE_ENV", "Staging")
	assert.Equal(t, "staging", environment())
}

func TestServerLoggerConfig(t *testing.T) {
	t.Setenv("THREADLINE_ENV", "test")

	cfg := serverLoggerConfig("threadline", "warning", "threadline")
	assert.Equal(t, "WARN", cfg.DefaultLevel)
	assert.Equal(t, "test", cfg.Environment)
	assert.Equal(t, "threadline", cfg.StaticFields["namespace"])
	assert.Equal(t, "gateway", cfg.StaticFields["component"])
	require.Len(t, cfg.Sinks, 1)
	assert.Equal(t, "json", cfg.Sinks[0].Format)

	assert.NotContains(t, serverLoggerConfig("threadline", "", "").StaticFields, "namespace")
}

func TestLoggerProfiles(t *testing.T) {
	InitCLILogger("threadline-test", true)
	require.NotNil(t, CLILogger)
	CLILogger.Debug("cli logger ready", zap.String("profile", "cli"))

	InitServerLogger("threadline-test", "debug")
	require.NotNil(t, ServerLogger)
	ServerLogger.Info("server logger ready",
		zap.String("identifier", "ip:203.0.113.7"),
		zap.String("endpoint", "vote"))
}

func TestCrucibleIsEmbedded(t *testing.T) {
	version := crucible.GetVersion()
	assert.NotEmpty(t, version.Gofulmen)
	assert.NotEmpty(t, version.Crucible)
	assert.NotEmpty(t, crucible.GetVersionString())
}

func TestStopMetricsWithoutExporter(t *testing.T) {
	prevExporter, prevSystem := PrometheusExporter, TelemetrySystem
	PrometheusExporter, TelemetrySystem = nil, nil
	t.Cleanup(func() { PrometheusExporter, TelemetrySystem = prevExporter, prevSystem })

	assert.NoError(t, StopMetrics())
	assert.Nil(t, TelemetrySystem)
}
