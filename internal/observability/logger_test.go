package observability

import (
	"testing"

	"github.com/fulmenhq/gofulmen/logging"
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
		"loud":    "INFO",
		"":        "INFO",
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLogLevel(in), in)
	}
}

func TestServerLoggerConfig(t *testing.T) {
	t.Setenv(EnvironmentVar, "staging")

	cfg := ServerLoggerConfig("keyrelay", "debug", "keyrelay_ns")
	assert.Equal(t, logging.ProfileStructured, cfg.Profile)
	assert.Equal(t, "DEBUG", cfg.DefaultLevel)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "keyrelay_ns", cfg.StaticFields["namespace"])
	require.Len(t, cfg.Sinks, 1)
	assert.Equal(t, "json", cfg.Sinks[0].Format)

	t.Setenv(EnvironmentVar, "")
	cfg = ServerLoggerConfig("keyrelay", "info", "")
	assert.Equal(t, "production", cfg.Environment)
	assert.NotContains(t, cfg.StaticFields, "namespace")
}

func TestInitLoggers(t *testing.T) {
	InitCLILogger("keyrelay-test", true)
	require.NotNil(t, CLILogger)
	CLILogger.Debug("cli logger ready", zap.String("mode", "verbose"))

	InitServerLogger("keyrelay-test", "info", "keyrelay_test")
	require.NotNil(t, ServerLogger)
	ServerLogger.Info("server logger ready", zap.String("component", "test"))
}

func TestShutdownMetricsWithoutExporter(t *testing.T) {
	PrometheusExporter = nil
	TelemetrySystem = nil
	assert.NoError(t, ShutdownMetrics())
	assert.Zero(t, GetMetricsPort())
}
