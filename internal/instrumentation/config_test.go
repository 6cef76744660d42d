package instrumentation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapEnv(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func TestConfigFromEnv_Defaults(t *testing.T) {
	cfg := ConfigFromEnv(mapEnv(nil))

	assert.Equal(t, "mcpmerge", cfg.ServiceName)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, ExporterPrometheus, cfg.MetricsExporter)
	assert.Equal(t, ExporterNone, cfg.TracingExporter)
	assert.Equal(t, 0.1, cfg.TraceSamplingRate)
	assert.Equal(t, DefaultMetricInterval, cfg.MetricInterval)
	assert.Equal(t, "/metrics", cfg.PrometheusEndpoint)
	assert.True(t, cfg.AuditLogging.Enabled)
	assert.False(t, cfg.AuditLogging.IncludePII)
	require.NoError(t, cfg.Validate())
}

func TestConfigFromEnv_Overrides(t *testing.T) {
	cfg := ConfigFromEnv(mapEnv(map[string]string{
		EnvServiceName:       "test-service",
		EnvEnabled:           "false",
		EnvMetricsExporter:   "stdout",
		EnvTracingExporter:   "stdout",
		EnvSamplingRate:      "0.5",
		EnvMetricInterval:    "2500",
		EnvAuditIncludePII:   "not-a-bool",
		"POD_NAMESPACE":      "tools",
		EnvDetailedLabels:    "1",
		EnvPrometheusPath:    "/internal/metrics",
		EnvServiceInstanceID: "pod-0",
	}))

	assert.Equal(t, "test-service", cfg.ServiceName)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, ExporterStdout, cfg.MetricsExporter)
	assert.Equal(t, ExporterStdout, cfg.TracingExporter)
	assert.Equal(t, 0.5, cfg.TraceSamplingRate)
	assert.Equal(t, 2500*time.Millisecond, cfg.MetricInterval)
	assert.False(t, cfg.AuditLogging.IncludePII, "unparsable bools keep the default")
	assert.Equal(t, "tools", cfg.K8sNamespace)
	assert.True(t, cfg.DetailedLabels)
	assert.Equal(t, "/internal/metrics", cfg.PrometheusEndpoint)
	assert.Equal(t, "pod-0", cfg.ServiceInstanceID)
}

func TestConfigFromEnv_InvalidNumbers(t *testing.T) {
	cfg := ConfigFromEnv(mapEnv(map[string]string{
		EnvSamplingRate:   "lots",
		EnvMetricInterval: "-5",
	}))
	assert.Equal(t, 0.1, cfg.TraceSamplingRate)
	assert.Equal(t, DefaultMetricInterval, cfg.MetricInterval)
}

func TestDefaultConfig_ReadsProcessEnv(t *testing.T) {
	t.Setenv(EnvServiceName, "from-process")
	assert.Equal(t, "from-process", DefaultConfig().ServiceName)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		errContains string
	}{
		{"prometheus", Config{MetricsExporter: ExporterPrometheus, TracingExporter: ExporterNone}, ""},
		{"empty exporters", Config{}, ""},
		{"otlp with endpoint", Config{MetricsExporter: ExporterOTLP, TracingExporter: ExporterOTLP, OTLPEndpoint: "localhost:4318"}, ""},
		{"sampling rate negative", Config{TraceSamplingRate: -0.5}, "sampling rate"},
		{"sampling rate above 1", Config{TraceSamplingRate: 1.5}, "sampling rate"},
		{"invalid metrics exporter", Config{MetricsExporter: "invalid"}, "invalid metrics exporter"},
		{"invalid tracing exporter", Config{TracingExporter: "invalid"}, "invalid tracing exporter"},
		{"otlp tracing without endpoint", Config{TracingExporter: ExporterOTLP}, "OTLP endpoint is required"},
		{"otlp metrics without endpoint", Config{MetricsExporter: ExporterOTLP}, "OTLP endpoint is required"},
		{"negative interval", Config{MetricInterval: -time.Second}, "metric interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.errContains == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}
