package instrumentation

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"
)

// Config controls the telemetry of a mcpmerge process. Build it with
// DefaultConfig or ConfigFromEnv and override fields from flags afterwards.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// ServiceInstanceID falls back to the hostname when empty.
	ServiceInstanceID string
	K8sNamespace      string
	K8sPodName        string

	// Enabled turns metrics and tracing on. INSTRUMENTATION_ENABLED=false
	// yields a no-op provider.
	Enabled bool

	// MetricsExporter is one of prometheus, otlp or stdout.
	MetricsExporter string
	// TracingExporter is one of otlp, stdout or none.
	TracingExporter string

	// OTLPEndpoint is host:port without a scheme.
	OTLPEndpoint string
	// OTLPInsecure sends OTLP over plain HTTP. Spans carry account domains,
	// so keep this off outside local development.
	OTLPInsecure bool

	// TraceSamplingRate is the parent-based ratio in [0, 1].
	TraceSamplingRate float64

	// MetricInterval is the push interval of the otlp and stdout exporters.
	MetricInterval time.Duration

	// PrometheusEndpoint is the scrape path on the metrics listener.
	PrometheusEndpoint string

	// DetailedLabels adds the account domain to tool invocation metrics.
	DetailedLabels bool

	AuditLogging AuditLoggingConfig
}

// AuditLoggingConfig controls the audit trail for tool calls and auth events.
type AuditLoggingConfig struct {
	Enabled bool

	// IncludePII records full email addresses instead of hashes. Audit
	// output must then be stored with matching access controls.
	IncludePII bool
}

// Environment variables read by ConfigFromEnv.
const (
	EnvServiceName       = "OTEL_SERVICE_NAME"
	EnvServiceInstanceID = "OTEL_SERVICE_INSTANCE_ID"
	EnvEnabled           = "INSTRUMENTATION_ENABLED"
	EnvMetricsExporter   = "METRICS_EXPORTER"
	EnvTracingExporter   = "TRACING_EXPORTER"
	EnvOTLPEndpoint      = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvOTLPInsecure      = "OTEL_EXPORTER_OTLP_INSECURE"
	EnvSamplingRate      = "OTEL_TRACES_SAMPLER_ARG"
	EnvMetricInterval    = "OTEL_METRIC_EXPORT_INTERVAL"
	EnvPrometheusPath    = "PROMETHEUS_ENDPOINT"
	EnvDetailedLabels    = "METRICS_DETAILED_LABELS"
	EnvAuditEnabled      = "AUDIT_LOGGING_ENABLED"
	EnvAuditIncludePII   = "AUDIT_LOGGING_INCLUDE_PII"
)

// DefaultConfig reads the configuration from the process environment.
func DefaultConfig() Config {
	return ConfigFromEnv(os.Getenv)
}

// ConfigFromEnv builds a Config from getenv. Unset or unparsable values keep
// their defaults.
func ConfigFromEnv(getenv func(string) string) Config {
	env := envReader(getenv)
	return Config{
		ServiceName:        env.str(EnvServiceName, "mcpmerge"),
		ServiceVersion:     "unknown",
		ServiceInstanceID:  env.str(EnvServiceInstanceID, ""),
		K8sNamespace:       env.str("K8S_NAMESPACE", env.str("POD_NAMESPACE", "")),
		K8sPodName:         env.str("K8S_POD_NAME", env.str("HOSTNAME", "")),
		Enabled:            env.boolean(EnvEnabled, true),
		MetricsExporter:    env.str(EnvMetricsExporter, ExporterPrometheus),
		TracingExporter:    env.str(EnvTracingExporter, ExporterNone),
		OTLPEndpoint:       env.str(EnvOTLPEndpoint, ""),
		OTLPInsecure:       env.boolean(EnvOTLPInsecure, false),
		TraceSamplingRate:  env.float(EnvSamplingRate, 0.1),
		MetricInterval:     env.millis(EnvMetricInterval, DefaultMetricInterval),
		PrometheusEndpoint: env.str(EnvPrometheusPath, DefaultPrometheusEndpoint),
		DetailedLabels:     env.boolean(EnvDetailedLabels, false),
		AuditLogging: AuditLoggingConfig{
			Enabled:    env.boolean(EnvAuditEnabled, true),
			IncludePII: env.boolean(EnvAuditIncludePII, false),
		},
	}
}

var (
	metricsExporters = []string{ExporterPrometheus, ExporterOTLP, ExporterStdout}
	tracingExporters = []string{ExporterOTLP, ExporterStdout, ExporterNone}
)

// Validate reports the first inconsistency in c. Empty exporters are
// accepted and treated as their defaults.
func (c *Config) Validate() error {
	if c.TraceSamplingRate < 0 || c.TraceSamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0.0 and 1.0, got %f", c.TraceSamplingRate)
	}
	if c.MetricsExporter != "" && !slices.Contains(metricsExporters, c.MetricsExporter) {
		return fmt.Errorf("invalid metrics exporter %q, must be one of: %v", c.MetricsExporter, metricsExporters)
	}
	if c.TracingExporter != "" && !slices.Contains(tracingExporters, c.TracingExporter) {
		return fmt.Errorf("invalid tracing exporter %q, must be one of: %v", c.TracingExporter, tracingExporters)
	}
	if c.OTLPEndpoint == "" {
		if c.TracingExporter == ExporterOTLP {
			return fmt.Errorf("OTLP endpoint is required when using OTLP tracing exporter")
		}
		if c.MetricsExporter == ExporterOTLP {
			return fmt.Errorf("OTLP endpoint is required when using OTLP metrics exporter")
		}
	}
	if c.MetricInterval < 0 {
		return fmt.Errorf("metric interval must not be negative, got %s", c.MetricInterval)
	}
	return nil
}

type envReader func(string) string

func (e envReader) str(key, def string) string {
	if v := e(key); v != "" {
		return v
	}
	return def
}

func (e envReader) boolean(key string, def bool) bool {
	v, err := strconv.ParseBool(e(key))
	if err != nil {
		return def
	}
	return v
}

func (e envReader) float(key string, def float64) float64 {
	v, err := strconv.ParseFloat(e(key), 64)
	if err != nil {
		return def
	}
	return v
}

// millis follows the OTel convention of an integer millisecond value.
func (e envReader) millis(key string, def time.Duration) time.Duration {
	v, err := strconv.Atoi(e(key))
	if err != nil || v <= 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}

// Metric label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusUnknown = "unknown"

	OAuthResultSuccess        = "success"
	OAuthResultFailure        = "failure"
	OAuthResultTimeout        = "timeout"
	OAuthResultNoClientSecret = "no_client_secret"

	RevocationRemoved = "removed"
	RevocationAbsent  = "absent"

	ConversionSuccess           = "success"
	ConversionMissingServerSpec = "missing_server_spec"
	ConversionError             = "error"

	// Caller surfaces.
	SourceHTTP = "http"
	SourceMCP  = "mcp"
	SourceCLI  = "cli"
)

// Exporter names.
const (
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"
)

const (
	DefaultMetricInterval     = 10 * time.Second
	DefaultPrometheusEndpoint = "/metrics"
)
