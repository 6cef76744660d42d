package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys
const (
	attrMethod  = "method"
	attrPath    = "path"
	attrStatus  = "status"
	attrShape   = "shape"
	attrResult  = "result"
	attrTool    = "tool"
	attrAccount = "account"
	attrSource  = "source"
)

// Metrics provides methods for recording observability metrics.
// All methods are safe to call on a nil receiver.
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	// Config metrics
	configMergeTotal   metric.Int64Counter
	configMergeServers metric.Int64Histogram

	// Extension metrics
	extensionConversionsTotal metric.Int64Counter

	// OAuth metrics
	oauthAuthTotal             metric.Int64Counter
	oauthTokenExchangeDuration metric.Float64Histogram
	oauthTokenRevocationsTotal metric.Int64Counter

	// MCP Tool metrics
	toolInvocationsTotal metric.Int64Counter
	toolDuration         metric.Float64Histogram

	// detailedLabels controls whether high-cardinality labels are included
	detailedLabels bool
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The detailedLabels parameter controls whether high-cardinality labels are included.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{
		detailedLabels: detailedLabels,
	}

	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	m.configMergeTotal, err = meter.Int64Counter(
		"config_merge_total",
		metric.WithDescription("Total number of configuration merges"),
		metric.WithUnit("{merge}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create config_merge_total counter: %w", err)
	}

	m.configMergeServers, err = meter.Int64Histogram(
		"config_merge_servers",
		metric.WithDescription("Number of servers in a merged configuration"),
		metric.WithUnit("{server}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 20, 50, 100),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create config_merge_servers histogram: %w", err)
	}

	m.extensionConversionsTotal, err = meter.Int64Counter(
		"extension_conversions_total",
		metric.WithDescription("Total number of extension manifest conversions"),
		metric.WithUnit("{conversion}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create extension_conversions_total counter: %w", err)
	}

	m.oauthAuthTotal, err = meter.Int64Counter(
		"oauth_auth_total",
		metric.WithDescription("Total number of OAuth authorization code exchanges"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_auth_total counter: %w", err)
	}

	m.oauthTokenExchangeDuration, err = meter.Float64Histogram(
		"oauth_token_exchange_duration_seconds",
		metric.WithDescription("Duration of token endpoint round trips in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_token_exchange_duration_seconds histogram: %w", err)
	}

	m.oauthTokenRevocationsTotal, err = meter.Int64Counter(
		"oauth_token_revocations_total",
		metric.WithDescription("Total number of token revocations"),
		metric.WithUnit("{revocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_token_revocations_total counter: %w", err)
	}

	m.toolInvocationsTotal, err = meter.Int64Counter(
		"mcp_tool_invocations_total",
		metric.WithDescription("Total number of MCP tool invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcp_tool_invocations_total counter: %w", err)
	}

	m.toolDuration, err = meter.Float64Histogram(
		"mcp_tool_duration_seconds",
		metric.WithDescription("MCP tool execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcp_tool_duration_seconds histogram: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with method, path, status code, and duration.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.httpRequestsTotal == nil || m.httpRequestDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	}

	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordConfigMerge records a merge.
//
// Parameters:
//   - source: Caller surface ("http", "mcp", "cli")
//   - shape: Shape of the merged output ("bare" or "wrapped"); empty on error
//   - status: Result status ("success" or "error")
//   - total: Number of servers in the merged output
func (m *Metrics) RecordConfigMerge(ctx context.Context, source, shape, status string, total int) {
	if m == nil || m.configMergeTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrSource, source),
		attribute.String(attrStatus, status),
	}
	if shape != "" {
		attrs = append(attrs, attribute.String(attrShape, shape))
	}

	m.configMergeTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	if status == StatusSuccess && m.configMergeServers != nil {
		m.configMergeServers.Record(ctx, int64(total), metric.WithAttributes(attribute.String(attrSource, source)))
	}
}

// RecordExtensionConversion records the outcome of converting one manifest.
// Result should be one of: "success", "missing_server_spec", "error"
func (m *Metrics) RecordExtensionConversion(ctx context.Context, result string) {
	if m == nil || m.extensionConversionsTotal == nil {
		return
	}

	m.extensionConversionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordOAuthAuth records an authorization code exchange with result.
// Result should be one of: "success", "failure", "timeout", "no_client_secret"
func (m *Metrics) RecordOAuthAuth(ctx context.Context, result string) {
	if m == nil || m.oauthAuthTotal == nil {
		return
	}

	m.oauthAuthTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordTokenExchangeDuration records the duration of one token endpoint round trip.
func (m *Metrics) RecordTokenExchangeDuration(ctx context.Context, result string, duration time.Duration) {
	if m == nil || m.oauthTokenExchangeDuration == nil {
		return
	}

	m.oauthTokenExchangeDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordTokenRevocation records a revocation. Result is "removed" when a
// token existed and "absent" otherwise.
func (m *Metrics) RecordTokenRevocation(ctx context.Context, result string) {
	if m == nil || m.oauthTokenRevocationsTotal == nil {
		return
	}

	m.oauthTokenRevocationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordToolInvocation records an MCP tool invocation with tool name, status, and duration.
//
// Parameters:
//   - toolName: Name of the MCP tool (e.g., "mcp_merge_servers", "google_auth_start")
//   - status: Result status ("success" or "error")
//   - duration: Time taken for the tool execution
func (m *Metrics) RecordToolInvocation(ctx context.Context, toolName, status string, duration time.Duration) {
	m.RecordToolInvocationWithAccount(ctx, toolName, status, "", duration)
}

// RecordToolInvocationWithAccount records an MCP tool invocation with account info.
// The account label is only added when detailedLabels is enabled.
func (m *Metrics) RecordToolInvocationWithAccount(ctx context.Context, toolName, status, account string, duration time.Duration) {
	if m == nil || m.toolInvocationsTotal == nil || m.toolDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrTool, toolName),
		attribute.String(attrStatus, status),
	}

	// Only add high-cardinality labels if explicitly enabled
	if m.detailedLabels && account != "" {
		attrs = append(attrs, attribute.String(attrAccount, ExtractUserDomain(account)))
	}

	m.toolInvocationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}
