// Package instrumentation wires OpenTelemetry metrics, tracing and the audit
// log for mcpmerge.
//
// A Provider owns the meter and tracer providers. With the prometheus
// exporter it also owns a private registry, served by the metrics listener
// of "mcpmerge serve --metrics".
//
// # Metrics
//
//	http_requests_total                    method, path, status
//	http_request_duration_seconds          method, path, status
//	config_merge_total                     source, shape, status
//	config_merge_servers                   source
//	extension_conversions_total            result
//	oauth_auth_total                       result
//	oauth_token_exchange_duration_seconds  result
//	oauth_token_revocations_total          result
//	mcp_tool_invocations_total             tool, status
//	mcp_tool_duration_seconds              tool, status
//
// Paths are ServeMux route patterns and accounts are reduced to their email
// domain, so label cardinality stays bounded.
//
// # Tracing
//
// MCP tool calls open a server span named tool.<name>; token endpoint calls
// open a client span named oauth.<operation>. The default tracing exporter is
// "none".
//
// # Configuration
//
// DefaultConfig reads INSTRUMENTATION_ENABLED, METRICS_EXPORTER,
// TRACING_EXPORTER, OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_TRACES_SAMPLER_ARG,
// OTEL_METRIC_EXPORT_INTERVAL and the audit switches. See ConfigFromEnv for
// the complete list.
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	provider.Metrics().RecordConfigMerge(ctx, instrumentation.SourceCLI, "wrapped", instrumentation.StatusSuccess, 5)
package instrumentation
