package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName identifies spans emitted by mcpmerge.
const TracerName = "github.com/teemow/mcpmerge"

// Span attribute keys.
const (
	SpanAttrTool        = "mcp.tool"
	SpanAttrServer      = "mcp.server"
	SpanAttrOperation   = "mcpmerge.operation"
	SpanAttrAccount     = "mcp.account"
	SpanAttrServerCount = "mcp.server_count"
)

// SpanAttrs describes the domain attributes of a span. Zero fields are
// omitted.
type SpanAttrs struct {
	Tool      string
	Server    string
	Operation string
	// Account is reduced to its email domain before it is recorded.
	Account     string
	ServerCount int
}

// KeyValues converts a into OpenTelemetry attributes.
func (a SpanAttrs) KeyValues() []attribute.KeyValue {
	kv := make([]attribute.KeyValue, 0, 5)
	if a.Tool != "" {
		kv = append(kv, attribute.String(SpanAttrTool, a.Tool))
	}
	if a.Server != "" {
		kv = append(kv, attribute.String(SpanAttrServer, a.Server))
	}
	if a.Operation != "" {
		kv = append(kv, attribute.String(SpanAttrOperation, a.Operation))
	}
	if a.Account != "" {
		kv = append(kv, attribute.String(SpanAttrAccount, ExtractUserDomain(a.Account)))
	}
	if a.ServerCount > 0 {
		kv = append(kv, attribute.Int(SpanAttrServerCount, a.ServerCount))
	}
	return kv
}

func startSpan(ctx context.Context, name string, kind trace.SpanKind, attrs SpanAttrs) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, name,
		trace.WithSpanKind(kind),
		trace.WithAttributes(attrs.KeyValues()...),
	)
}

// StartSpan starts an internal span. Callers must end it.
func StartSpan(ctx context.Context, name string, attrs SpanAttrs) (context.Context, trace.Span) {
	return startSpan(ctx, name, trace.SpanKindInternal, attrs)
}

// StartToolSpan starts a server span named "tool.<name>" for an MCP tool call.
func StartToolSpan(ctx context.Context, toolName string, attrs SpanAttrs) (context.Context, trace.Span) {
	attrs.Tool = toolName
	return startSpan(ctx, "tool."+toolName, trace.SpanKindServer, attrs)
}

// StartOAuthSpan starts a client span for a call to the Google OAuth endpoints.
func StartOAuthSpan(ctx context.Context, operation string, attrs SpanAttrs) (context.Context, trace.Span) {
	attrs.Operation = operation
	return startSpan(ctx, "oauth."+operation, trace.SpanKindClient, attrs)
}

// FinishSpan sets the span status from err. It does not end the span.
func FinishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// GetTraceID returns the trace ID of the span in ctx, or "" when there is
// none.
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
