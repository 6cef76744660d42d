package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/teemow/mcpmerge/internal/logging"
)

// ToolInvocation captures information about one MCP tool call for audit
// logging.
//
// # Privacy Considerations
//
// Account contains PII. LogAttrs only emits its domain; LogAuditAttrs emits
// the full address and should be routed to an access-controlled stream.
type ToolInvocation struct {
	Tool string

	// Account is the Google account email the call acted on, if any.
	Account string
	// Server is the MCP server name the call concerned, if any.
	Server string

	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Error     string

	TraceID string
	SpanID  string
}

// UserDomain returns the domain portion of Account.
func (ti *ToolInvocation) UserDomain() string {
	return ExtractUserDomain(ti.Account)
}

// Status returns "success" or "error" based on the Success field.
func (ti *ToolInvocation) Status() string {
	if ti.Success {
		return StatusSuccess
	}
	return StatusError
}

// LogAttrs returns cardinality-controlled slog attributes.
func (ti *ToolInvocation) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("tool", ti.Tool),
		slog.Duration("duration", ti.Duration),
		slog.Bool("success", ti.Success),
	}
	if ti.Account != "" {
		attrs = append(attrs, slog.String("user_domain", ti.UserDomain()))
	}
	return ti.appendCommon(attrs, false)
}

// LogAuditAttrs returns slog attributes including the full account email.
func (ti *ToolInvocation) LogAuditAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("tool", ti.Tool),
		slog.Duration("duration", ti.Duration),
		slog.Bool("success", ti.Success),
	}
	if ti.Account != "" {
		attrs = append(attrs, slog.String("user", ti.Account))
	}
	return ti.appendCommon(attrs, true)
}

func (ti *ToolInvocation) appendCommon(attrs []slog.Attr, withSpan bool) []slog.Attr {
	if ti.Server != "" {
		attrs = append(attrs, slog.String("server", ti.Server))
	}
	if ti.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", ti.TraceID))
	}
	if withSpan && ti.SpanID != "" {
		attrs = append(attrs, slog.String("span_id", ti.SpanID))
	}
	if ti.Error != "" {
		attrs = append(attrs, slog.String("error", ti.Error))
	}
	return attrs
}

// NewToolInvocation creates a new ToolInvocation with timing started.
// Call Complete() when the tool operation finishes.
func NewToolInvocation(tool string) *ToolInvocation {
	return &ToolInvocation{
		Tool:      tool,
		StartTime: time.Now(),
	}
}

// WithAccount sets the Google account email.
func (ti *ToolInvocation) WithAccount(email string) *ToolInvocation {
	ti.Account = email
	return ti
}

// WithServer sets the MCP server name.
func (ti *ToolInvocation) WithServer(server string) *ToolInvocation {
	ti.Server = server
	return ti
}

// WithSpanContext extracts trace context from the current span.
func (ti *ToolInvocation) WithSpanContext(ctx context.Context) *ToolInvocation {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		ti.TraceID = span.SpanContext().TraceID().String()
		ti.SpanID = span.SpanContext().SpanID().String()
	}
	return ti
}

// Complete marks the invocation as completed and calculates duration.
func (ti *ToolInvocation) Complete(success bool, err error) *ToolInvocation {
	ti.Duration = time.Since(ti.StartTime)
	ti.Success = success
	if err != nil {
		ti.Error = err.Error()
	}
	return ti
}

// CompleteWithError marks the invocation as failed with the given error.
func (ti *ToolInvocation) CompleteWithError(err error) *ToolInvocation {
	return ti.Complete(false, err)
}

// CompleteSuccess marks the invocation as successful.
func (ti *ToolInvocation) CompleteSuccess() *ToolInvocation {
	return ti.Complete(true, nil)
}

// Auth event names.
const (
	AuthEventStart        = "authorization_started"
	AuthEventExchange     = "code_exchanged"
	AuthEventRevoke       = "token_revoked"
	AuthEventClientSecret = "client_secret_saved"
)

// AuthEvent records a change to stored Google credentials.
type AuthEvent struct {
	Event     string
	Email     string
	AccountID string
	Server    string
	Success   bool
	Error     string
}

// AuditLogger provides structured audit logging for tool invocations and
// credential changes.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger creates a new AuditLogger with the given slog.Logger.
// By default, PII is not included in logs.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return NewAuditLoggerWithConfig(logger, AuditLoggingConfig{Enabled: true})
}

// NewAuditLoggerWithConfig creates a new AuditLogger with the given configuration.
func NewAuditLoggerWithConfig(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger,
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

// SetIncludePII sets whether to include full email addresses in audit logs.
func (al *AuditLogger) SetIncludePII(include bool) {
	al.includePII = include
}

// SetEnabled sets whether audit logging is enabled.
func (al *AuditLogger) SetEnabled(enabled bool) {
	al.enabled = enabled
}

// LogToolInvocation logs a tool invocation. Full account emails are only
// included when IncludePII is set.
func (al *AuditLogger) LogToolInvocation(ti *ToolInvocation) {
	if al == nil || !al.enabled {
		return
	}

	var attrs []slog.Attr
	if al.includePII {
		attrs = ti.LogAuditAttrs()
	} else {
		attrs = ti.LogAttrs()
	}

	level := slog.LevelInfo
	msg := "tool_executed"
	if !ti.Success {
		level = slog.LevelWarn
		msg = "tool_failed"
	}
	al.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// LogAuthEvent logs a credential change. Without IncludePII the email is
// replaced by its hash.
func (al *AuditLogger) LogAuthEvent(ctx context.Context, ev AuthEvent) {
	if al == nil || !al.enabled {
		return
	}

	attrs := []slog.Attr{
		slog.String("event", ev.Event),
		slog.Bool("success", ev.Success),
	}
	if ev.Email != "" {
		if al.includePII {
			attrs = append(attrs, slog.String("user", ev.Email))
		} else {
			attrs = append(attrs, logging.UserHash(ev.Email))
		}
	}
	if ev.AccountID != "" {
		attrs = append(attrs, slog.String("account_id", ev.AccountID))
	}
	if ev.Server != "" {
		attrs = append(attrs, slog.String("server", ev.Server))
	}
	if traceID := GetTraceID(ctx); traceID != "" {
		attrs = append(attrs, slog.String("trace_id", traceID))
	}
	if ev.Error != "" {
		attrs = append(attrs, slog.String("error", ev.Error))
	}

	al.logger.LogAttrs(ctx, slog.LevelInfo, "auth_audit", attrs...)
}
