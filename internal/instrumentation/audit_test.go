package instrumentation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

const testEmail = "jane@example.com"

func attrMap(attrs []slog.Attr) map[string]slog.Value {
	m := make(map[string]slog.Value, len(attrs))
	for _, a := range attrs {
		m[a.Key] = a.Value
	}
	return m
}

func TestToolInvocation_Lifecycle(t *testing.T) {
	ti := NewToolInvocation("google_auth_exchange").WithAccount(testEmail).WithServer("gmail")
	if ti.StartTime.IsZero() {
		t.Error("StartTime should not be zero")
	}

	ti.CompleteWithError(errors.New("token exchange failed"))

	if ti.Success {
		t.Error("Success should be false")
	}
	if ti.Status() != StatusError {
		t.Errorf("Status() = %q, want %q", ti.Status(), StatusError)
	}
	if ti.Error != "token exchange failed" {
		t.Errorf("Error = %q", ti.Error)
	}
	if ti.UserDomain() != "example.com" {
		t.Errorf("UserDomain() = %q", ti.UserDomain())
	}

	ti.CompleteSuccess()
	if ti.Status() != StatusSuccess {
		t.Errorf("Status() = %q, want %q", ti.Status(), StatusSuccess)
	}
}

func TestToolInvocation_LogAttrsHidePII(t *testing.T) {
	ti := NewToolInvocation("google_auth_start").WithAccount(testEmail).WithServer("google-drive")
	ti.TraceID = "trace"
	ti.SpanID = "span"
	ti.CompleteSuccess()

	general := attrMap(ti.LogAttrs())
	if _, ok := general["user"]; ok {
		t.Error("LogAttrs must not include the full email")
	}
	if general["user_domain"].String() != "example.com" {
		t.Errorf("user_domain = %q", general["user_domain"].String())
	}
	if general["server"].String() != "google-drive" {
		t.Errorf("server = %q", general["server"].String())
	}
	if _, ok := general["span_id"]; ok {
		t.Error("LogAttrs should not include span_id")
	}

	audit := attrMap(ti.LogAuditAttrs())
	if audit["user"].String() != testEmail {
		t.Errorf("user = %q", audit["user"].String())
	}
	if audit["span_id"].String() != "span" {
		t.Errorf("span_id = %q", audit["span_id"].String())
	}
}

func TestAuditLogger_LogToolInvocation(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	al.LogToolInvocation(NewToolInvocation("extensions_list").CompleteSuccess())
	al.LogToolInvocation(NewToolInvocation("extensions_convert").CompleteWithError(errors.New("boom")))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"msg":"tool_executed"`) {
		t.Errorf("unexpected first line %s", lines[0])
	}
	if !strings.Contains(lines[1], `"msg":"tool_failed"`) || !strings.Contains(lines[1], `"level":"WARN"`) {
		t.Errorf("unexpected second line %s", lines[1])
	}

	buf.Reset()
	al.SetEnabled(false)
	al.LogToolInvocation(NewToolInvocation("extensions_list").CompleteSuccess())
	if buf.Len() != 0 {
		t.Error("disabled logger should not write")
	}

	var nilLogger *AuditLogger
	nilLogger.LogToolInvocation(NewToolInvocation("x"))
}

func TestAuditLogger_LogAuthEvent(t *testing.T) {
	tests := []struct {
		name       string
		includePII bool
		wantUser   bool
	}{
		{"anonymised", false, false},
		{"with pii", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			al := NewAuditLoggerWithConfig(slog.New(slog.NewJSONHandler(&buf, nil)), AuditLoggingConfig{
				Enabled:    true,
				IncludePII: tt.includePII,
			})

			al.LogAuthEvent(context.Background(), AuthEvent{
				Event:   AuthEventRevoke,
				Email:   testEmail,
				Server:  "gmail",
				Success: true,
			})

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("invalid log line: %v", err)
			}
			if entry["msg"] != "auth_audit" || entry["event"] != AuthEventRevoke {
				t.Errorf("unexpected entry %v", entry)
			}
			_, hasUser := entry["user"]
			_, hasHash := entry["user_hash"]
			if hasUser != tt.wantUser || hasHash == tt.wantUser {
				t.Errorf("user present = %v, hash present = %v", hasUser, hasHash)
			}
			if strings.Contains(buf.String(), testEmail) != tt.wantUser {
				t.Error("email exposure does not match IncludePII")
			}
		})
	}
}
