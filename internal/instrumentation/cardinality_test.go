package instrumentation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractUserDomain(t *testing.T) {
	tests := []struct {
		email    string
		expected string
	}{
		{"jane@example.com", "example.com"},
		{"test@subdomain.example.com", "subdomain.example.com"},
		{"\"odd@local\"@example.com", "example.com"},
		{"invalid", LabelUnknown},
		{"", LabelUnknown},
		{"@", LabelUnknown},
		{"user@", LabelUnknown},
		{"@domain.com", "domain.com"},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractUserDomain(tt.email))
		})
	}
}

func TestRouteLabel(t *testing.T) {
	tests := []struct {
		pattern  string
		expected string
	}{
		{"", LabelUnmatched},
		{"POST /api/merge-mcp", "/api/merge-mcp"},
		{"GET /api/auth/state", "/api/auth/state"},
		{"/mcp", "/mcp"},
		{"GET  /healthz", "/healthz"},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.expected, RouteLabel(tt.pattern))
		})
	}
}
