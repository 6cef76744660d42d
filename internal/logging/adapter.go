package logging

import (
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/util"
)

// MCPLogger routes the printf-style logging of the mcp-go transports into
// slog. Every line carries component=mcp.
type MCPLogger struct {
	logger *slog.Logger
}

var _ util.Logger = (*MCPLogger)(nil)

// NewMCPLogger wraps logger, or slog.Default when logger is nil.
func NewMCPLogger(logger *slog.Logger) *MCPLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &MCPLogger{logger: logger.With(slog.String("component", "mcp"))}
}

func (l *MCPLogger) Infof(format string, v ...any) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

func (l *MCPLogger) Errorf(format string, v ...any) {
	l.logger.Error(fmt.Sprintf(format, v...))
}
