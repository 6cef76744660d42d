package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/teemow/mcpmerge/internal/authstatus"
	"github.com/teemow/mcpmerge/internal/extension"
	"github.com/teemow/mcpmerge/internal/google"
	"github.com/teemow/mcpmerge/internal/instrumentation"
)

// Options configures a ServerContext.
type Options struct {
	// Flow is required. Its store is the credential store.
	Flow *google.FlowManager

	// Catalog lists installed extensions. Nil disables extension operations.
	Catalog *extension.Catalog

	// ShareCredentials is the conversion default when a request does not say.
	ShareCredentials bool

	Metrics *instrumentation.Metrics
	Audit   *instrumentation.AuditLogger
	Logger  *slog.Logger
}

// ServerContext holds the dependencies shared by the HTTP API and the MCP
// tools.
type ServerContext struct {
	ctx     context.Context
	cancel  context.CancelFunc
	flow    *google.FlowManager
	catalog *extension.Catalog
	scanner *authstatus.Scanner
	share   bool
	metrics *instrumentation.Metrics
	audit   *instrumentation.AuditLogger
	logger  *slog.Logger

	mu       sync.RWMutex
	shutdown bool
}

// ErrNoCatalog is returned by extension operations when no extensions
// directory is configured.
var ErrNoCatalog = errors.New("extensions directory is not configured")

// NewServerContext creates a new server context.
func NewServerContext(ctx context.Context, opts Options) (*ServerContext, error) {
	if opts.Flow == nil {
		return nil, errors.New("server context requires a flow manager")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	shutdownCtx, cancel := context.WithCancel(ctx)

	return &ServerContext{
		ctx:     shutdownCtx,
		cancel:  cancel,
		flow:    opts.Flow,
		catalog: opts.Catalog,
		scanner: authstatus.NewScanner(opts.Flow.Store(), opts.Logger),
		share:   opts.ShareCredentials,
		metrics: opts.Metrics,
		audit:   opts.Audit,
		logger:  opts.Logger,
	}, nil
}

// Context returns the server context.
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Flow returns the OAuth flow manager.
func (sc *ServerContext) Flow() *google.FlowManager {
	return sc.flow
}

// Store returns the credential store.
func (sc *ServerContext) Store() *google.Store {
	return sc.flow.Store()
}

// Catalog returns the extension catalog, or nil.
func (sc *ServerContext) Catalog() *extension.Catalog {
	return sc.catalog
}

// ShareCredentials returns the default for extension conversion.
func (sc *ServerContext) ShareCredentials() bool {
	return sc.share
}

// Metrics returns the metrics recorder (may be nil).
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	return sc.metrics
}

// AuditLogger returns the audit logger (may be nil).
func (sc *ServerContext) AuditLogger() *instrumentation.AuditLogger {
	return sc.audit
}

// Logger returns the server logger.
func (sc *ServerContext) Logger() *slog.Logger {
	return sc.logger
}

// IsShutdown returns whether the server has been shutdown.
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown shuts down the server context.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}

	sc.shutdown = true
	sc.cancel()
	return nil
}
