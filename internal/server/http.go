package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mcpmerge/internal/logging"
)

const (
	// DefaultReadHeaderTimeout bounds reading request headers.
	DefaultReadHeaderTimeout = 10 * time.Second

	// DefaultIdleTimeout closes idle keep-alive connections.
	DefaultIdleTimeout = 120 * time.Second

	// writeTimeoutSlack is added to the exchange timeout so a slow token
	// endpoint still gets its full budget.
	writeTimeoutSlack = 10 * time.Second
)

// HTTPConfig configures an HTTPServer.
type HTTPConfig struct {
	// Addr is the listen address (e.g. ":8080").
	Addr string

	// MCPServer, when set, is served with the streamable HTTP transport on
	// /mcp.
	MCPServer *mcpserver.MCPServer

	// DisableStreaming turns off SSE responses on /mcp.
	DisableStreaming bool

	// Health provides the probe endpoints. A new checker is created if nil.
	Health *HealthChecker
}

// HTTPServer serves the JSON API, the OAuth callback, health probes and
// optionally the MCP streamable HTTP endpoint.
type HTTPServer struct {
	sc      *ServerContext
	addr    string
	handler http.Handler
	health  *HealthChecker
	logger  *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// NewHTTPServer builds the HTTP handler tree for sc.
func NewHTTPServer(sc *ServerContext, cfg HTTPConfig) *HTTPServer {
	if cfg.Health == nil {
		cfg.Health = NewHealthChecker(sc)
	}
	logger := logging.WithOperation(sc.Logger(), "http")

	mux := http.NewServeMux()
	NewAPI(sc).Register(mux)
	cfg.Health.RegisterHealthEndpoints(mux)

	if cfg.MCPServer != nil {
		mcpHandler := mcpserver.NewStreamableHTTPServer(cfg.MCPServer,
			mcpserver.WithEndpointPath("/mcp"),
			mcpserver.WithDisableStreaming(cfg.DisableStreaming),
			mcpserver.WithLogger(logging.NewMCPLogger(logger)),
		)
		mux.Handle("/mcp", mcpHandler)
	}

	var handler http.Handler = mux
	handler = MetricsMiddleware(sc.Metrics(), logger, handler)
	handler = SecurityHeadersMiddleware(handler)
	handler = RequestIDMiddleware(handler)

	return &HTTPServer{
		sc:      sc,
		addr:    cfg.Addr,
		handler: handler,
		health:  cfg.Health,
		logger:  logger,
	}
}

// Handler returns the root handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.handler
}

// Health returns the health checker.
func (s *HTTPServer) Health() *HealthChecker {
	return s.health
}

// Addr returns the bound address once started, else the configured one.
func (s *HTTPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Start listens and serves until Shutdown. It blocks.
func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      s.sc.Flow().Timeout() + writeTimeoutSlack,
		IdleTimeout:       DefaultIdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return s.sc.Context() },
	}

	s.mu.Lock()
	s.httpServer = srv
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", slog.String("addr", ln.Addr().String()))
	return srv.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	s.health.SetReady(false)
	if srv == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return srv.Shutdown(ctx)
}
