package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mcpmerge/internal/extension"
	"github.com/teemow/mcpmerge/internal/instrumentation"
	"github.com/teemow/mcpmerge/internal/logging"
	"github.com/teemow/mcpmerge/internal/server"
	"github.com/teemow/mcpmerge/internal/tools/auth_tools"
	"github.com/teemow/mcpmerge/internal/tools/config_tools"
)

const (
	transportStdio          = "stdio"
	transportStreamableHTTP = "streamable-http"
)

// serveOptions holds the serve command flags.
type serveOptions struct {
	transport        string
	httpAddr         string
	disableStreaming bool
	metricsEnabled   bool
	metricsAddr      string
	shareCredentials bool
	watchExtensions  bool
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and MCP server",
		Long: `Start the Model Context Protocol (MCP) server exposing the merge,
extension and Google credential tools.

Supports multiple transport types:
  - stdio: Standard input/output (default)
  - streamable-http: HTTP API under /api, the OAuth callback under
    /oauth2/callback and the MCP endpoint under /mcp

Metrics:
  With streamable-http, --metrics (or METRICS_ENABLED=true) starts a
  Prometheus endpoint on --metrics-addr (or METRICS_ADDR).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("metrics") && os.Getenv("METRICS_ENABLED") == "true" {
				opts.metricsEnabled = true
			}
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.transport, "transport", transportStdio, "Transport type: stdio or streamable-http")
	cmd.Flags().StringVar(&opts.httpAddr, "http-addr", "", "HTTP listen address (default from config, :8080)")
	cmd.Flags().BoolVar(&opts.disableStreaming, "disable-streaming", false, "Disable SSE streaming on /mcp")
	cmd.Flags().BoolVar(&opts.metricsEnabled, "metrics", false, "Start the Prometheus metrics server (streamable-http only)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Metrics listen address (default from config, :9090)")
	cmd.Flags().BoolVar(&opts.shareCredentials, "share-credentials", false, "Point converted extensions at the shared credentials directory by default")
	cmd.Flags().BoolVar(&opts.watchExtensions, "watch-extensions", true, "Re-scan the extensions directory when it changes")

	return cmd
}

func runServe(cmd *cobra.Command, opts serveOptions) error {
	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadAppConfig()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if opts.httpAddr != "" {
		cfg.HTTPAddr = opts.httpAddr
	}
	if opts.metricsAddr != "" {
		cfg.MetricsAddr = opts.metricsAddr
	}
	if flags.Changed("share-credentials") {
		cfg.ShareCredentials = opts.shareCredentials
	}
	if flags.Changed("watch-extensions") {
		cfg.WatchExtensions = opts.watchExtensions
	}

	logger := slog.Default()

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version
	if cfg.AuditIncludePII {
		instrConfig.AuditLogging.IncludePII = true
	}

	provider, err := instrumentation.NewProvider(shutdownCtx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Warn("instrumentation shutdown failed", logging.Err(err))
		}
	}()

	var ctxOpts contextOptions
	ctxOpts.logger = logger
	if provider.Enabled() {
		ctxOpts.metrics = provider.Metrics()
		ctxOpts.audit = instrumentation.NewAuditLoggerWithConfig(nil, instrConfig.AuditLogging)
	}

	serverContext, catalog, err := newServerContext(shutdownCtx, cfg, ctxOpts)
	if err != nil {
		return err
	}
	defer func() {
		if err := serverContext.Shutdown(); err != nil {
			logger.Warn("server context shutdown failed", logging.Err(err))
		}
	}()

	if cfg.WatchExtensions {
		watcher := extension.NewWatcher(catalog, 0, logger)
		if err := watcher.Start(shutdownCtx); err != nil {
			logger.Warn("extension watcher disabled", logging.Err(err))
		} else {
			defer func() {
				_ = watcher.Stop()
			}()
		}
	}

	mcpSrv := mcpserver.NewMCPServer("mcpmerge", version,
		mcpserver.WithToolCapabilities(true),
	)
	if err := registerAllTools(mcpSrv, serverContext); err != nil {
		return err
	}

	switch opts.transport {
	case transportStdio:
		return runStdioServer(mcpSrv)
	case transportStreamableHTTP, "http":
		return runStreamableHTTPServer(shutdownCtx, serverContext, mcpSrv, httpServeConfig{
			addr:             cfg.HTTPAddr,
			disableStreaming: opts.disableStreaming,
			metricsEnabled:   opts.metricsEnabled,
			metricsAddr:      cfg.MetricsAddr,
			metricsPath:      instrConfig.PrometheusEndpoint,
		}, provider)
	default:
		return fmt.Errorf("unsupported transport type: %s (supported: %s)",
			opts.transport, strings.Join([]string{transportStdio, transportStreamableHTTP}, ", "))
	}
}

func runStdioServer(mcpSrv *mcpserver.MCPServer) error {
	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := mcpserver.ServeStdio(mcpSrv); err != nil {
			serverDone <- err
		}
	}()

	err := <-serverDone
	if err != nil {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}

// registerAllTools registers all MCP tools.
func registerAllTools(mcpSrv *mcpserver.MCPServer, sc *server.ServerContext) error {
	type toolRegistration struct {
		name     string
		register func() error
	}

	registrations := []toolRegistration{
		{
			name: "Config",
			register: func() error {
				return config_tools.RegisterConfigTools(mcpSrv, sc)
			},
		},
		{
			name: "Google Auth",
			register: func() error {
				return auth_tools.RegisterAuthTools(mcpSrv, sc)
			},
		},
	}

	for _, reg := range registrations {
		if err := reg.register(); err != nil {
			return fmt.Errorf("failed to register %s tools: %w", reg.name, err)
		}
	}
	return nil
}

// httpServeConfig holds the resolved streamable-http settings.
type httpServeConfig struct {
	addr             string
	disableStreaming bool
	metricsEnabled   bool
	metricsAddr      string
	metricsPath      string
}

func runStreamableHTTPServer(ctx context.Context, sc *server.ServerContext, mcpSrv *mcpserver.MCPServer, cfg httpServeConfig, provider *instrumentation.Provider) error {
	logger := sc.Logger()

	var metricsServer *server.MetricsServer
	if cfg.metricsEnabled && provider.Enabled() {
		var err error
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.metricsAddr,
			Path:                    cfg.metricsPath,
			InstrumentationProvider: provider,
			Logger:                  logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", logging.Err(err))
			}
		}()
	}

	httpServer := server.NewHTTPServer(sc, server.HTTPConfig{
		Addr:             cfg.addr,
		MCPServer:        mcpSrv,
		DisableStreaming: cfg.disableStreaming,
	})

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping HTTP server")
	case err := <-serverDone:
		if err != nil {
			runErr = fmt.Errorf("HTTP server stopped with error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
	defer cancel()

	var errs []error
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("error shutting down HTTP server: %w", err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("error shutting down metrics server: %w", err))
		}
	}
	if runErr != nil {
		return runErr
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	logger.Info("HTTP server gracefully stopped")
	return nil
}

// parseCommaSeparatedList parses a comma-separated string into a slice,
// trimming whitespace from each element and filtering out empty strings.
// Returns nil if the input is empty or contains only whitespace/commas.
func parseCommaSeparatedList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
