package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/teemow/mcpmerge/internal/appconfig"
	"github.com/teemow/mcpmerge/internal/extension"
	"github.com/teemow/mcpmerge/internal/google"
	"github.com/teemow/mcpmerge/internal/instrumentation"
	"github.com/teemow/mcpmerge/internal/server"
)

// loadAppConfig reads the config file, then the environment, then the
// directory flags.
func loadAppConfig() (appconfig.Config, error) {
	var (
		cfg appconfig.Config
		err error
	)
	if configPath == "" {
		cfg, err = appconfig.LoadDefault()
	} else {
		cfg, err = appconfig.Load(configPath)
		if err == nil {
			err = cfg.ApplyEnv(os.Getenv)
		}
	}
	if err != nil {
		return appconfig.Config{}, err
	}

	if credentialsDir != "" {
		cfg.CredentialsDir = credentialsDir
	}
	if extensionsDir != "" {
		cfg.ExtensionsDir = extensionsDir
	}
	return cfg, cfg.Validate()
}

// contextOptions carries the optional telemetry for newServerContext.
type contextOptions struct {
	metrics *instrumentation.Metrics
	audit   *instrumentation.AuditLogger
	logger  *slog.Logger
}

// newServerContext wires the credential store, flow manager and extension
// catalog described by cfg.
func newServerContext(ctx context.Context, cfg appconfig.Config, opts contextOptions) (*server.ServerContext, *extension.Catalog, error) {
	logger := opts.logger
	if logger == nil {
		logger = slog.Default()
	}

	store := google.NewStore(cfg.CredentialsDir, logger)
	flow, err := google.NewFlowManager(google.FlowConfig{
		Store:   store,
		Timeout: time.Duration(cfg.ExchangeTimeout),
		Metrics: opts.metrics,
		Audit:   opts.audit,
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create flow manager: %w", err)
	}

	catalog := extension.NewCatalog(extension.NewScanner(cfg.ExtensionsDir, logger))

	sc, err := server.NewServerContext(ctx, server.Options{
		Flow:             flow,
		Catalog:          catalog,
		ShareCredentials: cfg.ShareCredentials,
		Metrics:          opts.metrics,
		Audit:            opts.audit,
		Logger:           logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create server context: %w", err)
	}
	return sc, catalog, nil
}

// withServerContext loads the configuration and runs fn with a server context
// that is shut down afterwards.
func withServerContext(ctx context.Context, fn func(sc *server.ServerContext) error) error {
	cfg, err := loadAppConfig()
	if err != nil {
		return err
	}
	sc, _, err := newServerContext(ctx, cfg, contextOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = sc.Shutdown()
	}()
	return fn(sc)
}
