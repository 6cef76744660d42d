package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mcpmerge/internal/instrumentation"
)

func newTestProvider(t *testing.T, enabled bool) *instrumentation.Provider {
	t.Helper()
	provider, err := instrumentation.NewProvider(context.Background(), instrumentation.Config{
		ServiceName:     "mcpmerge-test",
		ServiceVersion:  "test",
		Enabled:         enabled,
		MetricsExporter: instrumentation.ExporterPrometheus,
		TracingExporter: instrumentation.ExporterNone,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
	})
	return provider
}

func TestNewMetricsServer_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  MetricsServerConfig
		wantErr string
	}{
		{
			name:    "nil provider",
			config:  MetricsServerConfig{Addr: ":9090"},
			wantErr: "instrumentation provider is required",
		},
		{
			name:    "disabled provider",
			config:  MetricsServerConfig{InstrumentationProvider: newTestProvider(t, false)},
			wantErr: "instrumentation provider is not enabled",
		},
		{
			name:   "defaults",
			config: MetricsServerConfig{InstrumentationProvider: newTestProvider(t, true)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, err := NewMetricsServer(tt.config)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DefaultMetricsAddr, srv.Addr())
		})
	}
}

func TestMetricsServer_ScrapesDomainMetrics(t *testing.T) {
	provider := newTestProvider(t, true)
	provider.Metrics().RecordConfigMerge(context.Background(),
		instrumentation.SourceHTTP, "wrapped", instrumentation.StatusSuccess, 2)

	srv, err := NewMetricsServer(MetricsServerConfig{
		Path:                    "/internal/metrics",
		InstrumentationProvider: provider,
	})
	require.NoError(t, err)

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{path: "/internal/metrics", wantStatus: http.StatusOK, wantBody: "config_merge_total"},
		{path: "/healthz", wantStatus: http.StatusOK, wantBody: "ok"},
		{path: "/metrics", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestMetricsServer_StartAndShutdown(t *testing.T) {
	srv, err := NewMetricsServer(MetricsServerConfig{
		Addr:                    "127.0.0.1:0",
		InstrumentationProvider: newTestProvider(t, true),
	})
	require.NoError(t, err)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	require.Eventually(t, func() bool {
		return srv.Addr() != "127.0.0.1:0"
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Errorf("server error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Start did not return after Shutdown")
	}
}

func TestMetricsServer_ShutdownWithoutStart(t *testing.T) {
	srv, err := NewMetricsServer(MetricsServerConfig{
		Addr:                    ":9091",
		InstrumentationProvider: newTestProvider(t, true),
	})
	require.NoError(t, err)
	assert.Equal(t, ":9091", srv.Addr())
	assert.NoError(t, srv.Shutdown(context.Background()))
}
