package server

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/teemow/mcpmerge/internal/google"
)

const (
	healthStatusOK           = "ok"
	healthStatusNotReady     = "not ready"
	healthStatusShuttingDown = "shutting down"
)

var (
	errNotReady     = errors.New(healthStatusNotReady)
	errShuttingDown = errors.New(healthStatusShuttingDown)
)

// HealthChecker serves the liveness and readiness probes of the HTTP API.
// It starts ready; HTTPServer.Shutdown flips it before draining.
type HealthChecker struct {
	sc      *ServerContext
	ready   atomic.Bool
	started time.Time
}

// NewHealthChecker creates a ready checker. sc may be nil.
func NewHealthChecker(sc *ServerContext) *HealthChecker {
	h := &HealthChecker{sc: sc, started: time.Now()}
	h.ready.Store(true)
	return h
}

func (h *HealthChecker) SetReady(ready bool) { h.ready.Store(ready) }

func (h *HealthChecker) IsReady() bool { return h.ready.Load() }

// HealthResponse is the body of /healthz and /readyz.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// DetailedHealthResponse is the body of /healthz/detailed. The credential and
// extension fields are informational and never fail the probe.
type DetailedHealthResponse struct {
	HealthResponse
	Uptime            string `json:"uptime"`
	CredentialsDir    string `json:"credentialsDir,omitempty"`
	ClientSecret      string `json:"clientSecret,omitempty"`
	Accounts          int    `json:"accounts"`
	Extensions        int    `json:"extensions"`
	ExtensionsScanned string `json:"extensionsScannedAt,omitempty"`
}

// RegisterHealthEndpoints mounts the probes on mux.
func (h *HealthChecker) RegisterHealthEndpoints(mux *http.ServeMux) {
	mux.Handle("/healthz", h.LivenessHandler())
	mux.Handle("/readyz", h.ReadinessHandler())
	mux.Handle("/healthz/detailed", h.DetailedHealthHandler())
}

// LivenessHandler always answers 200 while the process serves requests.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{Status: healthStatusOK})
	})
}

// ReadinessHandler answers 503 once the checker is marked not ready or the
// server context is shutting down.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp, code := h.evaluate()
		writeJSON(w, code, resp)
	})
}

// DetailedHealthHandler adds credential store and extension catalog details
// to the readiness result.
func (h *HealthChecker) DetailedHealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		base, code := h.evaluate()
		resp := DetailedHealthResponse{
			HealthResponse: base,
			Uptime:         time.Since(h.started).Truncate(time.Second).String(),
		}
		h.describe(r, &resp)
		writeJSON(w, code, resp)
	})
}

// evaluate runs the readiness checks in order. The first failing check sets
// the overall status.
func (h *HealthChecker) evaluate() (HealthResponse, int) {
	checks := []struct {
		name string
		run  func() error
	}{
		{"ready", func() error {
			if !h.ready.Load() {
				return errNotReady
			}
			return nil
		}},
		{"shutdown", func() error {
			if h.sc != nil && h.sc.IsShutdown() {
				return errShuttingDown
			}
			return nil
		}},
	}

	resp := HealthResponse{Status: healthStatusOK, Checks: make(map[string]string, len(checks))}
	code := http.StatusOK
	for _, c := range checks {
		err := c.run()
		if err == nil {
			resp.Checks[c.name] = healthStatusOK
			continue
		}
		resp.Checks[c.name] = err.Error()
		if code == http.StatusOK {
			resp.Status = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	return resp, code
}

func (h *HealthChecker) describe(r *http.Request, resp *DetailedHealthResponse) {
	if h.sc == nil {
		return
	}
	store := h.sc.Store()
	resp.CredentialsDir = store.Root()
	resp.ClientSecret = clientSecretState(store)
	if accounts, err := store.ListAccounts(); err == nil {
		resp.Accounts = len(accounts)
	}

	catalog := h.sc.Catalog()
	if catalog == nil {
		return
	}
	if manifests, err := catalog.List(r.Context()); err == nil {
		resp.Extensions = len(manifests)
	}
	if at := catalog.ScannedAt(); !at.IsZero() {
		resp.ExtensionsScanned = at.UTC().Format(time.RFC3339)
	}
}

func clientSecretState(store *google.Store) string {
	_, err := store.LoadClientSecret()
	switch {
	case err == nil:
		return "installed"
	case errors.Is(err, google.ErrClientSecretMissing):
		return "missing"
	default:
		return "invalid"
	}
}
