package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/teemow/mcpmerge/internal/extension"
	"github.com/teemow/mcpmerge/internal/google"
	"github.com/teemow/mcpmerge/internal/instrumentation"
	"github.com/teemow/mcpmerge/internal/logging"
	"github.com/teemow/mcpmerge/internal/mcpconfig"
)

// MaxUploadSize caps request bodies and uploaded files.
const MaxUploadSize = 50 << 20

// Error codes returned in the response envelope.
const (
	CodeInvalidInput          = "invalid_input"
	CodeMissingServerSpec     = "missing_server_spec"
	CodeClientSecretMissing   = "client_secret_missing"
	CodeClientSecretInvalid   = "client_secret_invalid"
	CodeTokenCorrupt          = "token_corrupt"
	CodeTokenExchangeFailed   = "token_exchange_failed"
	CodeTokenExchangeTimeout  = "token_exchange_timeout"
	CodeInvalidState          = "invalid_state"
	CodeExtensionsUnavailable = "extensions_unavailable"
	CodeInternal              = "internal"
)

// Envelope is the JSON body of every API response.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// MergeResponse extends the envelope with the merge report.
type MergeResponse struct {
	Envelope
	AddedServers    []string `json:"addedServers"`
	ReplacedServers []string `json:"replacedServers"`
	TotalServers    int      `json:"totalServers"`
}

// ErrorStatus maps an error to its HTTP status and envelope code.
func ErrorStatus(err error) (int, string) {
	var exErr *google.TokenExchangeError
	switch {
	case errors.Is(err, mcpconfig.ErrInvalidInput),
		errors.Is(err, google.ErrInvalidAccount),
		errors.Is(err, google.ErrInvalidPayload),
		errors.Is(err, google.ErrMissingCode),
		errors.Is(err, google.ErrUnknownState):
		return http.StatusBadRequest, CodeInvalidInput
	case errors.Is(err, extension.ErrMissingServerSpec):
		return http.StatusUnprocessableEntity, CodeMissingServerSpec
	case errors.Is(err, google.ErrClientSecretMissing):
		return http.StatusPreconditionFailed, CodeClientSecretMissing
	case errors.Is(err, google.ErrClientSecretInvalid):
		return http.StatusUnprocessableEntity, CodeClientSecretInvalid
	case errors.Is(err, google.ErrTokenCorrupt):
		return http.StatusInternalServerError, CodeTokenCorrupt
	case errors.Is(err, google.ErrTokenExchangeTimeout):
		return http.StatusGatewayTimeout, CodeTokenExchangeTimeout
	case errors.As(err, &exErr), errors.Is(err, google.ErrTokenExchangeFailed):
		return http.StatusBadGateway, CodeTokenExchangeFailed
	case errors.Is(err, google.ErrInvalidTransition):
		return http.StatusConflict, CodeInvalidState
	case errors.Is(err, ErrNoCatalog):
		return http.StatusServiceUnavailable, CodeExtensionsUnavailable
	}
	return http.StatusInternalServerError, CodeInternal
}

// API serves the JSON endpoints.
type API struct {
	sc     *ServerContext
	logger *slog.Logger
}

// NewAPI returns the API handlers for sc.
func NewAPI(sc *ServerContext) *API {
	return &API{sc: sc, logger: logging.WithOperation(sc.Logger(), "api")}
}

// Register adds the API routes to mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/parse", a.handleParse)
	mux.HandleFunc("POST /api/upload", a.handleUpload)
	mux.HandleFunc("POST /api/merge-mcp", a.handleMerge)
	mux.HandleFunc("GET /api/extensions", a.handleListExtensions)
	mux.HandleFunc("POST /api/extensions/convert", a.handleConvertExtensions)
	mux.HandleFunc("POST /api/auth/status", a.handleAuthStatus)
	mux.HandleFunc("POST /api/auth/start", a.handleAuthStart)
	mux.HandleFunc("POST /api/auth/exchange", a.handleAuthExchange)
	mux.HandleFunc("POST /api/auth/revoke", a.handleAuthRevoke)
	mux.HandleFunc("POST /api/auth/client-secret", a.handleClientSecret)
	mux.HandleFunc("GET /api/auth/state", a.handleAuthState)
	mux.HandleFunc("GET /api/auth/accounts", a.handleAccounts)
	mux.HandleFunc("GET /oauth2/callback", a.handleCallback)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) ok(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: data})
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := ErrorStatus(err)
	level := slog.LevelDebug
	if status >= http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	a.logger.Log(r.Context(), level, "request failed",
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("request_id", RequestIDFromContext(r.Context())),
		logging.Err(err))
	writeJSON(w, status, Envelope{Error: err.Error(), Code: code})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxUploadSize))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: request body: %v", mcpconfig.ErrInvalidInput, err)
	}
	return nil
}

// parseDocument accepts a JSON value or a JSON string holding document text
// and returns the document verbatim.
func parseDocument(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("%w: json is required", mcpconfig.ErrInvalidInput)
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return nil, fmt.Errorf("%w: %v", mcpconfig.ErrInvalidInput, err)
		}
		trimmed = bytes.TrimSpace([]byte(text))
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("%w: not valid JSON", mcpconfig.ErrInvalidInput)
	}
	return json.RawMessage(trimmed), nil
}

func (a *API) handleParse(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JSON json.RawMessage `json:"json"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	doc, err := parseDocument(req.JSON)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, doc)
}

func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		a.fail(w, r, fmt.Errorf("%w: %v", mcpconfig.ErrInvalidInput, err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		a.fail(w, r, fmt.Errorf("%w: no file uploaded", mcpconfig.ErrInvalidInput))
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".json") {
		a.fail(w, r, fmt.Errorf("%w: only .json files are accepted", mcpconfig.ErrInvalidInput))
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, MaxUploadSize))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	trimmed := bytes.TrimSpace(data)
	if !json.Valid(trimmed) {
		a.fail(w, r, fmt.Errorf("%w: %s is not valid JSON", mcpconfig.ErrInvalidInput, header.Filename))
		return
	}
	a.ok(w, json.RawMessage(trimmed))
}

func (a *API) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExistingConfig json.RawMessage     `json:"existingConfig"`
		NewServers     json.RawMessage     `json:"newServers"`
		ServerNameMap  mcpconfig.RenameMap `json:"serverNameMap"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if len(req.ExistingConfig) == 0 || len(req.NewServers) == 0 {
		a.fail(w, r, fmt.Errorf("%w: existingConfig and newServers are required", mcpconfig.ErrInvalidInput))
		return
	}

	existing, err := mcpconfig.DecodeValue(req.ExistingConfig)
	if err != nil {
		a.fail(w, r, fmt.Errorf("existingConfig: %w", err))
		return
	}
	incoming, err := mcpconfig.DecodeValue(req.NewServers)
	if err != nil {
		a.fail(w, r, fmt.Errorf("newServers: %w", err))
		return
	}

	merged, report, err := a.sc.Merge(r.Context(), instrumentation.SourceHTTP, existing, incoming, req.ServerNameMap)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MergeResponse{
		Envelope:        Envelope{Success: true, Data: merged},
		AddedServers:    report.Added,
		ReplacedServers: report.Replaced,
		TotalServers:    report.Total,
	})
}

func (a *API) handleListExtensions(w http.ResponseWriter, r *http.Request) {
	manifests, err := a.sc.ListExtensions(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, manifests)
}

func (a *API) handleConvertExtensions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs              []string `json:"ids"`
		ShareCredentials *bool    `json:"shareCredentials"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	share := a.sc.ShareCredentials()
	if req.ShareCredentials != nil {
		share = *req.ShareCredentials
	}
	result, err := a.sc.ConvertExtensions(r.Context(), req.IDs, share)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, result)
}

func (a *API) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Config json.RawMessage `json:"config"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	set, err := mcpconfig.DecodeValue(req.Config)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	status, err := a.sc.AuthStatus(r.Context(), set)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, status)
}

func (a *API) handleAuthStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email      string `json:"email"`
		ServerName string `json:"serverName"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	authURL, err := a.sc.Flow().StartAuthorization(r.Context(), req.Email, req.ServerName)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, map[string]string{"authUrl": authURL})
}

func (a *API) handleAuthExchange(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code        string `json:"code"`
		Email       string `json:"email"`
		RedirectURI string `json:"redirectUri"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	path, err := a.sc.Flow().ExchangeCode(r.Context(), req.Code, req.Email, req.RedirectURI)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, map[string]string{"tokenPath": path})
}

func (a *API) handleAuthRevoke(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	revoked, err := a.sc.Flow().Revoke(r.Context(), req.Email)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, map[string]bool{"revoked": revoked})
}

func (a *API) handleClientSecret(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string          `json:"accountId"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	payload, err := parseDocument(req.Payload)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if _, err := google.ParseClientSecret(payload); err != nil {
		a.fail(w, r, err)
		return
	}
	path, err := a.sc.Flow().SaveClientSecret(r.Context(), req.AccountID, payload)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, map[string]string{"path": path})
}

func (a *API) handleAuthState(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	state, err := a.sc.Flow().State(email)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, map[string]any{"email": email, "state": state})
}

func (a *API) handleAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := a.sc.Store().ListAccounts()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, accounts)
}

func (a *API) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if denied := q.Get("error"); denied != "" {
		writeCallbackPage(w, http.StatusBadRequest, "Authorization was not granted: "+denied)
		return
	}
	state, err := a.sc.Flow().VerifyState(q.Get("state"))
	if err != nil {
		writeCallbackPage(w, http.StatusBadRequest, "Invalid or expired authorization state. Start the sign-in again.")
		return
	}
	if _, err := a.sc.Flow().ExchangeCode(r.Context(), q.Get("code"), state.Email, ""); err != nil {
		status, _ := ErrorStatus(err)
		a.logger.Warn("callback exchange failed", logging.UserHash(state.Email), logging.Err(err))
		writeCallbackPage(w, status, "Authorization failed. Start the sign-in again.")
		return
	}
	writeCallbackPage(w, http.StatusOK, "Authorization complete for "+state.Email+". You can close this window.")
}

func writeCallbackPage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, message+"\n")
}
