package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mcpmerge/internal/extension"
	"github.com/teemow/mcpmerge/internal/google"
)

const (
	testEmail  = "user@example.com"
	testSecret = `{"installed":{"client_id":"cid.apps.googleusercontent.com","client_secret":"shh","redirect_uris":["http://localhost:8080/oauth2/callback"]}}`
)

type testEnv struct {
	sc      *ServerContext
	handler http.Handler
	extDir  string
}

// newTestEnv builds a server context over temp directories. tokenURL may be
// empty when no test exchanges codes.
func newTestEnv(t *testing.T, tokenURL string) *testEnv {
	t.Helper()
	store := google.NewStore(t.TempDir(), nil)
	require.NoError(t, os.MkdirAll(store.Root(), 0o700))
	require.NoError(t, os.WriteFile(store.ClientSecretPath(), []byte(testSecret), 0o600))

	flow, err := google.NewFlowManager(google.FlowConfig{
		Store:    store,
		TokenURL: tokenURL,
		Timeout:  2 * time.Second,
	})
	require.NoError(t, err)

	extDir := t.TempDir()
	sc, err := NewServerContext(context.Background(), Options{
		Flow:    flow,
		Catalog: extension.NewCatalog(extension.NewScanner(extDir, nil)),
	})
	require.NoError(t, err)

	return &testEnv{
		sc:      sc,
		handler: NewHTTPServer(sc, HTTPConfig{}).Handler(),
		extDir:  extDir,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func newTokenEndpoint(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAPI_Merge(t *testing.T) {
	env := newTestEnv(t, "")

	body := `{
		"existingConfig": {"mcpServers": {"a": {"command": "x"}}},
		"newServers": {"b": {"command": "y", "args": ["--v"]}, "a": {"command": "z"}},
		"serverNameMap": {"b": "renamed"}
	}`
	rec := env.do(t, http.MethodPost, "/api/merge-mcp", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Success         bool            `json:"success"`
		Data            json.RawMessage `json:"data"`
		AddedServers    []string        `json:"addedServers"`
		ReplacedServers []string        `json:"replacedServers"`
		TotalServers    int             `json:"totalServers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, []string{"renamed"}, resp.AddedServers)
	assert.Equal(t, []string{"a"}, resp.ReplacedServers)
	assert.Equal(t, 2, resp.TotalServers)
	assert.JSONEq(t,
		`{"mcpServers": {"a": {"command": "z", "args": []}, "renamed": {"command": "y", "args": ["--v"]}}}`,
		string(resp.Data))
}

func TestAPI_MergeAcceptsDocumentText(t *testing.T) {
	env := newTestEnv(t, "")

	body := `{"existingConfig": "{\"a\": {\"command\": \"x\"}}", "newServers": {"b": {"command": "y"}}}`
	rec := env.do(t, http.MethodPost, "/api/merge-mcp", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"totalServers":2`)
}

func TestAPI_MergeErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed body", body: `{`},
		{name: "missing existing", body: `{"newServers": {}}`},
		{name: "missing new servers", body: `{"existingConfig": {}}`},
		{name: "existing not an object", body: `{"existingConfig": [1], "newServers": {}}`},
		{name: "entry without command", body: `{"existingConfig": {}, "newServers": {"a": {"args": []}}}`},
	}

	env := newTestEnv(t, "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/merge-mcp", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeEnvelope(t, rec)
			assert.False(t, resp.Success)
			assert.Equal(t, CodeInvalidInput, resp.Code)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestAPI_Parse(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodPost, "/api/parse", `{"json": "{\"b\": 1, \"a\": 2}"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success": true, "data": {"b": 1, "a": 2}}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/parse", `{"json": "{nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/parse", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func multipartUpload(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestAPI_Upload(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  string
		want     int
	}{
		{name: "valid json", filename: "claude_desktop_config.json", content: `{"mcpServers": {}}`, want: http.StatusOK},
		{name: "uppercase extension", filename: "CONFIG.JSON", content: `{}`, want: http.StatusOK},
		{name: "wrong extension", filename: "config.yaml", content: `{}`, want: http.StatusBadRequest},
		{name: "invalid json", filename: "config.json", content: `{`, want: http.StatusBadRequest},
	}

	env := newTestEnv(t, "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, multipartUpload(t, tt.filename, tt.content))
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestAPI_UploadWithoutFile(t *testing.T) {
	env := newTestEnv(t, "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("other", "x"))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "no file uploaded")
}

func TestAPI_Extensions(t *testing.T) {
	env := newTestEnv(t, "")
	writeTestManifest(t, env.extDir, "drive", `{"id": "com.example.drive", "name": "drive", "server": {"mcp_config": {"command": "node", "args": ["${__dirname}/index.js"]}}}`)
	writeTestManifest(t, env.extDir, "empty", `{"id": "com.example.empty", "name": "empty"}`)

	rec := env.do(t, http.MethodGet, "/api/extensions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Data, 2)

	rec = env.do(t, http.MethodPost, "/api/extensions/convert", `{"ids": ["com.example.drive", "com.example.empty", "missing"], "shareCredentials": true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var conv struct {
		Data struct {
			Servers map[string]struct {
				Command string            `json:"command"`
				Args    []string          `json:"args"`
				Env     map[string]string `json:"env"`
			} `json:"servers"`
			Errors map[string]string `json:"errors"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	require.Contains(t, conv.Data.Servers, "drive")
	assert.Equal(t, []string{filepath.Join(env.extDir, "drive") + "/index.js"}, conv.Data.Servers["drive"].Args)
	assert.Equal(t, env.sc.Store().Root(), conv.Data.Servers["drive"].Env[extension.CredentialsDirEnv])
	assert.Equal(t, "extension not found", conv.Data.Errors["missing"])
	assert.Len(t, conv.Data.Errors, 2)
}

func TestAPI_ExtensionsUnavailable(t *testing.T) {
	env := newTestEnv(t, "")
	env.sc.catalog = nil

	rec := env.do(t, http.MethodGet, "/api/extensions", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, CodeExtensionsUnavailable, decodeEnvelope(t, rec).Code)
}

func writeTestManifest(t *testing.T, root, dir, doc string) {
	t.Helper()
	path := filepath.Join(root, dir)
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, extension.ManifestFileName), []byte(doc), 0o644))
}

func TestAPI_AuthStatus(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.sc.Store().SaveToken(testEmail, []byte(`{"access_token": "at", "refresh_token": "rt"}`))
	require.NoError(t, err)

	body := `{"config": {"mcpServers": {
		"google-workspace": {"command": "uvx", "env": {"USER_GOOGLE_EMAIL": "user@example.com"}},
		"gmail": {"command": "gm"},
		"filesystem": {"command": "fs"}
	}}}`
	rec := env.do(t, http.MethodPost, "/api/auth/status", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data map[string]struct {
			Email                   string `json:"email"`
			Authenticated           bool   `json:"authenticated"`
			NeedsEmailConfiguration bool   `json:"needsEmailConfiguration"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	assert.True(t, resp.Data["google-workspace"].Authenticated)
	assert.Equal(t, testEmail, resp.Data["google-workspace"].Email)
	assert.True(t, resp.Data["gmail"].NeedsEmailConfiguration)
	assert.NotContains(t, resp.Data, "filesystem")
}

func TestAPI_AuthFlow(t *testing.T) {
	tokenSrv := newTokenEndpoint(t, http.StatusOK, `{"access_token": "at", "refresh_token": "rt", "expires_in": 3600, "token_type": "Bearer"}`)
	env := newTestEnv(t, tokenSrv.URL)

	rec := env.do(t, http.MethodPost, "/api/auth/start", `{"email": "user@example.com", "serverName": "google-workspace"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var start struct {
		Data struct {
			AuthURL string `json:"authUrl"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &start))
	u, err := url.Parse(start.Data.AuthURL)
	require.NoError(t, err)
	assert.Equal(t, testEmail, u.Query().Get("login_hint"))

	rec = env.do(t, http.MethodGet, "/api/auth/state?email=user@example.com", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"authorization_requested"`)

	rec = env.do(t, http.MethodPost, "/api/auth/exchange", `{"code": "abc", "email": "user@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "tokenPath")

	rec = env.do(t, http.MethodGet, "/api/auth/accounts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success": true, "data": ["user@example.com"]}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/auth/revoke", `{"email": "user@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success": true, "data": {"revoked": true}}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/auth/revoke", `{"email": "user@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success": true, "data": {"revoked": false}}`, rec.Body.String())
}

func TestAPI_AuthErrors(t *testing.T) {
	tests := []struct {
		name       string
		tokenBody  string
		tokenCode  int
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "start with invalid email",
			path:       "/api/auth/start",
			body:       `{"email": "../etc"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidInput,
		},
		{
			name:       "exchange without code",
			path:       "/api/auth/exchange",
			body:       `{"email": "user@example.com"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidInput,
		},
		{
			name:       "exchange rejected",
			tokenCode:  http.StatusBadRequest,
			tokenBody:  `{"error": "invalid_grant"}`,
			path:       "/api/auth/exchange",
			body:       `{"code": "abc", "email": "user@example.com"}`,
			wantStatus: http.StatusBadGateway,
			wantCode:   CodeTokenExchangeFailed,
		},
		{
			name:       "client secret not json",
			path:       "/api/auth/client-secret",
			body:       `{"accountId": "work", "payload": "{nope"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidInput,
		},
		{
			name:       "client secret without client id",
			path:       "/api/auth/client-secret",
			body:       `{"accountId": "work", "payload": {"installed": {"redirect_uris": ["http://localhost"]}}}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   CodeClientSecretInvalid,
		},
		{
			name:       "client secret bad account id",
			path:       "/api/auth/client-secret",
			body:       `{"accountId": "../x", "payload": ` + testSecret + `}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokenURL := ""
			if tt.tokenCode != 0 {
				tokenURL = newTokenEndpoint(t, tt.tokenCode, tt.tokenBody).URL
			}
			env := newTestEnv(t, tokenURL)

			rec := env.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCode, decodeEnvelope(t, rec).Code)
		})
	}
}

func TestAPI_ClientSecret(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodPost, "/api/auth/client-secret", `{"accountId": "work", "payload": `+testSecret+`}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	secret, err := env.sc.Store().LoadAccountClientSecret("work")
	require.NoError(t, err)
	assert.Equal(t, "cid.apps.googleusercontent.com", secret.ClientID)
}

func startAuthorization(t *testing.T, env *testEnv, email string) string {
	t.Helper()
	authURL, err := env.sc.Flow().StartAuthorization(context.Background(), email, "google-workspace")
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	return u.Query().Get("state")
}

func TestAPI_Callback(t *testing.T) {
	tokenSrv := newTokenEndpoint(t, http.StatusOK, `{"access_token": "at", "refresh_token": "rt"}`)
	env := newTestEnv(t, tokenSrv.URL)

	state := startAuthorization(t, env, testEmail)

	rec := env.do(t, http.MethodGet, "/oauth2/callback?code=abc&state="+url.QueryEscape(state), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Authorization complete for user@example.com")

	tok, err := env.sc.Store().LoadToken(testEmail)
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "at", tok.AccessToken)

	rec = env.do(t, http.MethodGet, "/oauth2/callback?code=abc&state="+url.QueryEscape(state), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "state is single use")

	rec = env.do(t, http.MethodGet, "/oauth2/callback?state=garbage", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/oauth2/callback?error=access_denied", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "access_denied")
}

func TestAPI_CallbackRejectsForgedState(t *testing.T) {
	tokenSrv := newTokenEndpoint(t, http.StatusOK, `{"access_token": "attacker", "refresh_token": "rt"}`)
	env := newTestEnv(t, tokenSrv.URL)
	const victim = "victim@example.com"

	// An issued nonce for one account must not authorize another.
	issued, err := google.DecodeState(startAuthorization(t, env, testEmail))
	require.NoError(t, err)
	reused := issued
	reused.Email = victim

	tests := []struct {
		name  string
		state string
	}{
		{"unissued nonce", google.EncodeState(google.AuthState{Email: victim, Nonce: "anything"})},
		{"fresh nonce never issued", google.EncodeState(google.NewAuthState(victim, "google-workspace"))},
		{"nonce of another account", google.EncodeState(reused)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/oauth2/callback?code=abc&state="+url.QueryEscape(tt.state), "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "Invalid or expired authorization state")
		})
	}

	tok, err := env.sc.Store().LoadToken(victim)
	require.NoError(t, err)
	assert.Nil(t, tok, "no token stored for the forged account")
}

func TestAPI_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodGet, "/api/merge-mcp", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
