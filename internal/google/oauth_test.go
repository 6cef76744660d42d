package google

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenServer struct {
	*httptest.Server
	status int
	body   string
	delay  time.Duration

	mu    sync.Mutex
	form  url.Values
	calls int
}

func (ts *tokenServer) lastForm() url.Values {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.form
}

func (ts *tokenServer) callCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.calls
}

func newTokenServer(t *testing.T, status int, body string) *tokenServer {
	t.Helper()
	ts := &tokenServer{status: status, body: body}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		ts.mu.Lock()
		ts.calls++
		ts.form = r.PostForm
		ts.mu.Unlock()
		if ts.delay > 0 {
			select {
			case <-time.After(ts.delay):
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(ts.status)
		_, _ = io.WriteString(w, ts.body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newTestFlow(t *testing.T, tokenURL string, timeout time.Duration) *FlowManager {
	t.Helper()
	s := newTestStore(t)
	writeRootSecret(t, s, testSecret)
	f, err := NewFlowManager(FlowConfig{
		Store:    s,
		TokenURL: tokenURL,
		Timeout:  timeout,
	})
	require.NoError(t, err)
	return f
}

func TestNewFlowManager_RequiresStore(t *testing.T) {
	_, err := NewFlowManager(FlowConfig{})
	require.Error(t, err)
}

func TestNewFlowManager_Defaults(t *testing.T) {
	f, err := NewFlowManager(FlowConfig{Store: newTestStore(t)})
	require.NoError(t, err)
	assert.Equal(t, DefaultExchangeTimeout, f.Timeout())
	assert.Equal(t, "https://oauth2.googleapis.com/token", f.endpoint.TokenURL)
}

func TestStartAuthorization(t *testing.T) {
	f := newTestFlow(t, "", 0)

	authURL, err := f.StartAuthorization(context.Background(), testEmail, "google-workspace")
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "accounts.google.com", u.Host)

	q := u.Query()
	assert.Equal(t, "cid.apps.googleusercontent.com", q.Get("client_id"))
	assert.Equal(t, "http://localhost:8080/oauth2/callback", q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, testEmail, q.Get("login_hint"))
	assert.Contains(t, q.Get("scope"), "https://www.googleapis.com/auth/drive.readonly")
	assert.Contains(t, q.Get("scope"), "https://www.googleapis.com/auth/gmail.readonly")

	st, err := DecodeState(q.Get("state"))
	require.NoError(t, err)
	assert.Equal(t, testEmail, st.Email)
	assert.Equal(t, "google-workspace", st.Server)
	assert.NotEmpty(t, st.Nonce)

	state, err := f.State(testEmail)
	require.NoError(t, err)
	assert.Equal(t, StateAuthorizationRequested, state)

	accounts, err := f.Store().ListAccounts()
	require.NoError(t, err)
	assert.Empty(t, accounts, "nothing written to disk")
}

func TestStartAuthorization_NoClientSecret(t *testing.T) {
	f, err := NewFlowManager(FlowConfig{Store: newTestStore(t)})
	require.NoError(t, err)

	_, err = f.StartAuthorization(context.Background(), testEmail, "")
	require.ErrorIs(t, err, ErrClientSecretMissing)

	state, err := f.State(testEmail)
	require.NoError(t, err)
	assert.Equal(t, StateNoClientSecret, state)
}

func TestStartAuthorization_InvalidEmail(t *testing.T) {
	f := newTestFlow(t, "", 0)
	_, err := f.StartAuthorization(context.Background(), "not-an-email", "")
	require.ErrorIs(t, err, ErrInvalidAccount)
}

func TestExchangeCode_Success(t *testing.T) {
	const payload = `{"access_token":"ya29.a","refresh_token":"1//r","expires_in":3599,"token_type":"Bearer"}`
	srv := newTokenServer(t, http.StatusOK, payload)
	f := newTestFlow(t, srv.URL, 0)

	path, err := f.ExchangeCode(context.Background(), "4/code", testEmail, "")
	require.NoError(t, err)

	assert.Equal(t, "4/code", srv.lastForm().Get("code"))
	assert.Equal(t, "cid.apps.googleusercontent.com", srv.lastForm().Get("client_id"))
	assert.Equal(t, "shh", srv.lastForm().Get("client_secret"))
	assert.Equal(t, "http://localhost:8080/oauth2/callback", srv.lastForm().Get("redirect_uri"))
	assert.Equal(t, "authorization_code", srv.lastForm().Get("grant_type"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, payload, string(data), "raw payload is stored")

	state, err := f.State(testEmail)
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, state)
}

func TestExchangeCode_ExplicitRedirectURI(t *testing.T) {
	srv := newTokenServer(t, http.StatusOK, `{"access_token":"a"}`)
	f := newTestFlow(t, srv.URL, 0)

	_, err := f.ExchangeCode(context.Background(), "c", testEmail, "http://127.0.0.1:9999/cb")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9999/cb", srv.lastForm().Get("redirect_uri"))
}

func TestExchangeCode_Rejected(t *testing.T) {
	srv := newTokenServer(t, http.StatusBadRequest, `{"error":"invalid_grant"}`)
	f := newTestFlow(t, srv.URL, 0)

	_, err := f.ExchangeCode(context.Background(), "bad", testEmail, "")
	require.ErrorIs(t, err, ErrTokenExchangeFailed)

	var exErr *TokenExchangeError
	require.True(t, errors.As(err, &exErr))
	assert.Equal(t, http.StatusBadRequest, exErr.Status)
	assert.Contains(t, exErr.Body, "invalid_grant")

	rec, err := f.Store().LoadToken(testEmail)
	require.NoError(t, err)
	assert.Nil(t, rec, "failed exchange writes no token")

	state, err := f.State(testEmail)
	require.NoError(t, err)
	assert.Equal(t, StateReady, state)
}

func TestExchangeCode_Timeout(t *testing.T) {
	srv := newTokenServer(t, http.StatusOK, `{"access_token":"late"}`)
	srv.delay = 2 * time.Second
	f := newTestFlow(t, srv.URL, 50*time.Millisecond)

	_, err := f.ExchangeCode(context.Background(), "c", testEmail, "")
	require.ErrorIs(t, err, ErrTokenExchangeTimeout)

	rec, err := f.Store().LoadToken(testEmail)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestExchangeCode_Validation(t *testing.T) {
	srv := newTokenServer(t, http.StatusOK, `{}`)
	f := newTestFlow(t, srv.URL, 0)

	_, err := f.ExchangeCode(context.Background(), "  ", testEmail, "")
	assert.ErrorIs(t, err, ErrMissingCode)

	_, err = f.ExchangeCode(context.Background(), "c", "../x@example.com", "")
	assert.ErrorIs(t, err, ErrInvalidAccount)

	assert.Equal(t, 0, srv.callCount(), "no request for invalid input")
}

func TestExchangeCode_NoClientSecret(t *testing.T) {
	srv := newTokenServer(t, http.StatusOK, `{"access_token":"a"}`)
	f, err := NewFlowManager(FlowConfig{Store: newTestStore(t), TokenURL: srv.URL})
	require.NoError(t, err)

	_, err = f.ExchangeCode(context.Background(), "c", testEmail, "")
	require.ErrorIs(t, err, ErrClientSecretMissing)
	assert.Equal(t, 0, srv.callCount())
}

func TestRevoke(t *testing.T) {
	srv := newTokenServer(t, http.StatusOK, `{"access_token":"a","refresh_token":"r"}`)
	f := newTestFlow(t, srv.URL, 0)
	ctx := context.Background()

	_, err := f.ExchangeCode(ctx, "c", testEmail, "")
	require.NoError(t, err)

	removed, err := f.Revoke(ctx, testEmail)
	require.NoError(t, err)
	assert.True(t, removed)

	rec, err := f.Store().LoadToken(testEmail)
	require.NoError(t, err)
	assert.Nil(t, rec)

	state, err := f.State(testEmail)
	require.NoError(t, err)
	assert.Equal(t, StateRevoked, state)

	removed, err = f.Revoke(ctx, testEmail)
	require.NoError(t, err)
	assert.False(t, removed, "revoke is idempotent")
}

func TestState_ObservedFromStore(t *testing.T) {
	f := newTestFlow(t, "", 0)

	state, err := f.State(testEmail)
	require.NoError(t, err)
	assert.Equal(t, StateReady, state)

	_, err = f.Store().SaveToken(testEmail, []byte(`{"refresh_token":"r"}`))
	require.NoError(t, err)

	state, err = f.State(testEmail)
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, state)
}

func TestTransition(t *testing.T) {
	tests := []struct {
		from    State
		event   flowEvent
		want    State
		wantErr bool
	}{
		{StateReady, eventAuthorize, StateAuthorizationRequested, false},
		{StateRevoked, eventAuthorize, StateAuthorizationRequested, false},
		{StateAuthenticated, eventAuthorize, StateAuthorizationRequested, false},
		{StateNoClientSecret, eventAuthorize, StateNoClientSecret, true},
		{StateCodeExchangePending, eventAuthorize, StateCodeExchangePending, false},
		{StateAuthorizationRequested, eventExchangeStart, StateCodeExchangePending, false},
		{StateReady, eventExchangeStart, StateCodeExchangePending, false},
		{StateCodeExchangePending, eventExchangeStart, StateCodeExchangePending, true},
		{StateCodeExchangePending, eventExchangeSucceeded, StateAuthenticated, false},
		{StateCodeExchangePending, eventExchangeFailed, StateReady, false},
		{StateReady, eventExchangeSucceeded, StateReady, true},
		{StateAuthenticated, eventRevoke, StateRevoked, false},
		{StateReady, eventRevoke, StateRevoked, false},
		{StateCodeExchangePending, eventRevoke, StateCodeExchangePending, true},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+tt.event.String(), func(t *testing.T) {
			got, err := transition(tt.from, tt.event)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidTransition)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestState_MarshalText(t *testing.T) {
	text, err := StateCodeExchangePending.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "code_exchange_pending", string(text))
	assert.Equal(t, "state(42)", State(42).String())
}

func TestDecodeState(t *testing.T) {
	encoded := EncodeState(NewAuthState(testEmail, "gmail"))
	st, err := DecodeState(encoded)
	require.NoError(t, err)
	assert.Equal(t, testEmail, st.Email)

	_, err = DecodeState("%%%")
	assert.ErrorIs(t, err, ErrInvalidAccount)

	_, err = DecodeState(EncodeState(AuthState{Email: "../x"}))
	assert.ErrorIs(t, err, ErrInvalidAccount)
}

func issueState(t *testing.T, f *FlowManager, email string) string {
	t.Helper()
	authURL, err := f.StartAuthorization(context.Background(), email, "gmail")
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	return u.Query().Get("state")
}

func TestVerifyState(t *testing.T) {
	f := newTestFlow(t, "", 0)

	raw := issueState(t, f, testEmail)
	st, err := f.VerifyState(raw)
	require.NoError(t, err)
	assert.Equal(t, testEmail, st.Email)
	assert.Equal(t, "gmail", st.Server)

	_, err = f.VerifyState(raw)
	assert.ErrorIs(t, err, ErrUnknownState, "a state is accepted once")

	tests := []struct {
		name  string
		state func() string
		want  error
	}{
		{"never issued", func() string {
			return EncodeState(NewAuthState(testEmail, ""))
		}, ErrUnknownState},
		{"nonce reused for another account", func() string {
			st, err := DecodeState(issueState(t, f, testEmail))
			require.NoError(t, err)
			st.Email = "victim@example.com"
			return EncodeState(st)
		}, ErrUnknownState},
		{"malformed", func() string { return "%%%" }, ErrInvalidAccount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.VerifyState(tt.state())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestVerifyState_Expired(t *testing.T) {
	f := newTestFlow(t, "", 0)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return now }

	raw := issueState(t, f, testEmail)
	stale := issueState(t, f, "other@example.com")

	now = now.Add(DefaultStateTTL - time.Second)
	_, err := f.VerifyState(raw)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	_, err = f.VerifyState(stale)
	assert.ErrorIs(t, err, ErrUnknownState)
}

func TestVerifyState_PrunesExpired(t *testing.T) {
	f := newTestFlow(t, "", 0)
	now := time.Now()
	f.now = func() time.Time { return now }

	for range 3 {
		issueState(t, f, testEmail)
	}
	now = now.Add(DefaultStateTTL + time.Second)
	issueState(t, f, testEmail)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Len(t, f.issued, 1)
}

func TestStartAuthorization_DuringExchange(t *testing.T) {
	srv := newTokenServer(t, http.StatusOK, `{"access_token":"a","refresh_token":"r"}`)
	srv.delay = 300 * time.Millisecond
	f := newTestFlow(t, srv.URL, 0)

	done := make(chan error, 1)
	go func() {
		_, err := f.ExchangeCode(context.Background(), "c", testEmail, "")
		done <- err
	}()

	require.Eventually(t, func() bool {
		state, _ := f.State(testEmail)
		return state == StateCodeExchangePending
	}, 2*time.Second, 5*time.Millisecond)

	authURL, err := f.StartAuthorization(context.Background(), testEmail, "")
	require.NoError(t, err)
	assert.NotEmpty(t, authURL)

	state, err := f.State(testEmail)
	require.NoError(t, err)
	assert.Equal(t, StateCodeExchangePending, state, "pending exchange is not overwritten")

	require.NoError(t, <-done)
	state, err = f.State(testEmail)
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, state)
}

func TestStoreTokenProvider(t *testing.T) {
	f := newTestFlow(t, "", 0)
	p := NewStoreTokenProvider(f)

	assert.False(t, p.HasTokenForAccount(testEmail))
	_, err := p.GetTokenForAccount(context.Background(), testEmail)
	require.Error(t, err)

	_, err = f.Store().SaveToken(testEmail, []byte(`{"access_token":"a1","token_type":"Bearer"}`))
	require.NoError(t, err)

	assert.True(t, p.HasTokenForAccount(testEmail))
	tok, err := p.GetTokenForAccount(context.Background(), testEmail)
	require.NoError(t, err)
	assert.Equal(t, "a1", tok.AccessToken)
}
