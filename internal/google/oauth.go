package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/teemow/mcpmerge/internal/instrumentation"
	"github.com/teemow/mcpmerge/internal/logging"
)

// DefaultExchangeTimeout bounds a single token endpoint request.
const DefaultExchangeTimeout = 30 * time.Second

// DefaultStateTTL bounds how long an issued authorization state is accepted
// by VerifyState.
const DefaultStateTTL = 10 * time.Minute

// maxTokenResponse caps how much of the token endpoint response is read.
const maxTokenResponse = 1 << 20

// State is the position of one account in the authorization flow.
type State int

const (
	// StateNoClientSecret means no client secret is installed.
	StateNoClientSecret State = iota
	// StateReady means a client secret exists but the account has no usable token.
	StateReady
	// StateAuthorizationRequested means a consent URL was issued.
	StateAuthorizationRequested
	// StateCodeExchangePending means a code exchange is in flight.
	StateCodeExchangePending
	// StateAuthenticated means a token with an access or refresh token is stored.
	StateAuthenticated
	// StateRevoked means the stored token was deleted.
	StateRevoked
)

var stateNames = map[State]string{
	StateNoClientSecret:         "no_client_secret",
	StateReady:                  "ready",
	StateAuthorizationRequested: "authorization_requested",
	StateCodeExchangePending:    "code_exchange_pending",
	StateAuthenticated:          "authenticated",
	StateRevoked:                "revoked",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state name in JSON output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type flowEvent int

const (
	eventAuthorize flowEvent = iota
	eventExchangeStart
	eventExchangeSucceeded
	eventExchangeFailed
	eventRevoke
)

func (e flowEvent) String() string {
	switch e {
	case eventAuthorize:
		return "authorize"
	case eventExchangeStart:
		return "exchange_start"
	case eventExchangeSucceeded:
		return "exchange_succeeded"
	case eventExchangeFailed:
		return "exchange_failed"
	case eventRevoke:
		return "revoke"
	}
	return "unknown"
}

// transition is the only place flow states change. NoClientSecret is left by
// installing a client secret, which is observed from the store. Authorizing
// during an exchange leaves the pending state alone.
func transition(from State, ev flowEvent) (State, error) {
	switch ev {
	case eventAuthorize:
		switch from {
		case StateNoClientSecret:
		case StateCodeExchangePending:
			return from, nil
		default:
			return StateAuthorizationRequested, nil
		}
	case eventExchangeStart:
		if from != StateNoClientSecret && from != StateCodeExchangePending {
			return StateCodeExchangePending, nil
		}
	case eventExchangeSucceeded:
		if from == StateCodeExchangePending {
			return StateAuthenticated, nil
		}
	case eventExchangeFailed:
		if from == StateCodeExchangePending {
			return StateReady, nil
		}
	case eventRevoke:
		if from != StateCodeExchangePending {
			return StateRevoked, nil
		}
	}
	return from, fmt.Errorf("%w: %s while %s", ErrInvalidTransition, ev, from)
}

// FlowConfig configures a FlowManager.
type FlowConfig struct {
	Store *Store

	// Timeout bounds the token endpoint request (default: 30s).
	Timeout time.Duration

	// StateTTL bounds the lifetime of an issued state (default: 10m).
	StateTTL time.Duration

	// AuthURL and TokenURL default to Google's endpoints.
	AuthURL  string
	TokenURL string

	HTTPClient *http.Client
	Metrics    *instrumentation.Metrics
	Audit      *instrumentation.AuditLogger
	Logger     *slog.Logger
}

// FlowManager drives the per-account Google authorization flow: it builds
// consent URLs, exchanges codes and revokes stored tokens.
type FlowManager struct {
	store    *Store
	timeout  time.Duration
	endpoint oauth2.Endpoint
	client   *http.Client
	metrics  *instrumentation.Metrics
	audit    *instrumentation.AuditLogger
	logger   *slog.Logger

	stateTTL time.Duration
	now      func() time.Time

	locks  *keyLock
	mu     sync.Mutex
	states map[string]State
	// issued maps the nonce of every outstanding authorization state to the
	// account it was issued for.
	issued map[string]issuedState
}

type issuedState struct {
	email   string
	expires time.Time
}

// NewFlowManager returns a flow manager over cfg.Store.
func NewFlowManager(cfg FlowConfig) (*FlowManager, error) {
	if cfg.Store == nil {
		return nil, errors.New("flow manager requires a credential store")
	}
	endpoint := google.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultExchangeTimeout
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = DefaultStateTTL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &FlowManager{
		store:    cfg.Store,
		timeout:  cfg.Timeout,
		endpoint: endpoint,
		client:   cfg.HTTPClient,
		metrics:  cfg.Metrics,
		audit:    cfg.Audit,
		logger:   logging.WithOperation(cfg.Logger, "google_oauth"),
		stateTTL: cfg.StateTTL,
		now:      time.Now,
		locks:    newKeyLock(),
		states:   make(map[string]State),
		issued:   make(map[string]issuedState),
	}, nil
}

// Store returns the underlying credential store.
func (f *FlowManager) Store() *Store {
	return f.store
}

// Timeout returns the configured exchange timeout.
func (f *FlowManager) Timeout() time.Duration {
	return f.timeout
}

// State reports where email is in the flow. In-flight states are tracked in
// memory; the rest are observed from the store.
func (f *FlowManager) State(email string) (State, error) {
	if err := ValidateEmail(email); err != nil {
		return StateNoClientSecret, err
	}
	f.mu.Lock()
	tracked, ok := f.states[email]
	f.mu.Unlock()

	observed, err := f.observe(email)
	if err != nil || !ok {
		return observed, err
	}
	switch {
	case observed == StateNoClientSecret:
		return observed, nil
	case tracked == StateAuthenticated && observed != StateAuthenticated:
		return StateReady, nil
	case (tracked == StateReady || tracked == StateRevoked) && observed == StateAuthenticated:
		return StateAuthenticated, nil
	}
	return tracked, nil
}

func (f *FlowManager) observe(email string) (State, error) {
	if _, err := f.store.LoadClientSecret(); err != nil {
		if errors.Is(err, ErrClientSecretMissing) {
			return StateNoClientSecret, nil
		}
		return StateNoClientSecret, err
	}
	tok, err := f.store.LoadToken(email)
	if err != nil {
		return StateReady, err
	}
	if tok.Authenticated() {
		return StateAuthenticated, nil
	}
	return StateReady, nil
}

func (f *FlowManager) advance(email string, from State, ev flowEvent) (State, error) {
	to, err := transition(from, ev)
	if err != nil || to == from {
		return to, err
	}
	f.mu.Lock()
	f.states[email] = to
	f.mu.Unlock()
	f.logger.Debug("flow state changed",
		logging.UserHash(email),
		slog.String("from", from.String()),
		slog.String("to", to.String()))
	return to, nil
}

func (f *FlowManager) oauthConfig(secret *ClientSecret, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     secret.ClientID,
		ClientSecret: secret.ClientSecret,
		Endpoint:     f.endpoint,
		RedirectURL:  redirectURI,
		Scopes:       Scopes,
	}
}

// StartAuthorization returns the Google consent URL for email. It performs no
// network I/O and writes nothing to disk. The state embedded in the URL is
// accepted once by VerifyState until it expires. Authorizing while an exchange
// for email is in flight leaves the exchange untouched.
func (f *FlowManager) StartAuthorization(ctx context.Context, email, server string) (string, error) {
	if err := ValidateEmail(email); err != nil {
		return "", err
	}
	secret, err := f.store.LoadClientSecret()
	if err != nil {
		if errors.Is(err, ErrClientSecretMissing) {
			f.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultNoClientSecret)
		}
		f.auditEvent(ctx, instrumentation.AuthEventStart, email, server, err)
		return "", err
	}

	// A corrupt token does not block re-authorization.
	from, _ := f.State(email)
	if _, err := f.advance(email, from, eventAuthorize); err != nil {
		return "", err
	}

	st := NewAuthState(email, server)
	f.issue(st)
	authURL := f.oauthConfig(secret, secret.RedirectURI()).AuthCodeURL(EncodeState(st),
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("login_hint", email),
	)

	f.logger.Info("authorization started", logging.UserHash(email), logging.Server(server))
	f.auditEvent(ctx, instrumentation.AuthEventStart, email, server, nil)
	return authURL, nil
}

func (f *FlowManager) issue(st AuthState) {
	now := f.now()
	f.mu.Lock()
	defer f.mu.Unlock()
	for nonce, issued := range f.issued {
		if now.After(issued.expires) {
			delete(f.issued, nonce)
		}
	}
	f.issued[st.Nonce] = issuedState{email: st.Email, expires: now.Add(f.stateTTL)}
}

// VerifyState decodes a callback state and checks that it was issued by
// StartAuthorization for the same account and has not expired. A state is
// consumed by its first verification.
func (f *FlowManager) VerifyState(raw string) (AuthState, error) {
	st, err := DecodeState(raw)
	if err != nil {
		return AuthState{}, err
	}

	f.mu.Lock()
	issued, ok := f.issued[st.Nonce]
	delete(f.issued, st.Nonce)
	f.mu.Unlock()

	if !ok || issued.email != st.Email || f.now().After(issued.expires) {
		f.logger.Warn("authorization state rejected", logging.UserHash(st.Email))
		return AuthState{}, ErrUnknownState
	}
	return st, nil
}

// ExchangeCode trades an authorization code for tokens and stores the raw
// token response for email. An empty redirectURI uses the client secret's
// first redirect URI. Nothing is written when the exchange fails.
func (f *FlowManager) ExchangeCode(ctx context.Context, code, email, redirectURI string) (string, error) {
	if err := ValidateEmail(email); err != nil {
		return "", err
	}
	if strings.TrimSpace(code) == "" {
		return "", ErrMissingCode
	}

	unlock := f.locks.Lock(email)
	defer unlock()

	secret, err := f.store.LoadClientSecret()
	if err != nil {
		if errors.Is(err, ErrClientSecretMissing) {
			f.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultNoClientSecret)
		}
		f.auditEvent(ctx, instrumentation.AuthEventExchange, email, "", err)
		return "", err
	}
	if redirectURI == "" {
		redirectURI = secret.RedirectURI()
	}

	from, _ := f.State(email)
	if _, err := f.advance(email, from, eventExchangeStart); err != nil {
		return "", err
	}

	ctx, span := instrumentation.StartOAuthSpan(ctx, "token_exchange",
		instrumentation.SpanAttrs{Account: email})
	defer span.End()

	start := time.Now()
	payload, err := f.requestToken(ctx, secret, code, redirectURI)
	var path string
	if err == nil {
		path, err = f.store.SaveToken(email, payload)
	}

	result := instrumentation.OAuthResultSuccess
	switch {
	case errors.Is(err, ErrTokenExchangeTimeout):
		result = instrumentation.OAuthResultTimeout
	case err != nil:
		result = instrumentation.OAuthResultFailure
	}
	f.metrics.RecordTokenExchangeDuration(ctx, result, time.Since(start))
	f.metrics.RecordOAuthAuth(ctx, result)
	f.auditEvent(ctx, instrumentation.AuthEventExchange, email, "", err)

	if err != nil {
		_, _ = f.advance(email, StateCodeExchangePending, eventExchangeFailed)
		instrumentation.FinishSpan(span, err)
		f.logger.Warn("token exchange failed", logging.UserHash(email), logging.Err(err))
		return "", err
	}

	_, _ = f.advance(email, StateCodeExchangePending, eventExchangeSucceeded)
	instrumentation.FinishSpan(span, nil)
	f.logger.Info("token stored", logging.UserHash(email))
	return path, nil
}

func (f *FlowManager) requestToken(ctx context.Context, secret *ClientSecret, code, redirectURI string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	form := url.Values{
		"code":          {code},
		"client_id":     {secret.ClientID},
		"client_secret": {secret.ClientSecret},
		"redirect_uri":  {redirectURI},
		"grant_type":    {"authorization_code"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenExchangeFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, exchangeTransportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponse))
	if err != nil {
		return nil, exchangeTransportError(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TokenExchangeError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func exchangeTransportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTokenExchangeTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrTokenExchangeFailed, err)
}

// Revoke deletes the stored token for email and reports whether one existed.
// Revoking an account without a token succeeds.
func (f *FlowManager) Revoke(ctx context.Context, email string) (bool, error) {
	if err := ValidateEmail(email); err != nil {
		return false, err
	}

	unlock := f.locks.Lock(email)
	defer unlock()

	from, _ := f.State(email)
	removed, err := f.store.DeleteToken(email)
	f.auditEvent(ctx, instrumentation.AuthEventRevoke, email, "", err)
	if err != nil {
		return false, err
	}

	if removed {
		f.metrics.RecordTokenRevocation(ctx, instrumentation.RevocationRemoved)
	} else {
		f.metrics.RecordTokenRevocation(ctx, instrumentation.RevocationAbsent)
	}
	if _, err := f.advance(email, from, eventRevoke); err != nil {
		return removed, err
	}
	f.logger.Info("token revoked", logging.UserHash(email), slog.Bool("removed", removed))
	return removed, nil
}

// SaveClientSecret installs a client secret for accountID.
func (f *FlowManager) SaveClientSecret(ctx context.Context, accountID string, payload []byte) (string, error) {
	path, err := f.store.SaveClientSecret(accountID, payload)
	ev := instrumentation.AuthEvent{
		Event:     instrumentation.AuthEventClientSecret,
		AccountID: accountID,
		Success:   err == nil,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	f.audit.LogAuthEvent(ctx, ev)
	return path, err
}

func (f *FlowManager) auditEvent(ctx context.Context, event, email, server string, err error) {
	ev := instrumentation.AuthEvent{
		Event:   event,
		Email:   email,
		Server:  server,
		Success: err == nil,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	f.audit.LogAuthEvent(ctx, ev)
}
