package google

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
)

// TokenProvider supplies OAuth tokens for stored Google accounts.
type TokenProvider interface {
	// GetTokenForAccount returns a valid token for email, refreshing it if
	// it has expired.
	GetTokenForAccount(ctx context.Context, email string) (*oauth2.Token, error)

	// HasTokenForAccount reports whether a token is stored for email.
	HasTokenForAccount(email string) bool
}

// StoreTokenProvider provides tokens from a credential store.
type StoreTokenProvider struct {
	flow *FlowManager
}

// NewStoreTokenProvider returns a provider reading tokens through flow's store
// and refreshing them against flow's token endpoint.
func NewStoreTokenProvider(flow *FlowManager) *StoreTokenProvider {
	return &StoreTokenProvider{flow: flow}
}

// GetTokenForAccount loads the stored token for email. Expired tokens are
// refreshed in memory; the stored file is not rewritten.
func (p *StoreTokenProvider) GetTokenForAccount(ctx context.Context, email string) (*oauth2.Token, error) {
	rec, err := p.flow.store.LoadToken(email)
	if err != nil {
		return nil, err
	}
	if !rec.Authenticated() {
		return nil, fmt.Errorf("no token stored for %s", email)
	}
	secret, err := p.flow.store.LoadClientSecret()
	if err != nil {
		return nil, err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.flow.client)
	ts := p.flow.oauthConfig(secret, secret.RedirectURI()).TokenSource(ctx, rec.OAuth2Token())
	token, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return token, nil
}

// HasTokenForAccount reports whether an authenticated token is stored for
// email.
func (p *StoreTokenProvider) HasTokenForAccount(email string) bool {
	rec, err := p.flow.store.LoadToken(email)
	return err == nil && rec.Authenticated()
}
