package google

import (
	"errors"
	"fmt"
)

var (
	// ErrClientSecretMissing is returned when no client secret is installed.
	ErrClientSecretMissing = errors.New("client secret not found")

	// ErrClientSecretInvalid is returned when the client secret lacks a
	// client ID or a redirect URI.
	ErrClientSecretInvalid = errors.New("client secret is invalid")

	// ErrTokenCorrupt is returned when a token file exists but cannot be
	// decoded. The file is left in place.
	ErrTokenCorrupt = errors.New("token file is corrupt")

	// ErrTokenExchangeFailed is returned when the token endpoint rejects a
	// code exchange.
	ErrTokenExchangeFailed = errors.New("token exchange failed")

	// ErrTokenExchangeTimeout is returned when the token endpoint does not
	// answer within the configured timeout.
	ErrTokenExchangeTimeout = errors.New("token exchange timed out")

	// ErrInvalidAccount is returned for an email or account ID that cannot
	// address a credential file.
	ErrInvalidAccount = errors.New("invalid account")

	// ErrInvalidPayload is returned when a payload to store is not a JSON
	// object.
	ErrInvalidPayload = errors.New("payload must be a JSON object")
)

// TokenExchangeError carries the token endpoint's response for a rejected
// exchange.
type TokenExchangeError struct {
	Status int
	Body   string
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", ErrTokenExchangeFailed, e.Status, e.Body)
}

// Unwrap allows errors.Is(err, ErrTokenExchangeFailed).
func (e *TokenExchangeError) Unwrap() error {
	return ErrTokenExchangeFailed
}

var (
	// ErrMissingCode is returned when an exchange is attempted without an
	// authorization code.
	ErrMissingCode = errors.New("authorization code is required")

	// ErrInvalidTransition is returned when an operation is not allowed in
	// the account's current flow state.
	ErrInvalidTransition = errors.New("invalid flow transition")

	// ErrUnknownState is returned when a callback state was not issued by
	// this flow manager, has expired or was already used.
	ErrUnknownState = errors.New("unknown or expired authorization state")
)
