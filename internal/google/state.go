package google

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// AuthState is carried through the authorization redirect in the state
// parameter so the callback can recover which account it belongs to.
type AuthState struct {
	Email  string `json:"email"`
	Server string `json:"server,omitempty"`
	Nonce  string `json:"nonce"`
}

// NewAuthState returns a state for email with a fresh nonce.
func NewAuthState(email, server string) AuthState {
	return AuthState{
		Email:  email,
		Server: server,
		Nonce:  uuid.NewString(),
	}
}

// EncodeState returns the opaque URL-safe form of s.
func EncodeState(s AuthState) string {
	data, _ := json.Marshal(s)
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeState parses a state produced by EncodeState.
func DecodeState(raw string) (AuthState, error) {
	var s AuthState
	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return s, fmt.Errorf("%w: malformed state", ErrInvalidAccount)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("%w: malformed state", ErrInvalidAccount)
	}
	if err := ValidateEmail(s.Email); err != nil {
		return s, err
	}
	return s, nil
}
