package google

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/mail"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/teemow/mcpmerge/internal/logging"
)

const (
	clientSecretFile = "client_secret.json"
	accountsDir      = "accounts"
	tokensDir        = "tokens"
	tokenExt         = ".json"

	filePerm = 0o600
)

// DefaultRoot returns $XDG_CONFIG_HOME/mcpmerge/credentials or the platform
// equivalent.
func DefaultRoot() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config directory: %w", err)
	}
	return filepath.Join(dir, "mcpmerge", "credentials"), nil
}

// ClientSecret is the OAuth client registration used for the flow.
type ClientSecret struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	RedirectURIs []string `json:"redirect_uris"`
	AuthURI      string   `json:"auth_uri,omitempty"`
	TokenURI     string   `json:"token_uri,omitempty"`
	ProjectID    string   `json:"project_id,omitempty"`
}

// RedirectURI returns the first registered redirect URI.
func (c *ClientSecret) RedirectURI() string {
	if len(c.RedirectURIs) == 0 {
		return ""
	}
	return c.RedirectURIs[0]
}

// ParseClientSecret accepts the Google console download ("installed" or
// "web" wrapper) and the flat form.
func ParseClientSecret(data []byte) (*ClientSecret, error) {
	var doc struct {
		Installed *ClientSecret `json:"installed"`
		Web       *ClientSecret `json:"web"`
		ClientSecret
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientSecretInvalid, err)
	}

	secret := &doc.ClientSecret
	switch {
	case doc.Installed != nil:
		secret = doc.Installed
	case doc.Web != nil:
		secret = doc.Web
	}
	if secret.ClientID == "" {
		return nil, fmt.Errorf("%w: client_id is missing", ErrClientSecretInvalid)
	}
	if secret.RedirectURI() == "" {
		return nil, fmt.Errorf("%w: no redirect URI", ErrClientSecretInvalid)
	}
	return secret, nil
}

// TokenRecord is a stored token payload. Raw holds the file content exactly
// as returned by the token endpoint.
type TokenRecord struct {
	Email        string          `json:"email"`
	AccessToken  string          `json:"-"`
	RefreshToken string          `json:"-"`
	TokenType    string          `json:"tokenType,omitempty"`
	Scope        string          `json:"scope,omitempty"`
	ModTime      time.Time       `json:"updatedAt"`
	Raw          json.RawMessage `json:"-"`
}

// Authenticated reports whether the record carries an access or refresh token.
func (t *TokenRecord) Authenticated() bool {
	return t != nil && (t.AccessToken != "" || t.RefreshToken != "")
}

// OAuth2Token converts the record for use with an oauth2.TokenSource.
func (t *TokenRecord) OAuth2Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
	}
	var exp struct {
		ExpiresIn int64  `json:"expires_in"`
		Expiry    string `json:"expiry"`
	}
	if json.Unmarshal(t.Raw, &exp) == nil {
		switch {
		case exp.Expiry != "":
			if ts, err := time.Parse(time.RFC3339, exp.Expiry); err == nil {
				tok.Expiry = ts
			}
		case exp.ExpiresIn > 0:
			tok.Expiry = t.ModTime.Add(time.Duration(exp.ExpiresIn) * time.Second)
		}
	}
	return tok
}

func decodeTokenRecord(email string, data []byte, modTime time.Time) (*TokenRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrTokenCorrupt
	}
	var fields struct {
		AccessToken  string `json:"access_token"`
		Token        string `json:"token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
		Scope        string `json:"scope"`
	}
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenCorrupt, err)
	}
	access := fields.AccessToken
	if access == "" {
		access = fields.Token
	}
	return &TokenRecord{
		Email:        email,
		AccessToken:  access,
		RefreshToken: fields.RefreshToken,
		TokenType:    fields.TokenType,
		Scope:        fields.Scope,
		ModTime:      modTime,
		Raw:          json.RawMessage(trimmed),
	}, nil
}

// Store persists the client secret and per-account tokens under one root.
//
// Layout:
//
//	<root>/client_secret.json
//	<root>/accounts/<accountID>/client_secret.json
//	<root>/tokens/<email>.json
//
// Writes are atomic. Mutations for the same email are serialized.
type Store struct {
	root   string
	locks  *keyLock
	logger *slog.Logger
}

// NewStore returns a store rooted at root. The directory is created lazily.
func NewStore(root string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		root:   root,
		locks:  newKeyLock(),
		logger: logger,
	}
}

// Root returns the store directory.
func (s *Store) Root() string {
	return s.root
}

// ClientSecretPath returns the installation client secret path.
func (s *Store) ClientSecretPath() string {
	return filepath.Join(s.root, clientSecretFile)
}

// AccountClientSecretPath returns the client secret path for accountID.
func (s *Store) AccountClientSecretPath(accountID string) (string, error) {
	if err := validateAccountID(accountID); err != nil {
		return "", err
	}
	return filepath.Join(s.root, accountsDir, accountID, clientSecretFile), nil
}

// TokenPath returns the token file path for email.
func (s *Store) TokenPath(email string) (string, error) {
	if err := ValidateEmail(email); err != nil {
		return "", err
	}
	return filepath.Join(s.root, tokensDir, email+tokenExt), nil
}

// LoadClientSecret reads the installation client secret. When the root file
// is absent, the first account-scoped secret (by account ID) is used.
func (s *Store) LoadClientSecret() (*ClientSecret, error) {
	data, err := os.ReadFile(s.ClientSecretPath())
	if errors.Is(err, fs.ErrNotExist) {
		data, err = s.firstAccountSecret()
	}
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrClientSecretMissing
		}
		return nil, fmt.Errorf("failed to read client secret: %w", err)
	}
	return ParseClientSecret(data)
}

// LoadAccountClientSecret reads the secret stored for accountID.
func (s *Store) LoadAccountClientSecret(accountID string) (*ClientSecret, error) {
	path, err := s.AccountClientSecretPath(accountID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrClientSecretMissing
		}
		return nil, fmt.Errorf("failed to read client secret: %w", err)
	}
	return ParseClientSecret(data)
}

func (s *Store) firstAccountSecret() ([]byte, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, accountsDir))
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.root, accountsDir, e.Name(), clientSecretFile))
		if err == nil {
			return data, nil
		}
	}
	return nil, fs.ErrNotExist
}

// SaveClientSecret writes payload verbatim to the account-scoped secret file
// and returns its path. The account directory is created if needed.
func (s *Store) SaveClientSecret(accountID string, payload []byte) (string, error) {
	path, err := s.AccountClientSecretPath(accountID)
	if err != nil {
		return "", err
	}
	if !isJSONObject(payload) {
		return "", ErrInvalidPayload
	}

	unlock := s.locks.Lock("secret:" + accountID)
	defer unlock()

	if err := writeFileAtomic(path, payload, filePerm); err != nil {
		return "", err
	}
	s.logger.Info("client secret saved", logging.Account(accountID))
	return path, nil
}

// LoadToken returns the token for email, or nil when none is stored.
func (s *Store) LoadToken(email string) (*TokenRecord, error) {
	path, err := s.TokenPath(email)
	if err != nil {
		return nil, err
	}
	return s.readToken(email, path)
}

func (s *Store) readToken(email, path string) (*TokenRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open token: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat token: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("failed to read token: %w", err)
	}
	return decodeTokenRecord(email, buf.Bytes(), info.ModTime())
}

// SaveToken replaces the token for email with payload and returns the file
// path.
func (s *Store) SaveToken(email string, payload []byte) (string, error) {
	path, err := s.TokenPath(email)
	if err != nil {
		return "", err
	}
	if !isJSONObject(payload) {
		return "", ErrInvalidPayload
	}
	trimmed := bytes.TrimSpace(payload)

	unlock := s.locks.Lock(email)
	defer unlock()

	if err := writeFileAtomic(path, trimmed, filePerm); err != nil {
		return "", err
	}
	s.logger.Debug("token saved", logging.UserHash(email))
	return path, nil
}

// DeleteToken removes the token for email and reports whether one existed.
func (s *Store) DeleteToken(email string) (bool, error) {
	path, err := s.TokenPath(email)
	if err != nil {
		return false, err
	}

	unlock := s.locks.Lock(email)
	defer unlock()

	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete token: %w", err)
	}
	s.logger.Debug("token deleted", logging.UserHash(email))
	return true, nil
}

// ListAccounts returns the emails that have a token file, sorted.
func (s *Store) ListAccounts() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, tokensDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}

	emails := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, tokenExt) {
			continue
		}
		email := strings.TrimSuffix(name, tokenExt)
		if ValidateEmail(email) == nil {
			emails = append(emails, email)
		}
	}
	sort.Strings(emails)
	return emails, nil
}

// ValidateEmail checks that email is a bare address usable as a file name.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidAccount)
	}
	if strings.ContainsAny(email, `/\`) || strings.HasPrefix(email, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidAccount, email)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: %q is not an email address", ErrInvalidAccount, email)
	}
	return nil
}

func validateAccountID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return fmt.Errorf("%w: account id %q", ErrInvalidAccount, id)
	}
	return nil
}

func isJSONObject(payload []byte) bool {
	trimmed := bytes.TrimSpace(payload)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}
