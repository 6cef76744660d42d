package authstatus

import (
	"context"
	"log/slog"
	"strings"

	"github.com/teemow/mcpmerge/internal/google"
	"github.com/teemow/mcpmerge/internal/logging"
	"github.com/teemow/mcpmerge/internal/mcpconfig"
)

// Keywords mark a server name as Google Workspace related. Matching is a
// case-insensitive substring test.
var Keywords = []string{"workspace", "google", "gmail", "drive", "sheets", "docs", "calendar"}

// EmailEnvKeys are consulted in order for the account email of a server.
var EmailEnvKeys = []string{"USER_GOOGLE_EMAIL", "GOOGLE_ACCOUNT_EMAIL", "GOOGLE_USER_EMAIL"}

// Entry is the authentication status of one server.
type Entry struct {
	ServerName              string `json:"serverName"`
	RequiresGoogleAuth      bool   `json:"requiresGoogleAuth"`
	Email                   string `json:"email,omitempty"`
	Authenticated           bool   `json:"authenticated"`
	NeedsEmailConfiguration bool   `json:"needsEmailConfiguration"`
	Error                   string `json:"error,omitempty"`
}

// TokenLoader reads stored tokens. *google.Store implements it.
type TokenLoader interface {
	LoadToken(email string) (*google.TokenRecord, error)
}

// Scanner derives auth status for a server set.
type Scanner struct {
	tokens TokenLoader
	logger *slog.Logger
}

// NewScanner returns a scanner reading tokens from tokens.
func NewScanner(tokens TokenLoader, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		tokens: tokens,
		logger: logging.WithOperation(logger, "auth_status"),
	}
}

// RequiresGoogleAuth reports whether name matches one of Keywords.
func RequiresGoogleAuth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range Keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// AccountEmail returns the first non-empty EmailEnvKeys value in env.
func AccountEmail(env map[string]string) string {
	for _, key := range EmailEnvKeys {
		if v := strings.TrimSpace(env[key]); v != "" {
			return v
		}
	}
	return ""
}

// Scan returns a status entry for every Google related server in set.
// Servers that do not match Keywords are absent from the result. A token
// that cannot be read is reported on its entry rather than failing the scan.
func (s *Scanner) Scan(ctx context.Context, set *mcpconfig.ServerConfigSet) (map[string]Entry, error) {
	if set == nil {
		return nil, mcpconfig.ErrInvalidInput
	}

	result := make(map[string]Entry)
	for _, name := range set.Names() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !RequiresGoogleAuth(name) {
			continue
		}
		entry, _ := set.Get(name)
		result[name] = s.status(name, entry)
	}

	s.logger.Debug("auth status scanned",
		slog.Int("servers", set.Len()),
		slog.Int("google_servers", len(result)))
	return result, nil
}

func (s *Scanner) status(name string, entry mcpconfig.ServerEntry) Entry {
	st := Entry{
		ServerName:         name,
		RequiresGoogleAuth: true,
	}
	email := AccountEmail(entry.Env)
	if email == "" {
		st.NeedsEmailConfiguration = true
		return st
	}
	st.Email = email

	rec, err := s.tokens.LoadToken(email)
	if err != nil {
		s.logger.Warn("failed to read token", logging.Server(name), logging.UserHash(email), logging.Err(err))
		st.Error = err.Error()
		return st
	}
	st.Authenticated = rec.Authenticated()
	return st
}

// Summary counts scan results.
type Summary struct {
	Total           int `json:"total"`
	Authenticated   int `json:"authenticated"`
	Unauthenticated int `json:"unauthenticated"`
	NeedsEmail      int `json:"needsEmail"`
	Errors          int `json:"errors"`
}

// Summarize counts the entries of a scan result.
func Summarize(result map[string]Entry) Summary {
	var sum Summary
	for _, e := range result {
		sum.Total++
		switch {
		case e.Error != "":
			sum.Errors++
		case e.NeedsEmailConfiguration:
			sum.NeedsEmail++
		case e.Authenticated:
			sum.Authenticated++
		default:
			sum.Unauthenticated++
		}
	}
	return sum
}
