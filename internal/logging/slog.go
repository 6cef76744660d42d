package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Attribute keys shared by every component.
const (
	KeyOperation = "operation"
	KeyServer    = "server"
	KeyAccount   = "account"
	KeyUserHash  = "user_hash"
	KeyStatus    = "status"
	KeyError     = "error"
)

// Output formats accepted by New.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Redacted replaces the value of secret-bearing attributes.
const Redacted = "[redacted]"

// secretKeys are attribute keys whose values never reach the output. They
// match the field names of Google token responses and client secret files.
var secretKeys = map[string]struct{}{
	"access_token":  {},
	"refresh_token": {},
	"id_token":      {},
	"client_secret": {},
	"code":          {},
	"token":         {},
}

// Options configures New.
type Options struct {
	Format string
	Level  slog.Leveler
}

// New returns a logger writing to w. Secret attributes are redacted
// regardless of format.
func New(w io.Writer, opts Options) (*slog.Logger, error) {
	handlerOpts := &slog.HandlerOptions{
		Level:       opts.Level,
		ReplaceAttr: RedactSecrets,
	}
	switch strings.ToLower(opts.Format) {
	case "", FormatText:
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	case FormatJSON:
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q (supported: %s, %s)", opts.Format, FormatText, FormatJSON)
	}
}

// RedactSecrets is a slog ReplaceAttr hook that masks token and client
// secret values.
func RedactSecrets(_ []string, a slog.Attr) slog.Attr {
	if _, ok := secretKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, Redacted)
	}
	return a
}

// WithOperation returns a logger tagged with operation.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(Operation(operation))
}

func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Server names an MCP server entry.
func Server(name string) slog.Attr {
	return slog.String(KeyServer, name)
}

// Account names a client secret account. Emails go through UserHash instead.
func Account(account string) slog.Attr {
	return slog.String(KeyAccount, account)
}

func Status(status string) slog.Attr {
	return slog.String(KeyStatus, status)
}

// Err is safe to call with a nil error; the empty group it returns is
// dropped by every handler.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}

// AnonymizeEmail hashes email so log lines can be correlated per account
// without recording the address. Case is folded first.
func AnonymizeEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(email))
	return "user:" + hex.EncodeToString(sum[:8])
}

// UserHash is the attribute form of AnonymizeEmail.
func UserHash(email string) slog.Attr {
	return slog.String(KeyUserHash, AnonymizeEmail(email))
}
