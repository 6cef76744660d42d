// Package logging holds the slog conventions shared by mcpmerge.
//
// Attribute helpers keep key names uniform across the HTTP API, the MCP tools
// and the CLI:
//
//	logger := logging.WithOperation(slog.Default(), "token_exchange")
//	logger.Info("token stored", logging.UserHash(email), logging.Err(err))
//
// Account emails are logged as a truncated SHA-256 hash. Loggers built with
// New also redact token and client secret attributes, so a stray
// slog.Any("token", tok) does not leak credentials.
package logging
