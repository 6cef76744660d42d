// Package server wires the configuration, extension and credential
// packages behind a shared ServerContext and exposes them over HTTP.
//
// # Key Components
//
// ServerContext owns the OAuth flow manager, the extension catalog and the
// auth status scanner. Operations such as Merge, ConvertExtensions and
// AuthStatus record metrics and spans before returning.
//
// API registers the JSON endpoints under /api and the OAuth redirect
// handler on /oauth2/callback. Every response uses the Envelope shape, and
// ErrorStatus maps domain errors to HTTP status codes.
//
// HTTPServer combines the API, health probes and optionally the MCP
// streamable HTTP transport on /mcp. MetricsServer serves Prometheus
// metrics on a separate listener.
package server
