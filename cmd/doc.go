// Package cmd implements the command-line interface for mcpmerge.
//
// This package provides the following commands:
//   - serve: Start the HTTP API and MCP server (stdio or streamable-http)
//   - merge: Merge an incoming server set into an existing MCP config file
//   - extensions: List installed extensions or convert them to server entries
//   - auth: Inspect and manage per-account Google credentials
//   - generate-docs: Generate markdown documentation for all MCP tools
//   - version: Display version information
//
// Configuration is read from --config (default
// $XDG_CONFIG_HOME/mcpmerge/config.yaml), then MCPMERGE_* environment
// variables, then the --credentials-dir and --extensions-dir flags.
package cmd
