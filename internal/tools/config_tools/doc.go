// Package config_tools provides MCP tools for merging server configurations
// and converting installed desktop extensions into server entries.
package config_tools
