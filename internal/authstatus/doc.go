// Package authstatus reports which configured MCP servers need a Google
// account and whether that account currently has a stored token.
package authstatus
