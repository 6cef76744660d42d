// Package auth_tools provides MCP tools for the Google OAuth flow: checking
// which configured servers have credentials, starting authorization,
// exchanging codes and revoking stored tokens.
package auth_tools
