// Package appconfig loads the optional mcpmerge configuration file.
//
// The file lives at $XDG_CONFIG_HOME/mcpmerge/config.yaml by default. A
// missing file yields the defaults. MCPMERGE_* environment variables override
// file values; command-line flags override both.
package appconfig
