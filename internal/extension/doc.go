// Package extension reads desktop extension manifests and converts them into
// MCP server entries.
//
// Each extension lives in its own directory under an extensions root and
// describes its server in manifest.json:
//
//	{
//	  "name": "google-workspace",
//	  "server": {
//	    "mcp_config": {
//	      "command": "node",
//	      "args": ["${__dirname}/server/index.js"],
//	      "env": {"API_KEY": "${user_config.api_key}"}
//	    }
//	  }
//	}
//
// Convert replaces ${__dirname} with the extension directory and leaves out
// env values that reference ${user_config.*}. Those are returned as
// UserConfigFields so the caller can ask the user for them.
//
// Scanner loads manifests concurrently, Catalog caches the result and Watcher
// refreshes the catalog when the directory changes.
package extension
