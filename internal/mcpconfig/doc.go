// Package mcpconfig models MCP server configuration documents and merges them.
//
// A configuration document is either a bare mapping of server name to server
// entry, or the same mapping wrapped under the "mcpServers" key (the layout
// used by Claude Desktop and most MCP clients). The shape is detected once by
// Decode and carried on the ServerConfigSet, so Merge and Encode never have to
// sniff the payload again.
//
// # Merging
//
// Merge applies a rename map to the incoming servers and unions them into the
// existing set:
//
//	merged, report, err := mcpconfig.Merge(existing, incoming, mcpconfig.RenameMap{
//	    "filesystem": "filesystem-work",
//	})
//
// Names already present in the existing set keep their position and take the
// incoming value; new names are appended in incoming order. The merged set
// always has the existing set's shape.
package mcpconfig
