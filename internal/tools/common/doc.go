// Package common provides helpers shared by the MCP tool packages: argument
// accessors, list parsing for single-or-many parameters and the
// instrumented handler wrapper.
package common
