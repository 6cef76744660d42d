// Package batch provides helpers for tools that act on several items in one
// call, such as revoking tokens for a list of accounts.
//
// This package includes helpers for:
//   - Parsing parameters that accept both single values and arrays
//   - Running an operation per item and keeping partial failures
//   - Formatting the aggregated results
package batch
