package instrumentation

import "strings"

// Label values derived from user input go through these helpers so a metric
// series count stays bounded by the route table and the set of email
// domains.

const (
	// LabelUnknown replaces a value that cannot be reduced.
	LabelUnknown = "unknown"

	// LabelUnmatched is the route label for requests no pattern matched.
	LabelUnmatched = "unmatched"
)

// ExtractUserDomain returns the domain of an email address, or "unknown".
//
//	ExtractUserDomain("jane@example.com")  // "example.com"
//	ExtractUserDomain("invalid")           // "unknown"
func ExtractUserDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return LabelUnknown
	}
	return email[at+1:]
}

// RouteLabel reduces a ServeMux pattern such as "POST /api/merge-mcp" to its
// path. Requests that matched nothing share one label.
func RouteLabel(pattern string) string {
	if pattern == "" {
		return LabelUnmatched
	}
	if _, path, ok := strings.Cut(pattern, " "); ok {
		pattern = strings.TrimSpace(path)
	}
	return pattern
}
