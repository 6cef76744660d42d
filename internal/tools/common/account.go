package common

import "strings"

// GetAccountFromArgs returns the "email" argument, or "" when it is absent or
// not a string.
func GetAccountFromArgs(args map[string]interface{}) string {
	if email, ok := args["email"].(string); ok {
		return strings.TrimSpace(email)
	}
	return ""
}

// GetServerFromArgs returns the "serverName" argument, or "".
func GetServerFromArgs(args map[string]interface{}) string {
	if name, ok := args["serverName"].(string); ok {
		return name
	}
	return ""
}

// GetBoolArg returns the named boolean argument, or def when it is absent.
func GetBoolArg(args map[string]interface{}, name string, def bool) bool {
	if v, ok := args[name].(bool); ok {
		return v
	}
	return def
}
