package extension

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/teemow/mcpmerge/internal/mcpconfig"
)

const (
	// DirnamePlaceholder is replaced by the extension directory in args.
	DirnamePlaceholder = "${__dirname}"

	// CredentialsDirEnv is injected when credentials are shared.
	CredentialsDirEnv = "MCP_GOOGLE_CREDENTIALS_DIR"

	userConfigPrefix = "${user_config."
)

// ErrMissingServerSpec is returned when a manifest has no runnable command.
var ErrMissingServerSpec = errors.New("manifest has no server specification")

var userConfigRef = regexp.MustCompile(`\$\{user_config\.([^}]+)\}`)

// ConvertOptions controls a conversion.
type ConvertOptions struct {
	// ShareCredentials injects CredentialsDirEnv into the converted entry.
	ShareCredentials bool
	// CredentialsDir is the shared credential store root.
	CredentialsDir string
}

// UserConfigField is an env entry left for the user to fill in.
type UserConfigField struct {
	EnvKey      string `json:"envKey"`
	ConfigKey   string `json:"configKey"`
	Template    string `json:"template"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
	Sensitive   bool   `json:"sensitive"`
}

// Conversion is the result of converting one manifest.
type Conversion struct {
	Name               string                `json:"name"`
	Entry              mcpconfig.ServerEntry `json:"entry"`
	RequiresUserConfig bool                  `json:"requiresUserConfig"`
	UserConfigFields   []UserConfigField     `json:"userConfigFields"`
	CredentialsDir     string                `json:"credentialsDir,omitempty"`
}

// Convert turns a manifest into a server entry.
func Convert(m *Manifest, opts ConvertOptions) (*Conversion, error) {
	if m == nil || m.Server == nil || m.Server.MCPConfig == nil || m.Server.MCPConfig.Command == "" {
		return nil, ErrMissingServerSpec
	}
	if opts.ShareCredentials && opts.CredentialsDir == "" {
		return nil, fmt.Errorf("%w: credentials directory is not configured", mcpconfig.ErrInvalidInput)
	}
	tmpl := m.Server.MCPConfig

	entry := mcpconfig.ServerEntry{
		Command: strings.ReplaceAll(tmpl.Command, DirnamePlaceholder, m.Path),
		Args:    make([]string, 0, len(tmpl.Args)),
	}
	for i, raw := range tmpl.Args {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			literal := json.RawMessage(bytes.TrimSpace(raw))
			if entry.RawArgs == nil {
				entry.RawArgs = make(map[int]json.RawMessage)
			}
			entry.RawArgs[i] = literal
			entry.Args = append(entry.Args, string(literal))
			continue
		}
		entry.Args = append(entry.Args, strings.ReplaceAll(s, DirnamePlaceholder, m.Path))
	}

	conv := &Conversion{
		Name:             m.ServerName(),
		UserConfigFields: []UserConfigField{},
	}

	env := make(map[string]string, len(tmpl.Env)+1)
	for _, key := range sortedKeys(tmpl.Env) {
		value := tmpl.Env[key]
		if strings.Contains(value, userConfigPrefix) {
			conv.UserConfigFields = append(conv.UserConfigFields, userConfigFields(m, key, value)...)
			continue
		}
		env[key] = value
	}
	if opts.ShareCredentials {
		env[CredentialsDirEnv] = opts.CredentialsDir
		conv.CredentialsDir = opts.CredentialsDir
	}
	if len(env) > 0 {
		entry.Env = env
	}

	conv.Entry = entry
	conv.RequiresUserConfig = len(conv.UserConfigFields) > 0
	return conv, nil
}

// userConfigFields reports every option referenced by one env value.
func userConfigFields(m *Manifest, envKey, value string) []UserConfigField {
	matches := userConfigRef.FindAllStringSubmatch(value, -1)
	if len(matches) == 0 {
		return []UserConfigField{{EnvKey: envKey, Template: value}}
	}
	fields := make([]UserConfigField, 0, len(matches))
	for _, match := range matches {
		field := UserConfigField{EnvKey: envKey, ConfigKey: match[1], Template: value}
		if m.UserConfig != nil {
			if opt, ok := m.UserConfig.Get(match[1]); ok {
				field.Title = opt.Title
				field.Description = opt.Description
				field.Required = opt.Required
				field.Sensitive = opt.Sensitive
			}
		}
		fields = append(fields, field)
	}
	return fields
}

// ConvertAllResult is the outcome of converting several manifests.
type ConvertAllResult struct {
	Servers     *mcpconfig.ServerConfigSet `json:"servers"`
	Conversions []*Conversion              `json:"conversions"`
	Errors      map[string]string          `json:"errors,omitempty"`

	// Causes holds the underlying error for each Errors entry.
	Causes map[string]error `json:"-"`
}

// ConvertAll converts manifests in order into one bare server set. A manifest
// that fails to convert is reported in Errors and skipped.
func ConvertAll(manifests []*Manifest, opts ConvertOptions) *ConvertAllResult {
	result := &ConvertAllResult{
		Servers:     mcpconfig.NewServerConfigSet(mcpconfig.ShapeBare),
		Conversions: []*Conversion{},
	}
	for _, m := range manifests {
		conv, err := Convert(m, opts)
		if err != nil {
			if result.Errors == nil {
				result.Errors = make(map[string]string)
				result.Causes = make(map[string]error)
			}
			label := manifestLabel(m)
			result.Errors[label] = err.Error()
			result.Causes[label] = err
			continue
		}
		result.Servers.Set(conv.Name, conv.Entry)
		result.Conversions = append(result.Conversions, conv)
	}
	return result
}

func manifestLabel(m *Manifest) string {
	if m == nil {
		return "<nil>"
	}
	return m.ServerName()
}

func baseName(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Base(path)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
