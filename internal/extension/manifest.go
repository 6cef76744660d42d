package extension

import (
	"encoding/json"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ManifestFileName is the file each extension directory must contain.
const ManifestFileName = "manifest.json"

// Manifest is a desktop extension descriptor.
type Manifest struct {
	ID          string      `json:"id,omitempty"`
	Name        string      `json:"name"`
	DisplayName string      `json:"display_name,omitempty"`
	Version     string      `json:"version,omitempty"`
	Description string      `json:"description,omitempty"`
	Author      Author      `json:"author,omitempty"`
	Server      *ServerSpec `json:"server,omitempty"`
	Tools       []Tool      `json:"tools,omitempty"`

	// UserConfig is the declared user configuration schema, keyed by option
	// name in manifest order.
	UserConfig *orderedmap.OrderedMap[string, UserConfigOption] `json:"user_config,omitempty"`

	// Path is the directory the manifest was loaded from. It is not part of
	// the manifest file.
	Path string `json:"path"`
}

// ServerSpec describes how to launch the extension's server.
type ServerSpec struct {
	Type       string     `json:"type,omitempty"`
	EntryPoint string     `json:"entry_point,omitempty"`
	MCPConfig  *MCPConfig `json:"mcp_config,omitempty"`
}

// MCPConfig is the command template inside a ServerSpec.
type MCPConfig struct {
	Command string            `json:"command"`
	Args    []json.RawMessage `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Tool is a tool advertised by the extension.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// UserConfigOption is one entry of the user configuration schema.
type UserConfigOption struct {
	Type        string          `json:"type,omitempty"`
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	Required    bool            `json:"required,omitempty"`
	Sensitive   bool            `json:"sensitive,omitempty"`
	Default     json.RawMessage `json:"default,omitempty"`
}

// Author accepts both the object form and a plain string.
type Author struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	URL   string `json:"url,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Author) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*a = Author{Name: name}
		return nil
	}
	type plain Author
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("author must be a string or object: %w", err)
	}
	*a = Author(p)
	return nil
}

// ParseManifest decodes manifest.json content. Missing optional containers
// are left empty rather than nil where callers iterate them.
func ParseManifest(data []byte, path string) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.UserConfig == nil {
		m.UserConfig = orderedmap.New[string, UserConfigOption]()
	}
	if m.Tools == nil {
		m.Tools = []Tool{}
	}
	m.Path = path
	return &m, nil
}

// ServerName returns the name a converted entry is registered under.
func (m *Manifest) ServerName() string {
	switch {
	case m.Name != "":
		return m.Name
	case m.ID != "":
		return m.ID
	default:
		return baseName(m.Path)
	}
}

// Title returns the human readable name.
func (m *Manifest) Title() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.ServerName()
}
