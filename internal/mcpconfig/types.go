package mcpconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// WrapperKey is the container key used by wrapped configuration documents.
const WrapperKey = "mcpServers"

// ErrInvalidInput is returned when a configuration document or server set is
// structurally malformed.
var ErrInvalidInput = errors.New("invalid input")

// Shape records whether a document carried the outer WrapperKey container.
type Shape int

const (
	// ShapeBare is a plain name -> entry mapping.
	ShapeBare Shape = iota
	// ShapeWrapped is a mapping nested under WrapperKey.
	ShapeWrapped
)

// String implements fmt.Stringer.
func (s Shape) String() string {
	if s == ShapeWrapped {
		return "wrapped"
	}
	return "bare"
}

// ServerEntry is a runnable MCP server descriptor.
type ServerEntry struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env,omitempty"`

	// RawArgs holds the JSON literal of args that were not strings, keyed by
	// their index in Args. Args keeps the literal text so callers can treat
	// every arg as a string; encoding writes the literal back.
	RawArgs map[int]json.RawMessage `json:"-"`

	// Extra holds keys this package does not interpret ("type", "cwd",
	// "disabled", ...). They are written back unchanged.
	Extra map[string]json.RawMessage `json:"-"`
}

var knownEntryKeys = map[string]bool{"command": true, "args": true, "env": true}

// Validate checks the entry invariants.
func (e ServerEntry) Validate() error {
	if e.Command == "" {
		return fmt.Errorf("%w: command must not be empty", ErrInvalidInput)
	}
	return nil
}

// UnmarshalJSON decodes an entry and keeps unknown keys in Extra.
func (e *ServerEntry) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: server entry must be an object", ErrInvalidInput)
	}
	if raw == nil {
		return fmt.Errorf("%w: server entry must be an object", ErrInvalidInput)
	}

	var out ServerEntry
	if v, ok := raw["command"]; ok {
		if err := json.Unmarshal(v, &out.Command); err != nil {
			return fmt.Errorf("%w: command must be a string", ErrInvalidInput)
		}
	}
	if v, ok := raw["args"]; ok && !isNull(v) {
		args, rawArgs, err := decodeArgs(v)
		if err != nil {
			return err
		}
		out.Args = args
		out.RawArgs = rawArgs
	}
	if v, ok := raw["env"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &out.Env); err != nil {
			return fmt.Errorf("%w: env must be a mapping of strings", ErrInvalidInput)
		}
	}
	for k, v := range raw {
		if knownEntryKeys[k] {
			continue
		}
		if out.Extra == nil {
			out.Extra = make(map[string]json.RawMessage)
		}
		out.Extra[k] = v
	}

	*e = out
	return nil
}

// MarshalJSON encodes the entry with command, args and env first, followed by
// any extra keys.
func (e ServerEntry) MarshalJSON() ([]byte, error) {
	om := orderedmap.New[string, any]()
	om.Set("command", e.Command)
	om.Set("args", e.encodeArgs())
	if len(e.Env) > 0 {
		om.Set("env", e.Env)
	}
	for _, k := range sortedKeys(e.Extra) {
		om.Set(k, e.Extra[k])
	}
	return json.Marshal(om)
}

// encodeArgs returns args for encoding. An arg listed in RawArgs is written
// as its literal while its text still matches.
func (e ServerEntry) encodeArgs() []any {
	out := make([]any, len(e.Args))
	for i, arg := range e.Args {
		if raw, ok := e.RawArgs[i]; ok && string(raw) == arg {
			out[i] = raw
			continue
		}
		out[i] = arg
	}
	return out
}

// decodeArgs accepts a JSON array. String items are kept as-is; other items
// are kept as their literal text in args and recorded in rawArgs.
func decodeArgs(data []byte) (args []string, rawArgs map[int]json.RawMessage, err error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, nil, fmt.Errorf("%w: args must be an array", ErrInvalidInput)
	}
	args = make([]string, 0, len(items))
	for i, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			args = append(args, s)
			continue
		}
		raw := json.RawMessage(bytes.TrimSpace(item))
		if rawArgs == nil {
			rawArgs = make(map[int]json.RawMessage)
		}
		rawArgs[i] = raw
		args = append(args, string(raw))
	}
	return args, rawArgs, nil
}

func isNull(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}

// RenameMap maps an incoming server name to the name it should be merged as.
// Names absent from the map, or mapped to "", are not renamed.
type RenameMap map[string]string

// Resolve returns the effective name for an incoming server.
func (m RenameMap) Resolve(name string) string {
	if to, ok := m[name]; ok && to != "" {
		return to
	}
	return name
}

// ServerConfigSet is an insertion-ordered set of named server entries plus
// the shape of the document it came from.
type ServerConfigSet struct {
	Shape   Shape
	Servers *orderedmap.OrderedMap[string, ServerEntry]

	// siblings holds the other top-level keys of a wrapped document, in
	// document order. WrapperKey itself is kept as a position marker.
	siblings *orderedmap.OrderedMap[string, json.RawMessage]
}

// NewServerConfigSet returns an empty set with the given shape.
func NewServerConfigSet(shape Shape) *ServerConfigSet {
	return &ServerConfigSet{
		Shape:   shape,
		Servers: orderedmap.New[string, ServerEntry](),
	}
}

// Wrapped reports whether the set is encoded under WrapperKey.
func (s *ServerConfigSet) Wrapped() bool {
	return s.Shape == ShapeWrapped
}

// Len returns the number of servers.
func (s *ServerConfigSet) Len() int {
	if s == nil || s.Servers == nil {
		return 0
	}
	return s.Servers.Len()
}

// Names returns server names in order.
func (s *ServerConfigSet) Names() []string {
	names := make([]string, 0, s.Len())
	if s.Len() == 0 {
		return names
	}
	for pair := s.Servers.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Get returns the entry stored under name.
func (s *ServerConfigSet) Get(name string) (ServerEntry, bool) {
	if s == nil || s.Servers == nil {
		return ServerEntry{}, false
	}
	return s.Servers.Get(name)
}

// Set inserts or replaces an entry. Replacing keeps the original position.
func (s *ServerConfigSet) Set(name string, entry ServerEntry) {
	if s.Servers == nil {
		s.Servers = orderedmap.New[string, ServerEntry]()
	}
	s.Servers.Set(name, entry)
}

// Validate checks that every entry is well formed.
func (s *ServerConfigSet) Validate() error {
	if s == nil || s.Servers == nil {
		return fmt.Errorf("%w: server set is nil", ErrInvalidInput)
	}
	for pair := s.Servers.Oldest(); pair != nil; pair = pair.Next() {
		if err := pair.Value.Validate(); err != nil {
			return fmt.Errorf("server %q: %w", pair.Key, err)
		}
	}
	return nil
}

// Clone returns a copy whose ordered containers can be mutated independently.
func (s *ServerConfigSet) Clone() *ServerConfigSet {
	out := NewServerConfigSet(s.Shape)
	if s.Servers != nil {
		for pair := s.Servers.Oldest(); pair != nil; pair = pair.Next() {
			out.Servers.Set(pair.Key, pair.Value)
		}
	}
	if s.siblings != nil {
		out.siblings = orderedmap.New[string, json.RawMessage]()
		for pair := s.siblings.Oldest(); pair != nil; pair = pair.Next() {
			out.siblings.Set(pair.Key, pair.Value)
		}
	}
	return out
}

// MarshalJSON encodes the set in its own shape.
func (s *ServerConfigSet) MarshalJSON() ([]byte, error) {
	servers := s.Servers
	if servers == nil {
		servers = orderedmap.New[string, ServerEntry]()
	}
	if s.Shape == ShapeBare {
		return json.Marshal(servers)
	}

	outer := orderedmap.New[string, any]()
	if s.siblings == nil || s.siblings.Len() == 0 {
		outer.Set(WrapperKey, servers)
		return json.Marshal(outer)
	}
	if _, ok := s.siblings.Get(WrapperKey); !ok {
		outer.Set(WrapperKey, servers)
	}
	for pair := s.siblings.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Key == WrapperKey {
			outer.Set(WrapperKey, servers)
			continue
		}
		outer.Set(pair.Key, pair.Value)
	}
	return json.Marshal(outer)
}
