package mcpconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Decode parses a configuration document and resolves its shape.
//
// A document whose top-level object has a non-null WrapperKey member is
// wrapped; any other object is a bare mapping. Top-level keys next to
// WrapperKey are retained and re-emitted by MarshalJSON.
func Decode(data []byte) (*ServerConfigSet, error) {
	top := orderedmap.New[string, json.RawMessage]()
	if err := decodeObject(data, top); err != nil {
		return nil, fmt.Errorf("%w: configuration must be a JSON object: %v", ErrInvalidInput, err)
	}

	if inner, ok := top.Get(WrapperKey); ok && !isNull(inner) {
		set, err := decodeServers(inner)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", WrapperKey, err)
		}
		set.Shape = ShapeWrapped
		if top.Len() > 1 {
			set.siblings = top
		}
		return set, nil
	}

	set, err := decodeServers(data)
	if err != nil {
		return nil, err
	}
	set.Shape = ShapeBare
	return set, nil
}

// DecodeValue accepts either a JSON object or a JSON string holding the
// document text, as sent by browser clients that post the raw textarea value.
func DecodeValue(raw json.RawMessage) (*ServerConfigSet, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || isNull(trimmed) {
		return nil, fmt.Errorf("%w: configuration is required", ErrInvalidInput)
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return Decode([]byte(text))
	}
	return Decode(trimmed)
}

// Encode renders the set as indented JSON in its own shape.
func Encode(set *ServerConfigSet) ([]byte, error) {
	compact, err := json.Marshal(set)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, compact, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func decodeServers(data []byte) (*ServerConfigSet, error) {
	raw := orderedmap.New[string, json.RawMessage]()
	if err := decodeObject(data, raw); err != nil {
		return nil, fmt.Errorf("%w: servers must be a mapping of name to entry: %v", ErrInvalidInput, err)
	}

	set := NewServerConfigSet(ShapeBare)
	for pair := raw.Oldest(); pair != nil; pair = pair.Next() {
		var entry ServerEntry
		if err := json.Unmarshal(pair.Value, &entry); err != nil {
			return nil, fmt.Errorf("server %q: %w", pair.Key, err)
		}
		if err := entry.Validate(); err != nil {
			return nil, fmt.Errorf("server %q: %w", pair.Key, err)
		}
		set.Servers.Set(pair.Key, entry)
	}
	return set, nil
}

func decodeObject(data []byte, into *orderedmap.OrderedMap[string, json.RawMessage]) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("expected object")
	}
	return json.Unmarshal(trimmed, into)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
