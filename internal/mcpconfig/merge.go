package mcpconfig

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// MergeReport describes what a merge changed.
type MergeReport struct {
	// Added lists effective incoming names that were not in the existing
	// set, in the order they were appended.
	Added []string `json:"addedServers"`
	// Replaced lists existing names whose entry was overwritten.
	Replaced []string `json:"replacedServers"`
	// Total is the number of servers in the merged set.
	Total int `json:"totalServers"`
}

// Merge unions incoming into existing after applying renames to incoming.
//
// Rules:
//   - Incoming entries are processed in their own order. When two of them
//     resolve to the same effective name, the later value wins and the name
//     keeps the position of its first occurrence.
//   - Names already in existing keep their position and take the incoming
//     value. New names are appended after all existing names.
//   - The result has existing's shape regardless of incoming's shape.
//
// Merging is order-independent across several calls only when no name
// collides between the merged sets; with collisions the last merge wins.
//
// Neither input is modified.
func Merge(existing, incoming *ServerConfigSet, renames RenameMap) (*ServerConfigSet, *MergeReport, error) {
	if existing == nil || existing.Servers == nil {
		return nil, nil, fmt.Errorf("%w: existing configuration is required", ErrInvalidInput)
	}
	if incoming == nil || incoming.Servers == nil {
		return nil, nil, fmt.Errorf("%w: incoming servers are required", ErrInvalidInput)
	}
	if err := existing.Validate(); err != nil {
		return nil, nil, fmt.Errorf("existing: %w", err)
	}
	if err := incoming.Validate(); err != nil {
		return nil, nil, fmt.Errorf("incoming: %w", err)
	}

	effective := orderedmap.New[string, ServerEntry]()
	for pair := incoming.Servers.Oldest(); pair != nil; pair = pair.Next() {
		effective.Set(renames.Resolve(pair.Key), pair.Value)
	}

	merged := existing.Clone()
	report := &MergeReport{
		Added:    []string{},
		Replaced: []string{},
	}
	for pair := effective.Oldest(); pair != nil; pair = pair.Next() {
		if _, ok := merged.Servers.Get(pair.Key); ok {
			report.Replaced = append(report.Replaced, pair.Key)
		} else {
			report.Added = append(report.Added, pair.Key)
		}
		merged.Servers.Set(pair.Key, pair.Value)
	}
	report.Total = merged.Servers.Len()

	return merged, report, nil
}
