package extension

import (
	"context"
	"sync"
	"time"
)

// Catalog caches the last scan result.
type Catalog struct {
	scanner *Scanner

	mu        sync.RWMutex
	manifests []*Manifest
	loaded    bool
	scannedAt time.Time
}

// NewCatalog returns an empty catalog backed by scanner.
func NewCatalog(scanner *Scanner) *Catalog {
	return &Catalog{scanner: scanner}
}

// Root returns the extensions directory.
func (c *Catalog) Root() string {
	return c.scanner.Root()
}

// Refresh re-scans the extensions directory.
func (c *Catalog) Refresh(ctx context.Context) error {
	manifests, err := c.scanner.Scan(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.manifests = manifests
	c.loaded = true
	c.scannedAt = time.Now()
	c.mu.Unlock()
	return nil
}

// List returns the cached manifests, scanning on first use.
func (c *Catalog) List(ctx context.Context) ([]*Manifest, error) {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if !loaded {
		if err := c.Refresh(ctx); err != nil {
			return nil, err
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Manifest, len(c.manifests))
	copy(out, c.manifests)
	return out, nil
}

// Select returns the manifests whose server name or id is in ids, in catalog
// order. An empty ids selects everything. Unknown ids are returned separately.
func (c *Catalog) Select(ctx context.Context, ids []string) ([]*Manifest, []string, error) {
	all, err := c.List(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(ids) == 0 {
		return all, nil, nil
	}

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	found := make(map[string]bool, len(ids))
	selected := make([]*Manifest, 0, len(ids))
	for _, m := range all {
		switch {
		case want[m.ServerName()]:
			found[m.ServerName()] = true
		case m.ID != "" && want[m.ID]:
			found[m.ID] = true
		default:
			continue
		}
		selected = append(selected, m)
	}

	var missing []string
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return selected, missing, nil
}

// ScannedAt returns when the catalog was last refreshed.
func (c *Catalog) ScannedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scannedAt
}
