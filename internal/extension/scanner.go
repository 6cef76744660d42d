package extension

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/teemow/mcpmerge/internal/logging"
)

// DefaultScanConcurrency bounds parallel manifest reads.
const DefaultScanConcurrency = 8

// Scanner loads manifests from the subdirectories of one root.
type Scanner struct {
	root        string
	concurrency int
	logger      *slog.Logger
}

// NewScanner returns a scanner for root. A nil logger uses slog.Default.
func NewScanner(root string, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		root:        root,
		concurrency: DefaultScanConcurrency,
		logger:      logging.WithOperation(logger, "extension_scan"),
	}
}

// Root returns the scanned directory.
func (s *Scanner) Root() string {
	return s.root
}

// Scan reads <root>/<dir>/manifest.json for every subdirectory. Directories
// without a readable manifest are skipped. A missing root yields no
// manifests. Results are sorted by directory name.
func (s *Scanner) Scan(ctx context.Context) ([]*Manifest, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []*Manifest{}, nil
		}
		return nil, fmt.Errorf("failed to read extensions directory: %w", err)
	}

	dirs := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Strings(dirs)

	results := make([]*Manifest, len(dirs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, name := range dirs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			dir := filepath.Join(s.root, name)
			m, err := s.load(dir)
			if err != nil {
				s.logger.Debug("skipping extension", slog.String("dir", name), logging.Err(err))
				return nil
			}
			results[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	manifests := make([]*Manifest, 0, len(results))
	for _, m := range results {
		if m != nil {
			manifests = append(manifests, m)
		}
	}
	s.logger.Debug("extensions scanned", slog.Int("count", len(manifests)))
	return manifests, nil
}

func (s *Scanner) load(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if err != nil {
		return nil, err
	}
	return ParseManifest(data, dir)
}
