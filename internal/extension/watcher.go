package extension

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/teemow/mcpmerge/internal/logging"
)

// DefaultDebounce is how long the watcher waits for further changes before
// re-scanning.
const DefaultDebounce = 500 * time.Millisecond

// Watcher refreshes a Catalog when the extensions directory changes.
type Watcher struct {
	catalog  *Catalog
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	timer   *time.Timer
	done    chan struct{}

	// onRefresh is called after each debounced refresh. Tests use it.
	onRefresh func(error)
}

// NewWatcher returns a watcher for catalog. A zero debounce uses
// DefaultDebounce.
func NewWatcher(catalog *Catalog, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		catalog:  catalog,
		debounce: debounce,
		logger:   logging.WithOperation(logger, "extension_watch"),
	}
}

// Start watches the root and its immediate subdirectories until ctx is done
// or Stop is called. The root is created if it does not exist.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return nil
	}

	root := w.catalog.Root()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(root); err != nil {
		_ = fw.Close()
		return err
	}
	entries, err := os.ReadDir(root)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				w.addDir(fw, filepath.Join(root, e.Name()))
			}
		}
	}

	w.watcher = fw
	w.done = make(chan struct{})
	go w.loop(ctx, fw, w.done)

	w.logger.Info("watching extensions directory", slog.String("path", root))
	return nil
}

// Stop ends watching. It is safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return nil
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	close(w.done)
	err := w.watcher.Close()
	w.watcher = nil
	return err
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher, done <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return
		case <-done:
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handle(ctx, fw, event)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("extensions watcher error", logging.Err(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, fw *fsnotify.Watcher, event fsnotify.Event) {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
		return
	}
	if event.Has(fsnotify.Create) && filepath.Dir(event.Name) == w.catalog.Root() {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.addDir(fw, event.Name)
		}
	}
	w.schedule(ctx)
}

func (w *Watcher) addDir(fw *fsnotify.Watcher, dir string) {
	if err := fw.Add(dir); err != nil && !errors.Is(err, fsnotify.ErrClosed) {
		w.logger.Debug("failed to watch extension directory", slog.String("dir", dir), logging.Err(err))
	}
}

func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		err := w.catalog.Refresh(ctx)
		if err != nil {
			w.logger.Warn("failed to refresh extensions", logging.Err(err))
		} else {
			w.logger.Debug("extensions refreshed")
		}
		if w.onRefresh != nil {
			w.onRefresh(err)
		}
	})
}
