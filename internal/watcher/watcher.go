// Package watcher reports changes below a document directory so the
// index can be refreshed while files are being edited.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for the directory to go
// quiet before reporting a batch.
const DefaultDebounce = 500 * time.Millisecond

// Options configures a Watcher.
type Options struct {
	// Debounce coalesces bursts of events into one batch. Default: 500ms.
	Debounce time.Duration

	// Filter reports whether a created or written file is relevant.
	// Removals and renames are always reported, since the old name may
	// have been indexed. Nil accepts everything.
	Filter func(rel string) bool

	Logger *slog.Logger
}

// Watcher watches a directory tree with fsnotify. Hidden files and
// directories are ignored.
type Watcher struct {
	fs     *fsnotify.Watcher
	root   string
	opts   Options
	logger *slog.Logger
}

// New starts watching root and every directory below it.
func New(root string, opts Options) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute path: %w", err)
	}
	if info, err := os.Stat(abs); err != nil {
		return nil, err
	} else if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{fs: fsw, root: abs, opts: opts, logger: opts.Logger}
	if err := w.addRecursive(abs); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run blocks until ctx is done, calling onChange with the sorted,
// slash-separated relative paths of each debounced batch. An error from
// onChange is logged and watching continues.
func (w *Watcher) Run(ctx context.Context, onChange func(ctx context.Context, paths []string) error) error {
	pending := make(map[string]struct{})
	timer := time.NewTimer(w.opts.Debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if rel, ok := w.accept(ev); ok {
				pending[rel] = struct{}{}
				timer.Reset(w.opts.Debounce)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch_error", slog.String("error", err.Error()))

		case <-timer.C:
			batch := make([]string, 0, len(pending))
			for p := range pending {
				batch = append(batch, p)
			}
			clear(pending)
			sort.Strings(batch)

			w.logger.Debug("watch_batch", slog.Int("paths", len(batch)))
			if err := onChange(ctx, batch); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.logger.Warn("watch_callback_failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

// Root returns the absolute watched directory.
func (w *Watcher) Root() string {
	return w.root
}

func (w *Watcher) accept(ev fsnotify.Event) (string, bool) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || rel == "." {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if hidden(rel) {
		return "", false
	}

	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		return rel, true
	case ev.Has(fsnotify.Create):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				w.logger.Warn("watch_add_failed", slog.String("path", rel), slog.String("error", err.Error()))
			}
			return rel, true
		}
	case ev.Has(fsnotify.Write):
	default:
		// Chmod only.
		return "", false
	}

	if w.opts.Filter != nil && !w.opts.Filter(rel) {
		return "", false
	}
	return rel, true
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Vanished or unreadable; the next walk will see it.
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func hidden(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
