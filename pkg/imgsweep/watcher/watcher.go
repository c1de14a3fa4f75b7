// Package watcher watches a directory tree and hands newly created or
// modified images to a batch function once the tree has been quiet for a
// debounce interval.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/lock"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/logging"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/tools"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/types"
)

// DefaultDebounce is how long the tree must be quiet before a batch runs.
const DefaultDebounce = 2 * time.Second

// BatchFunc processes one batch of image paths, sorted.
type BatchFunc func(ctx context.Context, paths []string) error

// Options configures a Watcher.
type Options struct {
	// Debounce is the quiet period before a batch runs.
	Debounce time.Duration

	// SkipDirs are directories that are never watched, such as a tmp dir
	// inside the watched tree.
	SkipDirs []string
}

type fileState struct {
	size  int64
	mtime time.Time
}

// Watcher watches directories for new or changed images.
type Watcher struct {
	watcher  *fsnotify.Watcher
	paths    map[string]bool
	mu       sync.RWMutex
	closed   bool
	debounce time.Duration
	skipDirs []string

	// pending and settled are only touched by the Run goroutine.
	pending map[string]bool
	settled map[string]fileState

	log *logging.Logger
}

// New creates a new Watcher.
func New(opts Options) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	skip := make([]string, 0, len(opts.SkipDirs))
	for _, d := range opts.SkipDirs {
		if abs, err := filepath.Abs(d); err == nil {
			skip = append(skip, abs)
		}
	}

	return &Watcher{
		watcher:  fsw,
		paths:    make(map[string]bool),
		debounce: opts.Debounce,
		skipDirs: skip,
		pending:  make(map[string]bool),
		settled:  make(map[string]fileState),
		log:      logging.Get("watcher"),
	}, nil
}

// Watch starts watching a path recursively.
// Symlinks are not followed to avoid loops.
func (w *Watcher) Watch(root string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	info, err := os.Lstat(absRoot)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return nil
	}

	return filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // Skip entries with errors
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			if w.skipped(path) {
				return filepath.SkipDir
			}
			return w.addWatch(path)
		}
		return nil
	})
}

// Watched returns the watched directories, sorted.
func (w *Watcher) Watched() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]string, 0, len(w.paths))
	for p := range w.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (w *Watcher) addWatch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.paths[path] {
		return nil
	}

	if err := w.watcher.Add(path); err != nil {
		w.log.Warn("failed to add watch", "path", path, "error", err)
		return err
	}

	w.paths[path] = true
	return nil
}

// Run starts the event loop and calls fn with each debounced batch. It
// blocks until the context is cancelled or the watcher is closed. Batches
// rejected with lock.ErrLocked are retried after the next quiet period.
func (w *Watcher) Run(ctx context.Context, fn BatchFunc) error {
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if w.handleEvent(event) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error("watcher error", "error", err)

		case <-timer.C:
			if err := w.flush(ctx, fn); err != nil {
				return err
			}
			if len(w.pending) > 0 {
				timer.Reset(w.debounce)
			}
		}
	}
}

// handleEvent updates the pending set and reports whether it changed.
func (w *Watcher) handleEvent(event fsnotify.Event) bool {
	switch {
	case event.Op&fsnotify.Create != 0:
		return w.handleCreate(event.Name)
	case event.Op&fsnotify.Write != 0:
		return w.enqueue(event.Name)
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.handleRemove(event.Name)
	}
	return false
}

func (w *Watcher) handleCreate(path string) bool {
	info, err := os.Lstat(path)
	if err != nil || info.Mode()&fs.ModeSymlink != 0 {
		return false
	}
	if !info.IsDir() {
		return w.enqueue(path)
	}
	if w.skipped(path) {
		return false
	}

	// Files may land in a new directory before its watch is added.
	changed := false
	_ = filepath.WalkDir(path, func(sub string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || d.Type()&fs.ModeSymlink != 0 {
			return nil //nolint:nilerr // Skip entries with errors
		}
		if d.IsDir() {
			if w.skipped(sub) {
				return filepath.SkipDir
			}
			_ = w.addWatch(sub)
			return nil
		}
		if w.enqueue(sub) {
			changed = true
		}
		return nil
	})
	return changed
}

func (w *Watcher) handleRemove(path string) {
	w.mu.Lock()
	for p := range w.paths {
		if p == path || isSubPath(p, path) {
			_ = w.watcher.Remove(p)
			delete(w.paths, p)
		}
	}
	w.mu.Unlock()

	for p := range w.pending {
		if p == path || isSubPath(p, path) {
			delete(w.pending, p)
		}
	}
	delete(w.settled, path)
}

// enqueue adds path when it is an image that changed since imgsweep last
// wrote it.
func (w *Watcher) enqueue(path string) bool {
	if types.FormatFromPath(path) == types.FormatUnknown {
		return false
	}
	if strings.Contains(filepath.Base(path), tools.TempMarker) || w.skipped(filepath.Dir(path)) {
		return false
	}

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}

	if st, ok := w.settled[path]; ok {
		if st.size == info.Size() && st.mtime.Equal(info.ModTime()) {
			return false
		}
		delete(w.settled, path)
	}

	w.pending[path] = true
	return true
}

func (w *Watcher) flush(ctx context.Context, fn BatchFunc) error {
	if len(w.pending) == 0 {
		return nil
	}

	batch := make([]string, 0, len(w.pending))
	for p := range w.pending {
		batch = append(batch, p)
	}
	sort.Strings(batch)
	w.pending = make(map[string]bool)

	w.log.Info("processing batch", "files", len(batch))
	err := fn(ctx, batch)

	// Events caused by the batch itself are ignored once it settles.
	for _, p := range batch {
		if info, statErr := os.Stat(p); statErr == nil {
			w.settled[p] = fileState{size: info.Size(), mtime: info.ModTime()}
		}
	}

	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, lock.ErrLocked):
		w.log.Warn("target locked, retrying batch", "files", len(batch))
		for _, p := range batch {
			delete(w.settled, p)
			w.pending[p] = true
		}
		return nil
	default:
		w.log.Error("batch failed", "files", len(batch), "error", err)
		return nil
	}
}

func (w *Watcher) skipped(dir string) bool {
	for _, s := range w.skipDirs {
		if dir == s || isSubPath(dir, s) {
			return true
		}
	}
	return false
}

// Close closes the watcher and releases resources.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	w.paths = make(map[string]bool)
	return w.watcher.Close()
}

// isSubPath checks if path is under parent directory.
func isSubPath(path, parent string) bool {
	return len(path) > len(parent) && path[:len(parent)+1] == parent+string(filepath.Separator)
}
