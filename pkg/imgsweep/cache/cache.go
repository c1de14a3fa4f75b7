// Package cache remembers which files imgsweep already processed so later
// runs can skip them. Entries are keyed by absolute path and hold the size
// and modification time the file had after processing; any change to
// either invalidates the entry.
package cache

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/logging"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/types"
)

// Cache provides high-level caching operations for imgsweep.
type Cache struct {
	store *Store
	path  string
}

// Stats describes the cache contents.
type Stats struct {
	Path       string
	Entries    int
	Optimized  int
	DiskLSM    int64
	DiskVLog   int64
	OldestNano int64
}

// Open opens or creates a cache at the given path.
func Open(path string) (*Cache, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	store, err := OpenStore(path)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	return &Cache{store: store, path: path}, nil
}

// Close closes the cache.
func (c *Cache) Close() error {
	return c.store.Close()
}

// Seen reports whether path was processed before and has not changed
// since.
func (c *Cache) Seen(path string, size int64, modTime time.Time) bool {
	entry, err := c.store.Get(path)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logging.Get("cache").Warn("cache lookup failed", "file", path, "error", err)
		}
		return false
	}
	return entry.Size == size && entry.Mtime == modTime.UnixNano()
}

// Remember records task using the file's current size and modification
// time.
func (c *Cache) Remember(task *types.ImageTask) error {
	info, err := os.Stat(task.Path)
	if err != nil {
		return err
	}

	outcome, _ := task.Outcome.MarshalText()
	return c.store.Put(task.Path, &Entry{
		Size:       info.Size(),
		Mtime:      info.ModTime().UnixNano(),
		Outcome:    string(outcome),
		Tool:       task.Tool,
		RecordedAt: time.Now().UnixNano(),
	})
}

// Forget removes the entry for path.
func (c *Cache) Forget(path string) error {
	return c.store.Delete(path)
}

// Clear removes all cached entries under dir.
func (c *Cache) Clear(dir string) (int, error) {
	return c.store.DeletePrefix(dir)
}

// ClearAll removes all cached entries.
func (c *Cache) ClearAll() (int, error) {
	return c.store.DeletePrefix("")
}

// Stats counts the entries under dir, or all entries when dir is empty.
func (c *Cache) Stats(dir string) (Stats, error) {
	st := Stats{Path: c.path}
	st.DiskLSM, st.DiskVLog = c.store.Size()

	err := c.store.Each(dir, func(_ string, e *Entry) error {
		st.Entries++
		if e.Outcome == "optimized" {
			st.Optimized++
		}
		if st.OldestNano == 0 || e.RecordedAt < st.OldestNano {
			st.OldestNano = e.RecordedAt
		}
		return nil
	})
	return st, err
}
