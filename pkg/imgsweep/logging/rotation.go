package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	// MaxSize in bytes. Zero uses the 10 MiB default.
	MaxSize int64

	// MaxAge in days for rotated files. Zero keeps them regardless of age.
	MaxAge int

	// MaxBackups caps the number of rotated files. Zero keeps all.
	MaxBackups int

	// Daily forces a rotation when the calendar day changes.
	Daily bool
}

// DefaultRotationConfig returns the rotation defaults.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		MaxSize:    10 << 20,
		MaxAge:     30,
		MaxBackups: 5,
		Daily:      true,
	}
}

// RotatingWriter is an io.WriteCloser that rotates its file by size or day.
// Writes take an flock on the file so several imgsweep processes (a watch
// loop and a one-shot run, say) can share the same log.
type RotatingWriter struct {
	mu     sync.Mutex
	path   string
	cfg    RotationConfig
	file   *os.File
	size   int64
	opened time.Time
}

// NewRotatingWriter opens path for appending, creating parent directories.
func NewRotatingWriter(path string, cfg RotationConfig) (*RotatingWriter, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultRotationConfig().MaxSize
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	w := &RotatingWriter{path: path, cfg: cfg}
	if err := w.open(); err != nil {
		return nil, err
	}
	w.prune()
	return w, nil
}

// Write appends p, rotating first when needed.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}

	if w.due(int64(len(p)), time.Now()) {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("rotating log file: %w", err)
		}
	}

	fd := int(w.file.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		return 0, fmt.Errorf("locking log file: %w", err)
	}
	defer func() { _ = unix.Flock(fd, unix.LOCK_UN) }()

	n, err := w.file.Write(p)
	w.size += int64(n)
	if err != nil {
		return n, fmt.Errorf("writing log file: %w", err)
	}
	return n, nil
}

// Close syncs and closes the underlying file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	syncErr := w.file.Sync()
	closeErr := w.file.Close()
	w.file = nil
	if syncErr != nil {
		return fmt.Errorf("syncing log file: %w", syncErr)
	}
	return closeErr
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}

	w.file = f
	w.size = info.Size()
	w.opened = info.ModTime()
	return nil
}

func (w *RotatingWriter) due(pending int64, now time.Time) bool {
	if w.size > 0 && w.size+pending > w.cfg.MaxSize {
		return true
	}
	if !w.cfg.Daily {
		return false
	}
	y1, m1, d1 := now.Date()
	y2, m2, d2 := w.opened.Date()
	return y1 != y2 || m1 != m2 || d1 != d2
}

// rotatedName returns path with a timestamp inserted before the extension,
// e.g. imgsweep.2026-10-19-150405.log.
func (w *RotatingWriter) rotatedName(t time.Time) string {
	ext := filepath.Ext(w.path)
	return fmt.Sprintf("%s.%s%s", strings.TrimSuffix(w.path, ext), t.Format("2006-01-02-150405"), ext)
}

func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("closing current file: %w", err)
	}
	w.file = nil

	if _, err := os.Stat(w.path); err == nil {
		if err := os.Rename(w.path, w.rotatedName(time.Now())); err != nil {
			return fmt.Errorf("renaming log file: %w", err)
		}
	}

	if err := w.open(); err != nil {
		return err
	}
	w.opened = time.Now()
	w.prune()
	return nil
}

// prune removes rotated files beyond MaxBackups or older than MaxAge.
// Errors are ignored.
func (w *RotatingWriter) prune() {
	dir := filepath.Dir(w.path)
	base := filepath.Base(w.path)
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext) + "."

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	type rotated struct {
		path string
		mod  time.Time
	}
	var old []rotated
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == base || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		old = append(old, rotated{filepath.Join(dir, name), info.ModTime()})
	}

	sort.Slice(old, func(i, j int) bool { return old[i].mod.After(old[j].mod) })

	cutoff := time.Now().Add(-time.Duration(w.cfg.MaxAge) * 24 * time.Hour)
	for i, r := range old {
		tooMany := w.cfg.MaxBackups > 0 && i >= w.cfg.MaxBackups
		tooOld := w.cfg.MaxAge > 0 && r.mod.Before(cutoff)
		if tooMany || tooOld {
			_ = os.Remove(r.path)
		}
	}
}
