// Package lock implements the shared directory lock file that stops two
// imgsweep runs from processing the same target at once.
//
// The lock file is plain text with one absolute directory per line. Every
// change is a read-modify-write under an exclusive flock on a sidecar guard
// file, and the new content replaces the old by rename.
package lock

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/logging"
)

// ErrLocked is returned by Acquire when the directory is already listed.
var ErrLocked = errors.New("directory is locked by another run")

// GuardSuffix is appended to the lock file name to form the guard file.
const GuardSuffix = ".guard"

// DirLock manages a lock file.
type DirLock struct {
	path string
}

// New returns a DirLock for the lock file at path.
func New(path string) *DirLock {
	return &DirLock{path: path}
}

// Path returns the lock file path.
func (l *DirLock) Path() string {
	return l.path
}

// Acquire appends dir to the lock file, creating it if needed. It fails with
// ErrLocked, leaving the file unchanged, when dir is already present.
func (l *DirLock) Acquire(dir string) error {
	dir, err := normalize(dir)
	if err != nil {
		return err
	}

	err = l.update(func(entries []string) ([]string, error) {
		for _, e := range entries {
			if e == dir {
				return nil, fmt.Errorf("%w: %s (run `imgsweep unlock %s` if no other run is active)", ErrLocked, dir, dir)
			}
		}
		return append(entries, dir), nil
	})
	if err != nil {
		return err
	}

	logging.Get("lock").Debug("acquired", "dir", dir, "lockfile", l.path)
	return nil
}

// Release removes one occurrence of dir. Releasing a directory that is not
// listed is a no-op. The lock file is deleted once empty.
func (l *DirLock) Release(dir string) error {
	dir, err := normalize(dir)
	if err != nil {
		return err
	}

	err = l.update(func(entries []string) ([]string, error) {
		for i, e := range entries {
			if e == dir {
				return append(entries[:i:i], entries[i+1:]...), nil
			}
		}
		return entries, nil
	})
	if err != nil {
		return err
	}

	logging.Get("lock").Debug("released", "dir", dir)
	return nil
}

// ForceUnlock removes every occurrence of dir and returns how many were
// removed. It is meant for clearing entries left by a killed run.
func (l *DirLock) ForceUnlock(dir string) (int, error) {
	dir, err := normalize(dir)
	if err != nil {
		return 0, err
	}

	removed := 0
	err = l.update(func(entries []string) ([]string, error) {
		kept := entries[:0]
		for _, e := range entries {
			if e == dir {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		return kept, nil
	})
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		logging.Get("lock").Warn("force unlocked", "dir", dir, "entries", removed)
	}
	return removed, nil
}

// Locked returns the directories currently listed.
func (l *DirLock) Locked() ([]string, error) {
	var out []string
	err := l.withGuard(func() error {
		entries, err := l.read()
		out = entries
		return err
	})
	return out, err
}

// IsLocked reports whether dir is listed.
func (l *DirLock) IsLocked(dir string) (bool, error) {
	dir, err := normalize(dir)
	if err != nil {
		return false, err
	}
	entries, err := l.Locked()
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e == dir {
			return true, nil
		}
	}
	return false, nil
}

func (l *DirLock) update(fn func([]string) ([]string, error)) error {
	return l.withGuard(func() error {
		entries, err := l.read()
		if err != nil {
			return err
		}
		next, err := fn(entries)
		if err != nil {
			return err
		}
		return l.write(next)
	})
}

// withGuard runs fn holding an exclusive flock on the guard file.
func (l *DirLock) withGuard(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}

	guard, err := os.OpenFile(l.path+GuardSuffix, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("opening lock guard: %w", err)
	}
	defer guard.Close()

	fd := int(guard.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		return fmt.Errorf("locking %s: %w", guard.Name(), err)
	}
	defer func() { _ = unix.Flock(fd, unix.LOCK_UN) }()

	return fn()
}

// read returns the listed directories with blank lines dropped.
func (l *DirLock) read() ([]string, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading lock file: %w", err)
	}

	var entries []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			entries = append(entries, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("parsing lock file: %w", err)
	}
	return entries, nil
}

func (l *DirLock) write(entries []string) error {
	if len(entries) == 0 {
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing lock file: %w", err)
		}
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), filepath.Base(l.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating lock temp file: %w", err)
	}
	tmpName := tmp.Name()

	content := strings.Join(entries, "\n") + "\n"
	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing lock temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing lock temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("setting lock file mode: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing lock file: %w", err)
	}
	return nil
}

func normalize(dir string) (string, error) {
	if dir == "" {
		return "", errors.New("empty directory")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", dir, err)
	}
	return abs, nil
}
