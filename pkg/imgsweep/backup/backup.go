// Package backup keeps a copy of each image while it is being optimized so
// the original can be restored when the compressor makes it larger.
package backup

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sys/unix"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/logging"
)

// DirName is the backup directory inside the run's tmp dir. Each target
// gets its own subdirectory named by TargetKey.
const DirName = "backup"

// suffix is appended to the basename to form the artifact name.
const suffix = ".orig"

// Ownership is the owner, group and permission bits of a file.
type Ownership struct {
	UID  int
	GID  int
	Mode uint32
}

// CaptureOwnership reads the ownership of path.
func CaptureOwnership(path string) (Ownership, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return Ownership{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return Ownership{
		UID:  int(st.Uid),
		GID:  int(st.Gid),
		Mode: uint32(st.Mode) & 0o7777,
	}, nil
}

// Apply sets owner, group and mode on path. Both calls are attempted and
// their errors joined.
func (o Ownership) Apply(path string) error {
	var errs []error
	if err := unix.Chown(path, o.UID, o.GID); err != nil {
		errs = append(errs, fmt.Errorf("chown %s: %w", path, err))
	}
	if err := unix.Chmod(path, o.Mode); err != nil {
		errs = append(errs, fmt.Errorf("chmod %s: %w", path, err))
	}
	return errors.Join(errs...)
}

// Record describes one live backup artifact.
type Record struct {
	// Path is the original file.
	Path string

	// Copy is the backup artifact inside the backup directory.
	Copy string

	// Owner is the ownership of the original at snapshot time.
	Owner Ownership
}

// Manager creates and resolves backups for a single run.
type Manager struct {
	dir                 string
	enabled             bool
	restoreOnRegression bool
}

// TargetKey returns the stable key of a target directory. Runs against
// different targets sharing one tmp dir never share a key.
func TargetKey(target string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(filepath.Clean(target)))
}

// New returns a manager storing artifacts under
// <tmpDir>/backup/<TargetKey(target)>.
func New(tmpDir, target string, enabled, restoreOnRegression bool) *Manager {
	return &Manager{
		dir:                 filepath.Join(tmpDir, DirName, TargetKey(target)),
		enabled:             enabled,
		restoreOnRegression: restoreOnRegression,
	}
}

// Dir returns the backup directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Enabled reports whether snapshots are taken.
func (m *Manager) Enabled() bool {
	return m.enabled
}

// ArtifactPath returns the deterministic artifact name for path.
func (m *Manager) ArtifactPath(path string) string {
	return filepath.Join(m.dir, filepath.Base(path)+suffix)
}

// Snapshot copies path into the backup directory. It returns a nil record
// when backups are disabled. A stale artifact with the same basename is
// replaced.
func (m *Manager) Snapshot(path string) (*Record, error) {
	if !m.enabled {
		return nil, nil
	}

	owner, err := CaptureOwnership(path)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}

	rec := &Record{Path: path, Copy: m.ArtifactPath(path), Owner: owner}
	if err := copyFile(path, rec.Copy, os.FileMode(owner.Mode).Perm()); err != nil {
		_ = os.Remove(rec.Copy)
		return nil, fmt.Errorf("backing up %s: %w", path, err)
	}
	// A restored original keeps its modification time.
	if info, err := os.Stat(path); err == nil {
		_ = os.Chtimes(rec.Copy, info.ModTime(), info.ModTime())
	}

	logging.Get("backup").Debug("snapshot", "file", path, "copy", rec.Copy)
	return rec, nil
}

// ShouldRestore reports whether a result of sizeAfter bytes from an original
// of sizeBefore bytes must be rolled back. Only sizes are compared.
func (m *Manager) ShouldRestore(sizeBefore, sizeAfter int64) bool {
	return m.enabled && m.restoreOnRegression && sizeAfter >= sizeBefore
}

// RestoreIfRegressed puts the original back when the result is not smaller
// and reports whether it did. Otherwise the artifact is discarded. Either way
// no artifact for rec survives the call.
func (m *Manager) RestoreIfRegressed(rec *Record, sizeBefore, sizeAfter int64) (bool, error) {
	if rec == nil {
		return false, nil
	}

	if !m.ShouldRestore(sizeBefore, sizeAfter) {
		return false, m.Discard(rec)
	}

	if err := restore(rec.Copy, rec.Path); err != nil {
		_ = os.Remove(rec.Copy)
		return false, fmt.Errorf("restoring %s: %w", rec.Path, err)
	}

	if err := rec.Owner.Apply(rec.Path); err != nil {
		logging.Get("backup").Warn("could not reapply ownership after restore", "file", rec.Path, "error", err)
	}

	logging.Get("backup").Debug("restored original", "file", rec.Path, "before", sizeBefore, "after", sizeAfter)
	return true, nil
}

// Restore unconditionally puts the original back and removes the artifact.
// The runner uses it when a compressor failed part way through.
func (m *Manager) Restore(rec *Record) error {
	if rec == nil {
		return nil
	}
	if err := restore(rec.Copy, rec.Path); err != nil {
		_ = os.Remove(rec.Copy)
		return fmt.Errorf("restoring %s: %w", rec.Path, err)
	}
	if err := rec.Owner.Apply(rec.Path); err != nil {
		logging.Get("backup").Warn("could not reapply ownership after restore", "file", rec.Path, "error", err)
	}
	return nil
}

// Reapply sets the captured ownership on path. Failures are logged and
// returned but callers treat them as non-fatal.
func (m *Manager) Reapply(path string, owner Ownership) error {
	if err := owner.Apply(path); err != nil {
		logging.Get("backup").Warn("could not reapply ownership", "file", path, "error", err)
		return err
	}
	return nil
}

// Discard removes the artifact for rec.
func (m *Manager) Discard(rec *Record) error {
	if rec == nil {
		return nil
	}
	if err := os.Remove(rec.Copy); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing backup %s: %w", rec.Copy, err)
	}
	return nil
}

// CleanupAll removes this target's backup directory and every artifact in
// it. Other targets' artifacts are left alone. It runs on the interrupt path.
func (m *Manager) CleanupAll() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading backup directory: %w", err)
	}

	if err := os.RemoveAll(m.dir); err != nil {
		return fmt.Errorf("cleaning backups: %w", err)
	}

	logging.Get("backup").Debug("removed backup artifacts", "count", len(entries))
	return nil
}

// restore moves src over dst, falling back to a copy when they live on
// different filesystems.
func restore(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := copyFile(src, dst, info.Mode().Perm()); err != nil {
		return err
	}
	_ = os.Chtimes(dst, info.ModTime(), info.ModTime())
	return os.Remove(src)
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
