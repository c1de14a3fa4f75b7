package filter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/logging"
)

// ErrMarkerNotWritable is returned when the time marker's mtime cannot be
// changed.
var ErrMarkerNotWritable = errors.New("time marker is not writable")

// Marker is a file whose modification time is the high-water mark for
// incremental runs.
type Marker struct {
	path     string
	existed  bool
	original time.Time
	start    time.Time
}

// NewMarker returns a marker at path.
func NewMarker(path string) *Marker {
	return &Marker{path: path}
}

// Path returns the marker file path.
func (m *Marker) Path() string {
	return m.path
}

// Existed reports whether the marker was present when the run started.
func (m *Marker) Existed() bool {
	return m.existed
}

// Original returns the marker's mtime at the start of the run.
func (m *Marker) Original() time.Time {
	return m.original
}

// Prepare records the current marker time and checks that it can be
// rewritten: the mtime is set to a different value, read back, then
// restored. A missing marker is not an error; it is created by Advance.
func (m *Marker) Prepare(start time.Time) error {
	m.start = start

	info, err := os.Stat(m.path)
	if os.IsNotExist(err) {
		m.existed = false
		logging.Get("filter").Info("time marker not found, processing everything", "marker", m.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading time marker: %w", err)
	}

	m.existed = true
	m.original = info.ModTime()

	probe := start
	if !probe.Truncate(time.Second).After(m.original.Truncate(time.Second)) {
		probe = m.original.Add(2 * time.Second)
	}
	if err := os.Chtimes(m.path, probe, probe); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMarkerNotWritable, m.path, err)
	}

	touched, err := os.Stat(m.path)
	if err != nil {
		return fmt.Errorf("reading time marker: %w", err)
	}
	if touched.ModTime().Equal(m.original) {
		return fmt.Errorf("%w: %s", ErrMarkerNotWritable, m.path)
	}

	if err := os.Chtimes(m.path, m.original, m.original); err != nil {
		return fmt.Errorf("%w: restoring %s: %w", ErrMarkerNotWritable, m.path, err)
	}
	return nil
}

// StampTime is the mtime given to files processed in this run: the
// marker's original time, or the run start when there was no marker.
func (m *Marker) StampTime() time.Time {
	if m.existed {
		return m.original
	}
	return m.start
}

// Next returns the time Advance will write: the run start, or one second
// past the original when the start is not later.
func (m *Marker) Next() time.Time {
	if !m.existed {
		return m.start
	}
	nudged := m.original.Add(time.Second)
	if m.start.After(nudged) {
		return m.start
	}
	return nudged
}

// Advance moves the marker to Next, creating it if needed.
func (m *Marker) Advance() error {
	next := m.Next()

	if !m.existed {
		if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
			return fmt.Errorf("creating time marker directory: %w", err)
		}
		f, err := os.OpenFile(m.path, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("creating time marker: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("creating time marker: %w", err)
		}
	}

	if err := os.Chtimes(m.path, next, next); err != nil {
		return fmt.Errorf("advancing time marker: %w", err)
	}

	logging.Get("filter").Debug("time marker advanced", "marker", m.path, "time", next)
	return nil
}
