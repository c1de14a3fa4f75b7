package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/hooks"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/runner"
)

// ErrNotFound is returned by Get when no entry matches.
var ErrNotFound = errors.New("entry not found")

// Manifest manages run history on the filesystem.
type Manifest struct {
	dir string
	mu  sync.Mutex
}

// New creates a new Manifest with the given directory.
// The directory is not created until EnsureDir is called.
func New(dir string) (*Manifest, error) {
	if dir == "" {
		return nil, errors.New("manifest directory cannot be empty")
	}
	return &Manifest{dir: dir}, nil
}

// Dir returns the history directory.
func (m *Manifest) Dir() string {
	return m.dir
}

// EnsureDir creates the manifest directory if it does not exist.
func (m *Manifest) EnsureDir() error {
	return os.MkdirAll(m.dir, 0o755)
}

// FromSummary converts a run summary into an entry. runErr is recorded when
// the run ended early.
func FromSummary(op OperationType, sum *runner.Summary, runErr error) *Entry {
	entry := &Entry{
		ID:        sum.RunID,
		Timestamp: sum.StartedAt.UTC(),
		Operation: op,
		Target:    sum.Target,
		Mode:      sum.Mode,
		Files:     make([]FileRecord, 0, len(sum.Files)),
		Summary: Summary{
			BytesIn:        sum.BytesIn,
			BytesOut:       sum.BytesOut,
			BytesSaved:     sum.BytesSaved,
			PercentSaved:   sum.PercentSaved,
			FilesOptimized: sum.FilesOptimized,
			FilesTotal:     sum.FilesTotal,
			FilesSkipped:   sum.FilesSkipped,
			FilesFailed:    sum.FilesFailed,
			Elapsed:        sum.Elapsed,
		},
	}
	if entry.ID == "" {
		entry.ID = hooks.NewRunID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if runErr != nil {
		entry.Error = runErr.Error()
	}

	for _, t := range sum.Files {
		entry.Files = append(entry.Files, FileRecord{
			Path:       t.Path,
			Outcome:    t.Outcome,
			SizeBefore: t.SizeBefore,
			SizeAfter:  t.SizeAfter,
			Tool:       t.Tool,
			Reason:     t.Reason,
			Restored:   t.Restored,
		})
	}
	return entry
}

// Record persists entry.
func (m *Manifest) Record(entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.EnsureDir(); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}
	if err := m.writeEntry(entry); err != nil {
		return fmt.Errorf("failed to write manifest entry: %w", err)
	}
	return nil
}

// writeEntry writes an entry to a JSON file in the manifest directory.
func (m *Manifest) writeEntry(entry *Entry) error {
	filePath := filepath.Join(m.dir, entryFilename(entry))

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	// Write atomically using a temp file and rename
	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// entryFilename sorts lexically by time: "2024-06-15T10-30-00-<id>.json".
func entryFilename(entry *Entry) string {
	return fmt.Sprintf("%s-%s.json", entry.Timestamp.UTC().Format("2006-01-02T15-04-05"), entry.ID)
}

// List returns all manifest entries sorted by timestamp descending (newest first).
// If limit is 0 or negative, all entries are returned.
func (m *Manifest) List(limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := m.readAll()
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Get retrieves an entry by ID or by a unique ID prefix.
func (m *Manifest) Get(id string) (*Entry, error) {
	if id == "" {
		return nil, errors.New("entry ID cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := m.readAll()
	if err != nil {
		return nil, err
	}

	var match *Entry
	for i := range entries {
		if entries[i].ID == id {
			return &entries[i], nil
		}
		if strings.HasPrefix(entries[i].ID, id) {
			if match != nil {
				return nil, fmt.Errorf("ambiguous entry ID prefix: %s", id)
			}
			match = &entries[i]
		}
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return match, nil
}

func (m *Manifest) readAll() ([]Entry, error) {
	files, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("failed to read manifest directory: %w", err)
	}

	entries := []Entry{}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}

		entry, err := m.readEntryFile(f.Name())
		if err != nil {
			// Skip files that can't be parsed
			continue
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

// readEntryFile reads and parses a manifest entry from a JSON file.
func (m *Manifest) readEntryFile(filename string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(m.dir, filename))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}

	return &entry, nil
}

// Cleanup removes entries older than retentionDays and returns how many
// were removed. A non-positive retention removes nothing.
func (m *Manifest) Cleanup(retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	files, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read manifest directory: %w", err)
	}

	removed := 0
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}

		entry, err := m.readEntryFile(f.Name())
		if err != nil {
			continue
		}

		if entry.Timestamp.Before(cutoff) {
			if err := os.Remove(filepath.Join(m.dir, f.Name())); err != nil {
				continue
			}
			removed++
		}
	}

	return removed, nil
}
