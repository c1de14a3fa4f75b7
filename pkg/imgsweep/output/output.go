// Package output renders run results in various formats (pretty, plain,
// json, yaml, etc.).
//
// Formatters are looked up by name from a registry so the CLI can select
// one at runtime:
//
//	formatter, err := output.Get("pretty")
//	if err != nil {
//	    return err
//	}
//	var buf bytes.Buffer
//	if err := formatter.Format(&buf, output.FromEntry(entry)); err != nil {
//	    return err
//	}
package output

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/manifest"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/types"
)

// FileResult is the result for one processed file.
type FileResult struct {
	// Path is the absolute path to the image.
	Path string `json:"path" yaml:"path"`

	// Outcome is the terminal state, e.g. "optimized".
	Outcome string `json:"outcome" yaml:"outcome"`

	SizeBefore int64 `json:"size_before" yaml:"size_before"`
	SizeAfter  int64 `json:"size_after" yaml:"size_after"`

	// Saved is SizeBefore - SizeAfter, or zero when the file grew.
	Saved int64 `json:"saved" yaml:"saved"`

	// Percent is Saved as a percentage of SizeBefore.
	Percent float64 `json:"percent" yaml:"percent"`

	Tool     string `json:"tool,omitempty" yaml:"tool,omitempty"`
	Reason   string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Restored bool   `json:"restored,omitempty" yaml:"restored,omitempty"`
}

// Totals holds the aggregate byte and file counts of a run.
type Totals struct {
	BytesIn        int64   `json:"bytes_in" yaml:"bytes_in"`
	BytesOut       int64   `json:"bytes_out" yaml:"bytes_out"`
	BytesSaved     int64   `json:"bytes_saved" yaml:"bytes_saved"`
	PercentSaved   float64 `json:"percent_saved" yaml:"percent_saved"`
	FilesOptimized int     `json:"files_optimized" yaml:"files_optimized"`
	FilesTotal     int     `json:"files_total" yaml:"files_total"`
	FilesSkipped   int     `json:"files_skipped" yaml:"files_skipped"`
	FilesFailed    int     `json:"files_failed" yaml:"files_failed"`
}

// Result contains the complete data for formatting one run.
type Result struct {
	ID        string        `json:"id" yaml:"id"`
	Operation string        `json:"operation" yaml:"operation"`
	Target    string        `json:"target" yaml:"target"`
	Mode      string        `json:"mode" yaml:"mode"`
	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Elapsed   time.Duration `json:"elapsed" yaml:"elapsed"`

	Files  []FileResult `json:"files" yaml:"files"`
	Totals Totals       `json:"totals" yaml:"totals"`

	// Error is set when the run stopped early.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Interrupted reports whether the run stopped before processing every file.
func (r *Result) Interrupted() bool {
	return r.Error != ""
}

// Select returns the files whose outcome matches one of outcomes.
func (r *Result) Select(outcomes ...types.Outcome) []FileResult {
	want := make(map[string]bool, len(outcomes))
	for _, o := range outcomes {
		text, _ := o.MarshalText()
		want[string(text)] = true
	}

	var out []FileResult
	for _, f := range r.Files {
		if want[f.Outcome] {
			out = append(out, f)
		}
	}
	return out
}

// FromEntry converts a recorded run to a Result.
func FromEntry(e *manifest.Entry) *Result {
	r := &Result{
		ID:        e.ID,
		Operation: string(e.Operation),
		Target:    e.Target,
		Mode:      e.Mode,
		StartedAt: e.Timestamp,
		Elapsed:   e.Summary.Elapsed,
		Files:     make([]FileResult, 0, len(e.Files)),
		Totals: Totals{
			BytesIn:        e.Summary.BytesIn,
			BytesOut:       e.Summary.BytesOut,
			BytesSaved:     e.Summary.BytesSaved,
			PercentSaved:   e.Summary.PercentSaved,
			FilesOptimized: e.Summary.FilesOptimized,
			FilesTotal:     e.Summary.FilesTotal,
			FilesSkipped:   e.Summary.FilesSkipped,
			FilesFailed:    e.Summary.FilesFailed,
		},
		Error: e.Error,
	}

	for _, f := range e.Files {
		outcome, _ := f.Outcome.MarshalText()
		fr := FileResult{
			Path:       f.Path,
			Outcome:    string(outcome),
			SizeBefore: f.SizeBefore,
			SizeAfter:  f.SizeAfter,
			Tool:       f.Tool,
			Reason:     f.Reason,
			Restored:   f.Restored,
		}
		if f.Outcome == types.OutcomeOptimized && f.SizeAfter < f.SizeBefore {
			fr.Saved = f.SizeBefore - f.SizeAfter
			fr.Percent = types.Percent(fr.Saved, f.SizeBefore)
		}
		r.Files = append(r.Files, fr)
	}
	return r
}

// Formatter is the interface that all output formatters must implement.
type Formatter interface {
	// Format writes the formatted output to the buffer.
	Format(w *bytes.Buffer, r *Result) error
}

// FormatterFactory is a function that creates a new Formatter instance.
type FormatterFactory func() Formatter

// Registry manages formatter registration and lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates a new formatter registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]FormatterFactory),
	}
}

// Register adds a formatter factory to the registry.
// It will replace any existing formatter with the same name.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter instance by name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown formatter: %s", name)
	}
	return factory(), nil
}

// Available returns a sorted list of all registered formatter names.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the global formatter registry.
var DefaultRegistry = NewRegistry()

// Register adds a formatter factory to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a new formatter instance from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available returns all formatter names from the default registry.
func Available() []string {
	return DefaultRegistry.Available()
}
