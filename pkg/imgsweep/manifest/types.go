// Package manifest keeps a history of optimization runs as JSON files.
package manifest

import (
	"time"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/types"
)

// OperationType represents how a run was started.
type OperationType string

const (
	// OpRun is a one-shot run over a directory.
	OpRun OperationType = "run"
	// OpWatch is a batch processed by watch mode.
	OpWatch OperationType = "watch"
)

// Entry represents a single recorded run.
type Entry struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Operation OperationType `json:"operation"`
	Target    string        `json:"target"`
	Mode      string        `json:"mode"`
	Files     []FileRecord  `json:"files"`
	Summary   Summary       `json:"summary"`

	// Error is set when the run was interrupted.
	Error string `json:"error,omitempty"`
}

// FileRecord is the result for one file.
type FileRecord struct {
	Path       string        `json:"path"`
	Outcome    types.Outcome `json:"outcome"`
	SizeBefore int64         `json:"size_before"`
	SizeAfter  int64         `json:"size_after"`
	Tool       string        `json:"tool,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Restored   bool          `json:"restored,omitempty"`
}

// Summary contains the run totals.
type Summary struct {
	BytesIn        int64         `json:"bytes_in"`
	BytesOut       int64         `json:"bytes_out"`
	BytesSaved     int64         `json:"bytes_saved"`
	PercentSaved   float64       `json:"percent_saved"`
	FilesOptimized int           `json:"files_optimized"`
	FilesTotal     int           `json:"files_total"`
	FilesSkipped   int           `json:"files_skipped"`
	FilesFailed    int           `json:"files_failed"`
	Elapsed        time.Duration `json:"elapsed"`
}
