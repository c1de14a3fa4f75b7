// Package types provides core data types for imgsweep.
// It includes image formats, per-file outcomes and tasks, along with utility
// functions for parsing and formatting sizes and durations.
package types

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Size constants for binary (IEC) units.
const (
	KiB int64 = 1024
	MiB int64 = 1024 * KiB
	GiB int64 = 1024 * MiB
	TiB int64 = 1024 * GiB
)

// Format is an image format recognised by imgsweep.
type Format int

// Supported formats. FormatUnknown files are never enqueued.
const (
	FormatUnknown Format = iota
	FormatJPEG
	FormatPNG
	FormatGIF
)

// String returns the lowercase name of the format.
func (f Format) String() string {
	switch f {
	case FormatJPEG:
		return "jpeg"
	case FormatPNG:
		return "png"
	case FormatGIF:
		return "gif"
	default:
		return "unknown"
	}
}

// FormatFromPath derives the image format from a file extension.
// Matching is case-insensitive: jpg, jpeg and jpe map to JPEG.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".jpe":
		return FormatJPEG
	case ".png":
		return FormatPNG
	case ".gif":
		return FormatGIF
	default:
		return FormatUnknown
	}
}

// Outcome is the terminal state of one image task.
type Outcome int

// Task outcomes.
const (
	OutcomePending Outcome = iota
	OutcomeOptimized
	OutcomeNotOptimized
	OutcomeFailed
	OutcomeSkipped
)

// String returns the label used in per-file result lines.
func (o Outcome) String() string {
	switch o {
	case OutcomeOptimized:
		return "OPTIMIZED"
	case OutcomeNotOptimized:
		return "NOT OPTIMIZED"
	case OutcomeFailed:
		return "FAILED"
	case OutcomeSkipped:
		return "SKIPPED"
	default:
		return "PENDING"
	}
}

// MarshalText implements encoding.TextMarshaler so outcomes read well in JSON.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(strings.ReplaceAll(o.String(), " ", "_"))), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Outcome) UnmarshalText(b []byte) error {
	for _, c := range []Outcome{OutcomePending, OutcomeOptimized, OutcomeNotOptimized, OutcomeFailed, OutcomeSkipped} {
		text, _ := c.MarshalText()
		if string(text) == string(b) {
			*o = c
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", b)
}

// Skip reasons reported with OutcomeSkipped.
const (
	SkipMissing  = "file does not exist"
	SkipTooLarge = "too large"
	SkipCached   = "already optimized"
)

// ImageTask tracks one discovered file through the optimization pipeline.
type ImageTask struct {
	// Path is the absolute path to the image.
	Path string `json:"path"`

	// Format is derived from the file extension.
	Format Format `json:"-"`

	// SizeBefore is the size sampled immediately before optimization.
	SizeBefore int64 `json:"size_before"`

	// SizeAfter is the size sampled immediately after optimization.
	SizeAfter int64 `json:"size_after"`

	// Outcome is the terminal state of the task.
	Outcome Outcome `json:"outcome"`

	// Reason explains a skipped or failed outcome.
	Reason string `json:"reason,omitempty"`

	// Tool is the compressor that processed the file, if any.
	Tool string `json:"tool,omitempty"`

	// Restored is true when the original was restored after a regression.
	Restored bool `json:"restored,omitempty"`
}

// NewImageTask creates a pending task for path.
func NewImageTask(path string) *ImageTask {
	return &ImageTask{
		Path:   path,
		Format: FormatFromPath(path),
	}
}

// Saved returns the bytes saved by this task, never negative.
func (t *ImageTask) Saved() int64 {
	if t.SizeAfter >= t.SizeBefore {
		return 0
	}
	return t.SizeBefore - t.SizeAfter
}

// sizePattern matches size strings like "100M", "2G", "500K", "1.5GB", etc.
var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([KMGT]?(?:i?B)?)\s*$`)

// ErrInvalidSize indicates that the size string could not be parsed.
var ErrInvalidSize = errors.New("invalid size format")

// ErrNegativeSize indicates that a negative size value was provided.
var ErrNegativeSize = errors.New("size cannot be negative")

// ParseSize parses a human-readable size string and returns the size in bytes.
// It supports plain bytes ("1024") and K, M, G, T suffixes with an optional
// B or iB ("500K", "5MB", "1GiB"). Units are binary.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidSize)
	}

	if strings.HasPrefix(s, "-") {
		return 0, ErrNegativeSize
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	suffix := strings.ToUpper(matches[2])
	suffix = strings.TrimSuffix(suffix, "IB")
	suffix = strings.TrimSuffix(suffix, "B")

	var multiplier int64
	switch suffix {
	case "":
		multiplier = 1
	case "K":
		multiplier = KiB
	case "M":
		multiplier = MiB
	case "G":
		multiplier = GiB
	case "T":
		multiplier = TiB
	default:
		return 0, fmt.Errorf("%w: unknown suffix %q", ErrInvalidSize, suffix)
	}

	return int64(value * float64(multiplier)), nil
}

// FormatSize converts a size in bytes to a human-readable string using
// binary (IEC) units, e.g. FormatSize(1536) returns "1.5 KiB".
func FormatSize(bytes int64) string {
	if bytes < 0 {
		return "-" + humanize.IBytes(uint64(-bytes))
	}
	return humanize.IBytes(uint64(bytes))
}

// FormatDuration renders an elapsed wall time compactly: "850ms", "12s",
// "3m04s", "1h02m".
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		m := int(d.Minutes())
		s := int(d.Seconds()) - m*60
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		h := int(d.Hours())
		m := int(d.Minutes()) - h*60
		return fmt.Sprintf("%dh%02dm", h, m)
	}
}

// Percent returns part as a percentage of whole. A zero whole yields 0.
func Percent(part, whole int64) float64 {
	if whole <= 0 {
		return 0
	}
	return float64(part) * 100 / float64(whole)
}

// SkipError is returned by an optimizer that declines a file. The runner
// records it as OutcomeSkipped with Reason rather than as a failure.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return "skipped: " + e.Reason
}
