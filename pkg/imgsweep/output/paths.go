package output

import (
	"bytes"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/types"
)

// PathsFormatter prints the path of every optimized file, one per line,
// for piping to other tools.
type PathsFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PathsFormatter) Format(w *bytes.Buffer, r *Result) error {
	for _, file := range r.Select(types.OutcomeOptimized) {
		w.WriteString(file.Path)
		w.WriteByte('\n')
	}
	return nil
}

func init() {
	Register("paths", func() Formatter {
		return &PathsFormatter{}
	})
}

// Ensure PathsFormatter implements Formatter.
var _ Formatter = (*PathsFormatter)(nil)
