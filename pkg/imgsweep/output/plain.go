package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/types"
)

// PlainFormatter formats the run as aligned key/value lines followed by a
// table of files. No colors or styling are applied.
type PlainFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, r *Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	t := r.Totals

	fmt.Fprintf(tw, "target:\t%s\n", r.Target)
	fmt.Fprintf(tw, "mode:\t%s\n", r.Mode)
	fmt.Fprintf(tw, "elapsed:\t%s\n", types.FormatDuration(r.Elapsed))
	fmt.Fprintf(tw, "bytes in:\t%d\n", t.BytesIn)
	fmt.Fprintf(tw, "bytes out:\t%d\n", t.BytesOut)
	fmt.Fprintf(tw, "bytes saved:\t%d (%.1f%%)\n", t.BytesSaved, t.PercentSaved)
	fmt.Fprintf(tw, "optimized:\t%d/%d\n", t.FilesOptimized, t.FilesTotal)
	fmt.Fprintf(tw, "skipped:\t%d\n", t.FilesSkipped)
	fmt.Fprintf(tw, "failed:\t%d\n", t.FilesFailed)
	if r.Interrupted() {
		fmt.Fprintf(tw, "error:\t%s\n", r.Error)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(r.Files) == 0 {
		return nil
	}

	w.WriteString("\n")
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if _, err := tw.Write([]byte("OUTCOME\tBEFORE\tAFTER\tPATH\n")); err != nil {
		return err
	}
	for _, file := range r.Files {
		if _, err := fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", file.Outcome, file.SizeBefore, file.SizeAfter, file.Path); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func init() {
	Register("plain", func() Formatter {
		return &PlainFormatter{}
	})
}

// Ensure PlainFormatter implements Formatter.
var _ Formatter = (*PlainFormatter)(nil)
