package runner

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/types"
)

var (
	optimizedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	notOptimizedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	failedStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	skippedStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	detailStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// clearLine returns the cursor to column 0 and erases the line.
const clearLine = "\r\x1b[K"

// reporter renders per-file result lines and the progress indicator.
type reporter struct {
	w       io.Writer
	root    string
	quiet   bool
	less    bool
	verbose bool

	// bar is drawn in place after every file. It is only enabled on a
	// terminal.
	bar     progress.Model
	showBar bool
	drawn   bool
}

func newReporter(w io.Writer, root string, flags Flags, showBar bool) *reporter {
	return &reporter{
		w:       w,
		root:    root,
		quiet:   flags.Quiet,
		less:    flags.LessOutput,
		verbose: flags.Verbose,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
		showBar: showBar && !flags.Quiet,
	}
}

func (r *reporter) file(t *types.ImageTask, s RunState) {
	if r.quiet {
		return
	}

	if !r.less {
		if r.drawn {
			fmt.Fprint(r.w, clearLine)
			r.drawn = false
		}
		fmt.Fprintln(r.w, r.line(t))
	}

	if r.showBar {
		fmt.Fprintf(r.w, "%s%s %d/%d", clearLine, r.bar.ViewAs(s.Fraction()), s.Current, s.FilesTotal)
		r.drawn = true
	}
}

func (r *reporter) line(t *types.ImageTask) string {
	rel := t.Path
	if p, err := filepath.Rel(r.root, t.Path); err == nil {
		rel = p
	}

	var label string
	switch t.Outcome {
	case types.OutcomeOptimized:
		label = optimizedStyle.Render(fmt.Sprintf("%-13s", t.Outcome))
	case types.OutcomeNotOptimized:
		label = notOptimizedStyle.Render(fmt.Sprintf("%-13s", t.Outcome))
	case types.OutcomeFailed:
		label = failedStyle.Render(fmt.Sprintf("%-13s", t.Outcome))
	default:
		label = skippedStyle.Render(fmt.Sprintf("%-13s", t.Outcome))
	}

	switch t.Outcome {
	case types.OutcomeSkipped:
		return fmt.Sprintf("%s %s (%s)", label, rel, t.Reason)
	case types.OutcomeFailed:
		out := fmt.Sprintf("%s %s %s", label, rel, types.FormatSize(t.SizeBefore))
		if r.verbose && t.Reason != "" {
			out += " " + detailStyle.Render(t.Reason)
		}
		return out
	}

	out := fmt.Sprintf("%s %s %s -> %s", label, rel, types.FormatSize(t.SizeBefore), types.FormatSize(t.SizeAfter))
	if t.Outcome == types.OutcomeOptimized {
		out += fmt.Sprintf(" (-%.1f%%)", types.Percent(t.Saved(), t.SizeBefore))
	}
	if r.verbose {
		if t.Tool != "" {
			out += " " + detailStyle.Render("["+t.Tool+"]")
		}
		if t.Restored {
			out += " " + detailStyle.Render("original restored")
		}
	}
	return out
}

// done terminates the progress line.
func (r *reporter) done() {
	if r.drawn {
		fmt.Fprintln(r.w)
		r.drawn = false
	}
}
