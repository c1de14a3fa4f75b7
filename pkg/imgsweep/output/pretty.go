package output

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/types"
)

var (
	colorAccent = lipgloss.Color("39")
	colorMuted  = lipgloss.Color("245")

	headerBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent).
			Padding(0, 1)

	totalsBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted).
			Padding(0, 1).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().Foreground(colorMuted)
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	savedStyle = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	abortStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
)

// outcomeStyles colours a file count by the outcome it counts.
var outcomeStyles = map[types.Outcome]lipgloss.Style{
	types.OutcomeOptimized:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	types.OutcomeNotOptimized: lipgloss.NewStyle().Foreground(colorMuted),
	types.OutcomeSkipped:      lipgloss.NewStyle().Foreground(colorMuted),
	types.OutcomeFailed:       lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
}

// countStyle renders n in the colour of outcome. Zero counts are muted.
func countStyle(outcome types.Outcome, n int) string {
	if n == 0 {
		return labelStyle.Render("0")
	}
	return outcomeStyles[outcome].Render(fmt.Sprint(n))
}

// PrettyFormatter renders a styled summary for terminal display. Per-file
// lines are printed while the run progresses, so only failures are listed
// here.
type PrettyFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, r *Result) error {
	w.WriteString(f.formatHeader(r))
	w.WriteString("\n")

	if failed := r.Select(types.OutcomeFailed); len(failed) > 0 {
		w.WriteString(f.formatFailures(failed))
	}

	w.WriteString(f.formatTotals(r.Totals))
	w.WriteString("\n")
	return nil
}

func (f *PrettyFormatter) formatHeader(r *Result) string {
	lines := []string{labelStyle.Render("Target: ") + valueStyle.Render(r.Target)}

	info := []string{
		labelStyle.Render("Mode: ") + valueStyle.Render(r.Mode),
		labelStyle.Render("Elapsed: ") + valueStyle.Render(types.FormatDuration(r.Elapsed)),
	}
	if r.ID != "" {
		info = append(info, labelStyle.Render("run "+shortID(r.ID)))
	}
	lines = append(lines, strings.Join(info, "  "))

	if r.Interrupted() {
		lines = append(lines, abortStyle.Render("Run interrupted: "+r.Error))
	}

	return headerBox.Render(strings.Join(lines, "\n"))
}

func (f *PrettyFormatter) formatFailures(failed []FileResult) string {
	var sb strings.Builder
	sb.WriteString("\n")
	sb.WriteString(outcomeStyles[types.OutcomeFailed].Bold(true).Render(fmt.Sprintf("%d failed", len(failed))))
	sb.WriteString("\n")
	for _, file := range failed {
		sb.WriteString("  " + file.Path)
		if file.Reason != "" {
			sb.WriteString(labelStyle.Render("  " + file.Reason))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (f *PrettyFormatter) formatTotals(t Totals) string {
	saved := savedStyle.Render(types.FormatSize(t.BytesSaved))
	if t.BytesSaved > 0 {
		saved += outcomeStyles[types.OutcomeOptimized].Render(fmt.Sprintf(" (%.1f%%)", t.PercentSaved))
	}

	bytesLine := fmt.Sprintf("%s %s  %s %s  %s %s",
		labelStyle.Render("In:"), valueStyle.Render(types.FormatSize(t.BytesIn)),
		labelStyle.Render("Out:"), valueStyle.Render(types.FormatSize(t.BytesOut)),
		labelStyle.Render("Saved:"), saved)

	filesLine := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s",
		labelStyle.Render("Files:"), valueStyle.Render(fmt.Sprint(t.FilesTotal)),
		labelStyle.Render("optimized"), countStyle(types.OutcomeOptimized, t.FilesOptimized),
		labelStyle.Render("skipped"), countStyle(types.OutcomeSkipped, t.FilesSkipped),
		labelStyle.Render("failed"), countStyle(types.OutcomeFailed, t.FilesFailed))

	return totalsBox.Render(bytesLine + "\n" + filesLine)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	Register("pretty", func() Formatter {
		return &PrettyFormatter{}
	})
}

// Ensure PrettyFormatter implements Formatter.
var _ Formatter = (*PrettyFormatter)(nil)
