package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/logging"
)

// logLevelStyle returns the style for a log level.
func logLevelStyle(level logging.Level) lipgloss.Style {
	switch level {
	case logging.LevelDebug:
		return logDebugStyle
	case logging.LevelWarn:
		return logWarnStyle
	case logging.LevelError:
		return logErrorStyle
	default:
		return logInfoStyle
	}
}

// logLevelChar returns a single character for the log level.
func logLevelChar(level logging.Level) string {
	switch level {
	case logging.LevelDebug:
		return "D"
	case logging.LevelInfo:
		return "I"
	case logging.LevelWarn:
		return "W"
	case logging.LevelError:
		return "E"
	default:
		return "?"
	}
}

// renderLogPane renders the newest entries, oldest first, one per line.
func renderLogPane(entries []logging.Entry, width int) string {
	if len(entries) == 0 {
		return mutedTextStyle.Render("  No log entries")
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, renderLogEntry(e, width))
	}
	return strings.Join(lines, "\n")
}

func renderLogEntry(e logging.Entry, width int) string {
	style := logLevelStyle(e.Level)
	prefix := fmt.Sprintf("  %s %s %s ",
		mutedTextStyle.Render(e.Time.Format("15:04:05")),
		style.Render(logLevelChar(e.Level)),
		mutedTextStyle.Render(fmt.Sprintf("%-8s", e.Component)))

	avail := width - lipgloss.Width(prefix)
	if avail < 10 {
		avail = 10
	}
	msg := e.Message
	if len(msg) > avail {
		msg = msg[:avail-3] + "..."
	}
	return prefix + msg
}
