package tui

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/hooks"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/logging"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/runner"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/types"
)

const (
	// maxRecent is the number of finished files listed.
	maxRecent = 8

	// maxLogLines is the height of the log pane.
	maxLogLines = 5
)

// Options configures the progress view.
type Options struct {
	Target string
	Hooks  *hooks.Registry

	// Run performs the run. It is called once, in its own goroutine.
	Run func(ctx context.Context) (*runner.Summary, error)
}

// runResult is filled in by the run goroutine before done is closed.
type runResult struct {
	done    chan struct{}
	summary *runner.Summary
	err     error
}

// Model is the Bubble Tea model for the progress view.
type Model struct {
	options Options
	cancel  context.CancelFunc
	events  <-chan hooks.Event
	result  *runResult

	spinner spinner.Model
	bar     progress.Model

	totals    hooks.Event
	current   string
	recent    []*types.ImageTask
	started   time.Time
	cancelled bool
	done      bool
	err       error

	// Window dimensions
	width  int
	height int
}

// eventMsg carries one hook event into the update loop.
type eventMsg hooks.Event

// doneMsg is sent once the run has returned.
type doneMsg struct {
	summary *runner.Summary
	err     error
}

// tickUIMsg triggers a UI refresh so the log pane stays current.
type tickUIMsg struct{}

// NewModel creates a progress model. cancel stops the run; events is the
// hook subscription feeding the view.
func NewModel(opts Options, cancel context.CancelFunc, events <-chan hooks.Event) Model {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = lipgloss.NewStyle().Foreground(primaryColor)

	return Model{
		options: opts,
		cancel:  cancel,
		events:  events,
		spinner: s,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		started: time.Now(),
		width:   80,
		height:  24,
	}
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.listenForEvents(),
		m.waitForRun(),
		m.tickUI(),
	)
}

func (m Model) tickUI() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(time.Time) tea.Msg {
		return tickUIMsg{}
	})
}

// listenForEvents returns a command that waits for the next hook event.
func (m Model) listenForEvents() tea.Cmd {
	events := m.events
	return func() tea.Msg {
		if events == nil {
			return nil
		}
		e, ok := <-events
		if !ok {
			return nil
		}
		return eventMsg(e)
	}
}

// waitForRun returns a command that blocks until the run goroutine returns.
func (m Model) waitForRun() tea.Cmd {
	res := m.result
	return func() tea.Msg {
		if res == nil {
			return nil
		}
		<-res.done
		return doneMsg{summary: res.summary, err: res.err}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = barWidth(msg.Width)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case eventMsg:
		m.apply(hooks.Event(msg))
		return m, m.listenForEvents()

	case doneMsg:
		m.done = true
		m.err = msg.err
		if msg.summary != nil {
			m.totals.Current = msg.summary.Current
			m.totals.Total = msg.summary.FilesTotal
		}
		return m, tea.Quit

	case tickUIMsg:
		if m.done {
			return m, nil
		}
		return m, m.tickUI()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// handleKey handles keyboard input. Cancelling does not quit: the view
// stays up until the run has restored the file in flight and released its
// lock.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q", "esc":
		if m.done {
			return m, tea.Quit
		}
		if !m.cancelled && m.cancel != nil {
			m.cancel()
		}
		m.cancelled = true
	}
	return m, nil
}

// apply folds a hook event into the view state.
func (m *Model) apply(e hooks.Event) {
	switch e.Point {
	case hooks.BeforeFile:
		if e.Task != nil {
			m.current = e.Task.Path
		}
	case hooks.AfterFile:
		if e.Task != nil {
			m.recent = append(m.recent, e.Task)
			if len(m.recent) > maxRecent {
				m.recent = m.recent[len(m.recent)-maxRecent:]
			}
		}
	}
	m.totals = e
}

// fraction returns the share of files finished.
func (m Model) fraction() float64 {
	if m.totals.Total == 0 {
		return 0
	}
	return float64(m.totals.Current) / float64(m.totals.Total)
}

// View renders the progress view.
func (m Model) View() string {
	contentWidth := m.width - 4
	if contentWidth < 40 {
		contentWidth = 40
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("  imgsweep"))
	b.WriteString(" ")
	b.WriteString(mutedTextStyle.Render(truncatePath(m.options.Target, contentWidth-12)))
	b.WriteString("\n")
	b.WriteString(renderDivider(contentWidth))
	b.WriteString("\n\n")

	b.WriteString(m.renderStatus(contentWidth))
	b.WriteString("\n\n")

	b.WriteString("  ")
	b.WriteString(m.bar.ViewAs(m.fraction()))
	b.WriteString(fmt.Sprintf(" %s/%s",
		humanize.Comma(int64(m.totals.Current)), humanize.Comma(int64(m.totals.Total))))
	b.WriteString("\n\n")

	b.WriteString(m.renderStats())
	b.WriteString("\n\n")
	b.WriteString(renderDivider(contentWidth))
	b.WriteString("\n")
	b.WriteString(m.renderRecent(contentWidth))
	b.WriteString("\n")
	b.WriteString(renderDivider(contentWidth))
	b.WriteString("\n")

	var entries []logging.Entry
	if ring := logging.Recent(); ring != nil {
		entries = ring.Last(maxLogLines)
	}
	b.WriteString(renderLogPane(entries, contentWidth))
	b.WriteString("\n\n")

	help := keyStyle.Render("[q]") + " " + keyDescStyle.Render("Cancel run")
	b.WriteString(center(help, contentWidth))

	return outerBoxStyle.Width(m.width - 2).Render(b.String())
}

func (m Model) renderStatus(width int) string {
	switch {
	case m.done && m.err != nil:
		return errorTextStyle.Render(fmt.Sprintf("  Stopped: %v", m.err))
	case m.done:
		return successTextStyle.Render("  Done")
	case m.cancelled:
		return warningTextStyle.Render(fmt.Sprintf("  %s Cancelling, restoring the current file...", m.spinner.View()))
	case m.current == "":
		return fmt.Sprintf("  %s Discovering images...", m.spinner.View())
	default:
		return fmt.Sprintf("  %s Optimizing: %s", m.spinner.View(), truncatePath(m.rel(m.current), width-20))
	}
}

func (m Model) renderStats() string {
	t := m.totals
	stat := func(label, value string) string {
		return statsLabelStyle.Render(label+" ") + statsValueStyle.Render(value)
	}

	saved := types.FormatSize(t.BytesSaved)
	if t.BytesIn > 0 {
		saved += fmt.Sprintf(" (%.1f%%)", types.Percent(t.BytesSaved, t.BytesIn))
	}

	return "  " + strings.Join([]string{
		stat("In:", types.FormatSize(t.BytesIn)),
		stat("Saved:", saved),
		stat("Optimized:", fmt.Sprintf("%d/%d", t.Optimized, t.Current)),
		stat("Elapsed:", types.FormatDuration(time.Since(m.started))),
	}, "   ")
}

func (m Model) renderRecent(width int) string {
	if len(m.recent) == 0 {
		return mutedTextStyle.Render("  No files finished yet")
	}

	lines := make([]string, 0, len(m.recent))
	for _, t := range m.recent {
		lines = append(lines, m.renderTask(t, width))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderTask(t *types.ImageTask, width int) string {
	var label string
	switch t.Outcome {
	case types.OutcomeOptimized:
		label = successTextStyle.Render(fmt.Sprintf("%-13s", t.Outcome))
	case types.OutcomeNotOptimized:
		label = warningTextStyle.Render(fmt.Sprintf("%-13s", t.Outcome))
	case types.OutcomeFailed:
		label = errorTextStyle.Render(fmt.Sprintf("%-13s", t.Outcome))
	default:
		label = mutedTextStyle.Render(fmt.Sprintf("%-13s", t.Outcome))
	}

	detail := sizeStyle.Render(types.FormatSize(t.SizeBefore))
	switch t.Outcome {
	case types.OutcomeOptimized, types.OutcomeNotOptimized:
		detail += " -> " + sizeStyle.Render(types.FormatSize(t.SizeAfter))
	case types.OutcomeSkipped:
		detail = mutedTextStyle.Render(t.Reason)
	}

	path := truncatePath(m.rel(t.Path), width-lipgloss.Width(detail)-18)
	return fmt.Sprintf("  %s %s %s", label, path, detail)
}

// rel shortens path relative to the target when possible.
func (m Model) rel(path string) string {
	if m.options.Target == "" {
		return path
	}
	root, err := filepath.Abs(m.options.Target)
	if err != nil {
		return path
	}
	if r, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(r, "..") {
		return r
	}
	return path
}

func barWidth(width int) int {
	w := width - 20
	if w < 10 {
		return 10
	}
	if w > 60 {
		return 60
	}
	return w
}

// Run shows the progress view while opts.Run executes, and returns what it
// returned. Quitting the view cancels the run and waits for its cleanup.
func Run(ctx context.Context, opts Options) (*runner.Summary, error) {
	if opts.Run == nil {
		return nil, errors.New("tui: no run function")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var events <-chan hooks.Event
	if opts.Hooks != nil {
		sub := opts.Hooks.Subscribe(256, hooks.BeforeRun, hooks.BeforeFile, hooks.AfterFile, hooks.AfterRun)
		defer opts.Hooks.Off(sub.ID)
		events = sub.Events
	}

	res := &runResult{done: make(chan struct{})}
	go func() {
		defer close(res.done)
		res.summary, res.err = opts.Run(runCtx)
	}()

	model := NewModel(opts, cancel, events)
	model.result = res

	p := tea.NewProgram(model, tea.WithAltScreen())
	_, uiErr := p.Run()

	// The view can exit before the run does (terminal error, killed
	// program). Never return while files are still being rewritten.
	cancel()
	<-res.done

	if uiErr != nil && res.err == nil {
		logging.Get("tui").Warn("progress view failed", "error", uiErr)
	}
	return res.summary, res.err
}
