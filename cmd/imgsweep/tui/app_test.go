package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/hooks"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/runner"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/types"
)

func newTestModel(cancel context.CancelFunc) Model {
	if cancel == nil {
		cancel = func() {}
	}
	return NewModel(Options{Target: "/photos"}, cancel, nil)
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok, "Update returned %T", next)
	return out, cmd
}

func TestNewModel(t *testing.T) {
	m := newTestModel(nil)

	assert.Equal(t, "/photos", m.options.Target)
	assert.False(t, m.done)
	assert.False(t, m.cancelled)
	assert.Zero(t, m.fraction())
}

func TestModel_AppliesEvents(t *testing.T) {
	m := newTestModel(nil)

	task := &types.ImageTask{Path: "/photos/a.jpg", Outcome: types.OutcomeOptimized, SizeBefore: 1000, SizeAfter: 600}

	m, _ = update(t, m, eventMsg{Point: hooks.BeforeRun, Total: 4})
	m, _ = update(t, m, eventMsg{Point: hooks.BeforeFile, Task: task, Total: 4})
	assert.Equal(t, "/photos/a.jpg", m.current)

	m, cmd := update(t, m, eventMsg{Point: hooks.AfterFile, Task: task, Current: 1, Total: 4, BytesIn: 1000, BytesSaved: 400, Optimized: 1})
	assert.NotNil(t, cmd, "expected the model to keep listening for events")
	require.Len(t, m.recent, 1)
	assert.Equal(t, 0.25, m.fraction())

	view := m.View()
	assert.Contains(t, view, "a.jpg")
	assert.Contains(t, view, "1/4")
	assert.Contains(t, view, "40.0%")
}

func TestModel_RecentIsBounded(t *testing.T) {
	m := newTestModel(nil)

	for i := 0; i < maxRecent+5; i++ {
		task := &types.ImageTask{Path: "/photos/" + strings.Repeat("x", i+1) + ".png", Outcome: types.OutcomeNotOptimized}
		m, _ = update(t, m, eventMsg{Point: hooks.AfterFile, Task: task, Current: i + 1, Total: 20})
	}

	require.Len(t, m.recent, maxRecent)
	assert.Equal(t, "/photos/"+strings.Repeat("x", maxRecent+5)+".png", m.recent[maxRecent-1].Path)
}

func TestModel_CancelKeepsViewUntilRunReturns(t *testing.T) {
	cancelled := 0
	m := newTestModel(func() { cancelled++ })

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.Nil(t, cmd, "cancelling must not quit before the run has cleaned up")
	assert.True(t, m.cancelled)
	assert.Equal(t, 1, cancelled)
	assert.Contains(t, m.View(), "Cancelling")

	// A second key press does not cancel twice.
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.Equal(t, 1, cancelled)

	m, cmd = update(t, m, doneMsg{err: runner.ErrInterrupted})
	assert.True(t, m.done)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestModel_DoneQuits(t *testing.T) {
	m := newTestModel(nil)

	summary := &runner.Summary{RunState: runner.RunState{Current: 3, FilesTotal: 3}}
	m, cmd := update(t, m, doneMsg{summary: summary})

	assert.True(t, m.done)
	assert.NoError(t, m.err)
	assert.Equal(t, 1.0, m.fraction())
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestModel_WindowResize(t *testing.T) {
	m := newTestModel(nil)

	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	assert.Equal(t, 120, m.width)
	assert.Equal(t, 60, m.bar.Width)

	m, _ = update(t, m, tea.WindowSizeMsg{Width: 20, Height: 10})
	assert.Equal(t, 10, m.bar.Width)
}

func TestModel_RenderTaskRelativePath(t *testing.T) {
	m := newTestModel(nil)

	line := m.renderTask(&types.ImageTask{
		Path:    "/photos/2024/trip/beach.png",
		Outcome: types.OutcomeSkipped,
		Reason:  "cached",
	}, 80)

	assert.Contains(t, line, "2024/trip/beach.png")
	assert.NotContains(t, line, "/photos/")
	assert.Contains(t, line, "cached")
}

func TestWaitForRun(t *testing.T) {
	res := &runResult{done: make(chan struct{})}
	m := newTestModel(nil)
	m.result = res

	want := errors.New("boom")
	go func() {
		time.Sleep(10 * time.Millisecond)
		res.err = want
		close(res.done)
	}()

	msg := m.waitForRun()()
	done, ok := msg.(doneMsg)
	require.True(t, ok)
	assert.Equal(t, want, done.err)
}

func TestListenForEvents_ClosedChannel(t *testing.T) {
	ch := make(chan hooks.Event)
	close(ch)

	m := NewModel(Options{}, func() {}, ch)
	assert.Nil(t, m.listenForEvents()())
}

func TestRun_RequiresRunFunc(t *testing.T) {
	_, err := Run(context.Background(), Options{})
	assert.Error(t, err)
}
