package hooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/types"
)

func TestRegistry_OrderAndPoints(t *testing.T) {
	r := New()

	var got []string
	r.On(BeforeFile, func(e Event) { got = append(got, "first:"+e.Task.Path) })
	r.On(BeforeFile, func(e Event) { got = append(got, "second:"+e.Task.Path) })
	r.On(AfterRun, func(e Event) { got = append(got, "done") })

	r.Emit(Event{Point: BeforeFile, Task: &types.ImageTask{Path: "a.png"}})
	r.Emit(Event{Point: AfterFile, Task: &types.ImageTask{Path: "a.png"}})
	r.Emit(Event{Point: AfterRun})

	assert.Equal(t, []string{"first:a.png", "second:a.png", "done"}, got)
	assert.Equal(t, 2, r.Len(BeforeFile))
	assert.Equal(t, 0, r.Len(AfterFile))
}

func TestRegistry_Off(t *testing.T) {
	r := New()

	calls := 0
	id := r.On(AfterFile, func(Event) { calls++ })
	r.Emit(Event{Point: AfterFile})

	assert.True(t, r.Off(id))
	assert.False(t, r.Off(id))
	r.Emit(Event{Point: AfterFile})

	assert.Equal(t, 1, calls)
}

func TestRegistry_PanicIsContained(t *testing.T) {
	r := New()

	reached := false
	r.On(BeforeRun, func(Event) { panic("boom") })
	r.On(BeforeRun, func(Event) { reached = true })

	assert.NotPanics(t, func() { r.Emit(Event{Point: BeforeRun}) })
	assert.True(t, reached)
}

func TestRegistry_Subscribe(t *testing.T) {
	r := New()

	sub := r.Subscribe(2, AfterFile)
	r.Emit(Event{Point: BeforeFile})
	r.Emit(Event{Point: AfterFile, Current: 1})
	r.Emit(Event{Point: AfterFile, Current: 2})
	r.Emit(Event{Point: AfterFile, Current: 3}) // dropped, buffer full

	require.Len(t, sub.Events, 2)
	assert.Equal(t, 1, (<-sub.Events).Current)
	assert.Equal(t, 2, (<-sub.Events).Current)

	r.Off(sub.ID)
	_, open := <-sub.Events
	assert.False(t, open)
}

func TestRegistry_NilEmit(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() { r.Emit(Event{Point: AfterRun}) })
}

func TestRegistry_Close(t *testing.T) {
	r := New()
	sub := r.Subscribe(0)
	r.On(AfterRun, func(Event) {})

	r.Close()

	_, open := <-sub.Events
	assert.False(t, open)
	assert.Equal(t, 0, r.Len(AfterRun))
	assert.NotEqual(t, NewRunID(), NewRunID())
}
