// Package hooks is a typed event-listener registry for the batch pipeline.
// Listeners are attached to named points and called in registration order.
package hooks

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/logging"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/types"
)

// Point is a fixed place in the pipeline where listeners run.
type Point int

const (
	BeforeRun Point = iota
	BeforeFile
	AfterFile
	AfterRun
)

func (p Point) String() string {
	switch p {
	case BeforeRun:
		return "before_run"
	case BeforeFile:
		return "before_file"
	case AfterFile:
		return "after_file"
	case AfterRun:
		return "after_run"
	default:
		return "unknown"
	}
}

// Event is delivered to listeners. Task is nil for run-level points.
type Event struct {
	RunID  string
	Point  Point
	Target string
	Task   *types.ImageTask

	// Current is the number of files finished so far, Total the number
	// discovered.
	Current int
	Total   int

	BytesIn    int64
	BytesOut   int64
	BytesSaved int64
	Optimized  int

	// Err is set on AfterRun when the run did not complete.
	Err error
}

// Listener handles one event. It must not block for long; the run waits
// for it.
type Listener func(Event)

type entry struct {
	id string
	fn Listener
}

// Subscription receives events on a buffered channel. Events are dropped
// when the channel is full.
type Subscription struct {
	ID     string
	Events chan Event
	points map[Point]bool
}

// Registry maps hook points to ordered listeners.
type Registry struct {
	mu        sync.RWMutex
	listeners map[Point][]entry
	subs      map[string]*Subscription
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		listeners: make(map[Point][]entry),
		subs:      make(map[string]*Subscription),
	}
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.New().String()
}

// On appends fn to the listeners of p and returns an ID for Off.
func (r *Registry) On(p Point, fn Listener) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.New().String()
	r.listeners[p] = append(r.listeners[p], entry{id: id, fn: fn})
	return id
}

// Off removes the listener or subscription with id.
func (r *Registry) Off(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub, ok := r.subs[id]; ok {
		close(sub.Events)
		delete(r.subs, id)
		return true
	}

	for p, list := range r.listeners {
		for i, e := range list {
			if e.id == id {
				r.listeners[p] = append(list[:i:i], list[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Subscribe returns a channel subscription for points, or for every point
// when none are given. Cancel it with Off(sub.ID).
func (r *Registry) Subscribe(buffer int, points ...Point) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	if buffer <= 0 {
		buffer = 100
	}
	sub := &Subscription{
		ID:     uuid.New().String(),
		Events: make(chan Event, buffer),
	}
	if len(points) > 0 {
		sub.points = make(map[Point]bool, len(points))
		for _, p := range points {
			sub.points[p] = true
		}
	}
	r.subs[sub.ID] = sub
	return sub
}

// Len returns the number of listeners attached to p.
func (r *Registry) Len(p Point) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners[p])
}

// Emit delivers e to every listener of e.Point, then to subscriptions.
// A panicking listener is logged and does not stop the others. Emit on a nil
// registry does nothing.
func (r *Registry) Emit(e Event) {
	if r == nil {
		return
	}

	r.mu.RLock()
	list := append([]entry(nil), r.listeners[e.Point]...)
	r.mu.RUnlock()

	for _, l := range list {
		call(l, e)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sub := range r.subs {
		if sub.points != nil && !sub.points[e.Point] {
			continue
		}
		select {
		case sub.Events <- e:
		default:
		}
	}
}

func call(l entry, e Event) {
	defer func() {
		if v := recover(); v != nil {
			logging.Get("hooks").Error("listener panicked", "point", e.Point, "listener", l.id, "panic", fmt.Sprint(v))
		}
	}()
	l.fn(e)
}

// Close cancels every subscription and removes all listeners.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, sub := range r.subs {
		close(sub.Events)
		delete(r.subs, id)
	}
	r.listeners = make(map[Point][]entry)
}
