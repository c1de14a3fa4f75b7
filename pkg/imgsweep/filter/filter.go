// Package filter decides which discovered images a run processes: an
// optional modification-time window (a trailing period or a time marker)
// plus path exclusions.
package filter

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/gobwas/glob"
)

// ErrConflictingModes is returned when both a period and a time marker are
// requested.
var ErrConflictingModes = errors.New("period and time marker modes are mutually exclusive")

// Mode is the time-filter mode of a run.
type Mode int

// Filter modes.
const (
	ModeFull Mode = iota
	ModePeriod
	ModeMarker
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModePeriod:
		return "period"
	case ModeMarker:
		return "marker"
	default:
		return "full"
	}
}

// Filter selects candidate files.
type Filter struct {
	mode    Mode
	period  Period
	marker  *Marker
	exclude []matcher
	now     func() time.Time

	prepared bool
	start    time.Time
	cutoff   time.Time
}

// Option configures a Filter.
type Option func(*Filter)

// WithPeriod restricts candidates to files modified within p.
func WithPeriod(p Period) Option {
	return func(f *Filter) {
		f.period = p
	}
}

// WithMarker enables time-marker mode using the marker file at path.
func WithMarker(path string) Option {
	return func(f *Filter) {
		f.marker = NewMarker(path)
	}
}

// WithExclude drops any path containing one of patterns. A pattern with glob
// metacharacters (*, ?, [) is matched as a glob against the whole path
// instead.
func WithExclude(patterns ...string) Option {
	return func(f *Filter) {
		for _, p := range patterns {
			if p = strings.TrimSpace(p); p == "" {
				continue
			}
			f.exclude = append(f.exclude, newMatcher(p))
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(f *Filter) {
		f.now = now
	}
}

// New builds a filter. Conflicting modes are rejected here, before any
// file is touched.
func New(opts ...Option) (*Filter, error) {
	f := &Filter{now: time.Now}
	for _, opt := range opts {
		opt(f)
	}

	switch {
	case !f.period.IsZero() && f.marker != nil:
		return nil, ErrConflictingModes
	case !f.period.IsZero():
		f.mode = ModePeriod
	case f.marker != nil:
		f.mode = ModeMarker
	}
	return f, nil
}

// Mode returns the active time-filter mode.
func (f *Filter) Mode() Mode {
	return f.mode
}

// Marker returns the time marker, or nil outside marker mode.
func (f *Filter) Marker() *Marker {
	return f.marker
}

// Prepare fixes the time window for this run. In marker mode it verifies
// the marker is writable and fails with ErrMarkerNotWritable otherwise.
func (f *Filter) Prepare() error {
	f.start = f.now()
	f.cutoff = time.Time{}

	switch f.mode {
	case ModePeriod:
		f.cutoff = f.start.Add(-f.period.Window())
	case ModeMarker:
		if err := f.marker.Prepare(f.start); err != nil {
			return err
		}
		if f.marker.Existed() {
			f.cutoff = f.marker.Original()
		}
	}

	f.prepared = true
	return nil
}

// Cutoff returns the modification-time lower bound, or the zero time when
// no time filter applies.
func (f *Filter) Cutoff() time.Time {
	return f.cutoff
}

// Excluded reports whether path matches an exclusion.
func (f *Filter) Excluded(path string) bool {
	for _, m := range f.exclude {
		if m.match(path) {
			return true
		}
	}
	return false
}

// Match reports whether the file at path is a candidate.
func (f *Filter) Match(path string, info fs.FileInfo) bool {
	if f.Excluded(path) {
		return false
	}
	if f.cutoff.IsZero() {
		return true
	}
	return info.ModTime().After(f.cutoff)
}

// StampTime returns the modification time processed files should carry in
// marker mode so the next run does not pick them up again.
func (f *Filter) StampTime() (time.Time, bool) {
	if f.mode != ModeMarker || !f.prepared {
		return time.Time{}, false
	}
	return f.marker.StampTime(), true
}

// Finish advances the time marker after a successful run. It is a no-op in
// other modes.
func (f *Filter) Finish() error {
	if f.mode != ModeMarker {
		return nil
	}
	if !f.prepared {
		return errors.New("filter: Finish called before Prepare")
	}
	return f.marker.Advance()
}

// ParseExclusions splits a comma-separated exclusion list, dropping blanks.
func ParseExclusions(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type matcher struct {
	substr string
	glob   glob.Glob
}

func newMatcher(pattern string) matcher {
	if strings.ContainsAny(pattern, "*?[") {
		if g, err := glob.Compile(pattern, '/'); err == nil {
			return matcher{glob: g}
		}
	}
	return matcher{substr: pattern}
}

func (m matcher) match(path string) bool {
	if m.glob != nil {
		return m.glob.Match(path)
	}
	return strings.Contains(path, m.substr)
}

// Describe renders the active mode for logs, e.g. "period 90m".
func (f *Filter) Describe() string {
	switch f.mode {
	case ModePeriod:
		return fmt.Sprintf("period %s", f.period)
	case ModeMarker:
		return fmt.Sprintf("marker %s", f.marker.Path())
	default:
		return "full"
	}
}
