package filter

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInfo struct {
	os.FileInfo
	mod time.Time
}

func (f fakeInfo) ModTime() time.Time { return f.mod }

func modifiedAt(t time.Time) fakeInfo { return fakeInfo{mod: t} }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func touch(t *testing.T, path string, mod time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		in      string
		want    Period
		window  time.Duration
		wantErr bool
	}{
		{in: "30m", want: Period{30, Minutes}, window: 30 * time.Minute},
		{in: "2h", want: Period{120, Minutes}, window: 2 * time.Hour},
		{in: "7d", want: Period{7, Days}, window: 7 * 24 * time.Hour},
		{in: " 5D ", want: Period{5, Days}, window: 5 * 24 * time.Hour},
		{in: "", wantErr: true},
		{in: "10", wantErr: true},
		{in: "1w", wantErr: true},
		{in: "-5m", wantErr: true},
		{in: "0d", wantErr: true},
		{in: "1.5h", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePeriod(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPeriod)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.window, got.Window())
		})
	}
}

func TestPeriodString(t *testing.T) {
	p, err := ParsePeriod("3h")
	require.NoError(t, err)
	assert.Equal(t, "180m", p.String())
	assert.Equal(t, "", Period{}.String())
}

func TestNew_ConflictingModes(t *testing.T) {
	p, err := ParsePeriod("1d")
	require.NoError(t, err)
	marker := filepath.Join(t.TempDir(), "marker")

	_, err = New(WithPeriod(p), WithMarker(marker))

	assert.ErrorIs(t, err, ErrConflictingModes)
	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr), "no file I/O before the conflict is reported")
}

func TestNew_Modes(t *testing.T) {
	f, err := New()
	require.NoError(t, err)
	assert.Equal(t, ModeFull, f.Mode())
	assert.Equal(t, "full", f.Describe())

	f, err = New(WithPeriod(Period{10, Minutes}))
	require.NoError(t, err)
	assert.Equal(t, ModePeriod, f.Mode())
	assert.Equal(t, "period 10m", f.Describe())

	f, err = New(WithMarker("/tmp/m"))
	require.NoError(t, err)
	assert.Equal(t, ModeMarker, f.Mode())
	assert.Equal(t, "marker /tmp/m", f.Describe())
}

func TestMatch_FullScan(t *testing.T) {
	f, err := New()
	require.NoError(t, err)
	require.NoError(t, f.Prepare())

	assert.True(t, f.Match("/a.png", modifiedAt(time.Unix(0, 0))))
	assert.True(t, f.Cutoff().IsZero())
}

func TestMatch_Period(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f, err := New(WithPeriod(Period{90, Minutes}), WithClock(fixedClock(now)))
	require.NoError(t, err)
	require.NoError(t, f.Prepare())

	assert.True(t, f.Match("/a.png", modifiedAt(now.Add(-89*time.Minute))))
	assert.False(t, f.Match("/a.png", modifiedAt(now.Add(-91*time.Minute))))
	assert.Equal(t, now.Add(-90*time.Minute), f.Cutoff())

	_, ok := f.StampTime()
	assert.False(t, ok, "only marker mode stamps files")
}

func TestExclusions(t *testing.T) {
	f, err := New(WithExclude(ParseExclusions("/cache/, thumbs ,,")...), WithExclude("**/tmp/*.png"))
	require.NoError(t, err)
	require.NoError(t, f.Prepare())

	info := modifiedAt(time.Now())
	assert.False(t, f.Match("/site/cache/a.png", info))
	assert.False(t, f.Match("/site/img/thumbs-small/b.jpg", info))
	assert.False(t, f.Match("/site/tmp/c.png", info))
	assert.True(t, f.Match("/site/tmp/deeper/c.png", info), "glob * does not cross /")
	assert.True(t, f.Match("/site/img/d.gif", info))
}

func TestParseExclusions(t *testing.T) {
	assert.Equal(t, []string{"a", "b c"}, ParseExclusions(" a ,, b c ,"))
	assert.Nil(t, ParseExclusions(""))
}

func TestMarker_Missing(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "state", "marker")
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	f, err := New(WithMarker(marker), WithClock(fixedClock(start)))
	require.NoError(t, err)
	require.NoError(t, f.Prepare())

	assert.True(t, f.Cutoff().IsZero(), "no marker means no time filter")
	assert.True(t, f.Match("/a.png", modifiedAt(time.Unix(0, 0))))

	stamp, ok := f.StampTime()
	require.True(t, ok)
	assert.Equal(t, start, stamp)

	require.NoError(t, f.Finish())
	info, err := os.Stat(marker)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(start))
}

func TestMarker_Existing(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")
	original := time.Now().Add(-time.Hour).Truncate(time.Second)
	touch(t, marker, original)

	start := time.Now().Truncate(time.Second)
	f, err := New(WithMarker(marker), WithClock(fixedClock(start)))
	require.NoError(t, err)
	require.NoError(t, f.Prepare())

	info, err := os.Stat(marker)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(original), "probe restores the original mtime")

	assert.Equal(t, original, f.Cutoff())
	assert.False(t, f.Match("/old.png", modifiedAt(original)))
	assert.True(t, f.Match("/new.png", modifiedAt(original.Add(time.Second))))

	stamp, ok := f.StampTime()
	require.True(t, ok)
	assert.Equal(t, original, stamp)

	require.NoError(t, f.Finish())
	info, err = os.Stat(marker)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(start))
}

func TestMarker_NudgedWhenClockNotAhead(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "marker")
	original := time.Now().Add(time.Hour).Truncate(time.Second)
	touch(t, marker, original)

	// The clock reads earlier than the marker, e.g. after a clock adjustment.
	f, err := New(WithMarker(marker), WithClock(fixedClock(original.Add(-time.Minute))))
	require.NoError(t, err)
	require.NoError(t, f.Prepare())
	require.NoError(t, f.Finish())

	info, err := os.Stat(marker)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(original.Add(time.Second)))
}

func TestMarker_NotWritable(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can change any mtime")
	}

	// Setting explicit times requires owning the file.
	foreign := "/etc/hostname"
	if _, err := os.Stat(foreign); err != nil {
		t.Skip("no foreign-owned file available")
	}

	f, err := New(WithMarker(foreign))
	require.NoError(t, err)
	assert.ErrorIs(t, f.Prepare(), ErrMarkerNotWritable)
}

func TestFinish_BeforePrepare(t *testing.T) {
	f, err := New(WithMarker(filepath.Join(t.TempDir(), "m")))
	require.NoError(t, err)
	assert.Error(t, f.Finish())

	full, err := New()
	require.NoError(t, err)
	assert.NoError(t, full.Finish())
}

// A file written before the run and left alone is excluded from the next
// marker run; a file created after the run started is included.
func TestMarker_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")
	base := time.Now().Add(-2 * time.Hour).Truncate(time.Second)
	touch(t, marker, base)

	before := filepath.Join(dir, "img", "before.png")
	touch(t, before, base.Add(30*time.Minute))

	runStart := base.Add(time.Hour)
	first, err := New(WithMarker(marker), WithClock(fixedClock(runStart)))
	require.NoError(t, err)
	require.NoError(t, first.Prepare())

	info, err := os.Stat(before)
	require.NoError(t, err)
	require.True(t, first.Match(before, info), "new since the previous marker")

	// The run processes the file and stamps it.
	stamp, ok := first.StampTime()
	require.True(t, ok)
	require.NoError(t, os.Chtimes(before, stamp, stamp))
	require.NoError(t, first.Finish())

	after := filepath.Join(dir, "img", "after.png")
	touch(t, after, runStart.Add(time.Minute))

	second, err := New(WithMarker(marker), WithClock(fixedClock(runStart.Add(time.Hour))))
	require.NoError(t, err)
	require.NoError(t, second.Prepare())

	info, err = os.Stat(before)
	require.NoError(t, err)
	assert.False(t, second.Match(before, info))

	info, err = os.Stat(after)
	require.NoError(t, err)
	assert.True(t, second.Match(after, info))
}
