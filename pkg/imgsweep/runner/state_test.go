package runner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/types"
)

func TestRunState_Record(t *testing.T) {
	tests := []struct {
		name string
		task types.ImageTask
		want RunState
	}{
		{
			name: "optimized",
			task: types.ImageTask{Outcome: types.OutcomeOptimized, SizeBefore: 200000, SizeAfter: 150000},
			want: RunState{Current: 1, BytesIn: 200000, BytesOut: 150000, BytesSaved: 50000, FilesOptimized: 1},
		},
		{
			name: "not optimized",
			task: types.ImageTask{Outcome: types.OutcomeNotOptimized, SizeBefore: 50000, SizeAfter: 50000},
			want: RunState{Current: 1, BytesIn: 50000, BytesOut: 50000},
		},
		{
			name: "regression kept",
			task: types.ImageTask{Outcome: types.OutcomeNotOptimized, SizeBefore: 100, SizeAfter: 180},
			want: RunState{Current: 1, BytesIn: 100, BytesOut: 100},
		},
		{
			name: "failed",
			task: types.ImageTask{Outcome: types.OutcomeFailed, SizeBefore: 300, SizeAfter: 10},
			want: RunState{Current: 1, BytesIn: 300, BytesOut: 300, FilesFailed: 1},
		},
		{
			name: "skipped",
			task: types.ImageTask{Outcome: types.OutcomeSkipped, SizeBefore: 300},
			want: RunState{Current: 1, FilesSkipped: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s RunState
			task := tt.task
			s.Record(&task)
			assert.Equal(t, tt.want, s)
			assert.Equal(t, s.BytesIn-s.BytesOut, s.BytesSaved)
		})
	}
}

func TestRunState_Percentages(t *testing.T) {
	var s RunState
	assert.Zero(t, s.PercentSaved())
	assert.Equal(t, 1.0, s.Fraction())

	s = RunState{BytesIn: 400, BytesSaved: 100, Current: 1, FilesTotal: 4}
	assert.Equal(t, 25.0, s.PercentSaved())
	assert.Equal(t, 0.25, s.Fraction())
}

func TestStatus_RoundTrip(t *testing.T) {
	tmp := t.TempDir()
	path := StatusPath(tmp, "/srv/www/images")

	require.NoError(t, WriteStatus(path, RunState{
		Current: 3, FilesTotal: 10, BytesIn: 900, BytesOut: 600, BytesSaved: 300, FilesOptimized: 2,
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "3 10 900 600 300 2\n", string(data))

	st, err := ReadStatus(path)
	require.NoError(t, err)
	assert.Equal(t, Status{Current: 3, Total: 10, BytesIn: 900, BytesOut: 600, BytesSaved: 300, Optimized: 2}, st)

	require.NoError(t, RemoveStatus(path))
	assert.NoFileExists(t, path)
	assert.NoError(t, RemoveStatus(path), "removing twice is fine")

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries, "no temp files left behind")
}

func TestStatusPath(t *testing.T) {
	a := StatusPath("/tmp/imgsweep", "/srv/a")
	assert.Equal(t, a, StatusPath("/tmp/imgsweep", "/srv/a/"))
	assert.NotEqual(t, a, StatusPath("/tmp/imgsweep", "/srv/b"))
	assert.Equal(t, "/tmp/imgsweep", filepath.Dir(a))
}

func TestReadStatus_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status")
	for _, content := range []string{"", "1 2 3", "1 2 3 4 5 x"} {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		_, err := ReadStatus(path)
		assert.ErrorIs(t, err, ErrMalformedStatus, "content %q", content)
	}
}
