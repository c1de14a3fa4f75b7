package scanner

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/filter"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/types"
)

func createTree(t *testing.T, root string, files map[string]time.Time) {
	t.Helper()
	for rel, mod := range files {
		p := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(rel), 0o644))
		if !mod.IsZero() {
			require.NoError(t, os.Chtimes(p, mod, mod))
		}
	}
}

func paths(res *Result, root string) []string {
	out := make([]string, len(res.Tasks))
	for i, task := range res.Tasks {
		rel, _ := filepath.Rel(root, task.Path)
		out[i] = rel
	}
	return out
}

func TestScan_FindsImagesSorted(t *testing.T) {
	root := t.TempDir()
	createTree(t, root, map[string]time.Time{
		"z.png":                    {},
		"a/photo.JPG":              {},
		"a/b/anim.gif":             {},
		"a/b/readme.txt":           {},
		"m/pic.jpeg":               {},
		"m/.pic.jpeg.imgsweep-123": {},
		"vector.svg":               {},
	})

	res, err := New(Options{Root: root}).Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"a/b/anim.gif", "a/photo.JPG", "m/pic.jpeg", "z.png"}, paths(res, root))
	assert.Equal(t, int64(7), res.FilesSeen)
	assert.Equal(t, int64(4), res.DirsScanned)
	assert.Empty(t, res.Errors)

	for _, task := range res.Tasks {
		assert.True(t, filepath.IsAbs(task.Path))
		assert.NotEqual(t, types.FormatUnknown, task.Format)
		assert.Equal(t, types.OutcomePending, task.Outcome)
	}
}

func TestScan_AppliesFilter(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	createTree(t, root, map[string]time.Time{
		"fresh.png":       now.Add(-5 * time.Minute),
		"stale.png":       now.Add(-3 * time.Hour),
		"cache/fresh.png": now.Add(-5 * time.Minute),
	})

	p, err := filter.ParsePeriod("1h")
	require.NoError(t, err)
	f, err := filter.New(filter.WithPeriod(p), filter.WithExclude("/cache/"), filter.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	require.NoError(t, f.Prepare())

	res, err := New(Options{Root: root, Filter: f}).Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"fresh.png"}, paths(res, root))
	assert.Equal(t, int64(1), res.Excluded)
}

func TestScan_SkipDirs(t *testing.T) {
	root := t.TempDir()
	createTree(t, root, map[string]time.Time{
		"keep.png":                       {},
		".imgsweep/backup/keep.png.orig": {},
		".imgsweep/tmp.png":              {},
	})

	res, err := New(Options{Root: root, SkipDirs: []string{filepath.Join(root, ".imgsweep")}}).Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.png"}, paths(res, root))
}

func TestScan_IgnoresSymlinks(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	createTree(t, outside, map[string]time.Time{"elsewhere.png": {}})
	createTree(t, root, map[string]time.Time{"real.png": {}})
	require.NoError(t, os.Symlink(filepath.Join(outside, "elsewhere.png"), filepath.Join(root, "link.png")))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "linkdir")))

	res, err := New(Options{Root: root}).Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"real.png"}, paths(res, root))
}

func TestScan_Progress(t *testing.T) {
	root := t.TempDir()
	createTree(t, root, map[string]time.Time{"a/1.png": {}, "b/2.png": {}})

	var calls atomic.Int64
	_, err := New(Options{Root: root, OnProgress: func(p Progress) {
		calls.Add(1)
		assert.NotEmpty(t, p.CurrentPath)
	}}).Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), calls.Load())
}

func TestScan_InvalidRoot(t *testing.T) {
	_, err := New(Options{Root: filepath.Join(t.TempDir(), "missing")}).Scan(context.Background())
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file.png")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = New(Options{Root: file}).Scan(context.Background())
	assert.Error(t, err)
}

func TestScan_Cancelled(t *testing.T) {
	root := t.TempDir()
	createTree(t, root, map[string]time.Time{"a.png": {}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(Options{Root: root}).Scan(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
