package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLock(t *testing.T) *DirLock {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "imgsweep.lock"))
}

func content(t *testing.T, l *DirLock) string {
	t.Helper()
	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	return string(data)
}

func TestAcquireRelease(t *testing.T) {
	l := newLock(t)

	require.NoError(t, l.Acquire("/srv/a"))
	require.NoError(t, l.Acquire("/srv/b"))
	assert.Equal(t, "/srv/a\n/srv/b\n", content(t, l))

	require.NoError(t, l.Release("/srv/a"))
	assert.Equal(t, "/srv/b\n", content(t, l))

	require.NoError(t, l.Release("/srv/b"))
	_, err := os.Stat(l.Path())
	assert.True(t, os.IsNotExist(err), "empty lock file is deleted")
}

func TestAcquire_AlreadyLocked(t *testing.T) {
	l := newLock(t)
	require.NoError(t, l.Acquire("/srv/a"))
	before := content(t, l)

	err := l.Acquire("/srv/a")

	assert.ErrorIs(t, err, ErrLocked)
	assert.Contains(t, err.Error(), "imgsweep unlock /srv/a")
	assert.Equal(t, before, content(t, l), "failed acquire leaves the file untouched")
}

func TestAcquire_NormalizesPath(t *testing.T) {
	l := newLock(t)
	require.NoError(t, l.Acquire("/srv/a/"))

	assert.ErrorIs(t, l.Acquire("/srv/./a"), ErrLocked)
}

func TestAcquire_RelativePath(t *testing.T) {
	l := newLock(t)
	require.NoError(t, l.Acquire("photos"))

	abs, err := filepath.Abs("photos")
	require.NoError(t, err)
	locked, err := l.Locked()
	require.NoError(t, err)
	assert.Equal(t, []string{abs}, locked)
}

func TestAcquire_EmptyDir(t *testing.T) {
	assert.Error(t, newLock(t).Acquire(""))
}

func TestRelease_NotLockedIsNoop(t *testing.T) {
	l := newLock(t)

	require.NoError(t, l.Release("/srv/missing"))
	_, err := os.Stat(l.Path())
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, l.Acquire("/srv/a"))
	require.NoError(t, l.Release("/srv/missing"))
	assert.Equal(t, "/srv/a\n", content(t, l))
}

func TestRelease_RemovesOneOccurrence(t *testing.T) {
	l := newLock(t)
	require.NoError(t, os.WriteFile(l.Path(), []byte("/srv/a\n/srv/b\n/srv/a\n"), 0o644))

	require.NoError(t, l.Release("/srv/a"))
	assert.Equal(t, "/srv/b\n/srv/a\n", content(t, l))
}

func TestRead_PrunesBlankLines(t *testing.T) {
	l := newLock(t)
	require.NoError(t, os.WriteFile(l.Path(), []byte("\n/srv/a\n\n   \n/srv/b\n\n"), 0o644))

	locked, err := l.Locked()
	require.NoError(t, err)
	assert.Equal(t, []string{"/srv/a", "/srv/b"}, locked)

	require.NoError(t, l.Acquire("/srv/c"))
	assert.Equal(t, "/srv/a\n/srv/b\n/srv/c\n", content(t, l))
}

func TestForceUnlock(t *testing.T) {
	l := newLock(t)
	require.NoError(t, os.WriteFile(l.Path(), []byte("/srv/a\n/srv/b\n/srv/a\n"), 0o644))

	n, err := l.ForceUnlock("/srv/a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "/srv/b\n", content(t, l))

	n, err = l.ForceUnlock("/srv/b")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = os.Stat(l.Path())
	assert.True(t, os.IsNotExist(err))

	n, err = l.ForceUnlock("/srv/zzz")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIsLocked(t *testing.T) {
	l := newLock(t)
	require.NoError(t, l.Acquire("/srv/a"))

	locked, err := l.IsLocked("/srv/a")
	require.NoError(t, err)
	assert.True(t, locked)

	locked, err = l.IsLocked("/srv/b")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestConcurrentAcquireDistinctDirs(t *testing.T) {
	l := newLock(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Each goroutine uses its own DirLock, as separate processes would.
			assert.NoError(t, New(l.Path()).Acquire(fmt.Sprintf("/srv/dir%02d", i)))
		}(i)
	}
	wg.Wait()

	locked, err := l.Locked()
	require.NoError(t, err)
	assert.Len(t, locked, 20, "no entry lost to a concurrent rewrite")
}

func TestConcurrentAcquireSameDir(t *testing.T) {
	l := newLock(t)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		won      int
		rejected int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := New(l.Path()).Acquire("/srv/shared")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				won++
			} else if assert.ErrorIs(t, err, ErrLocked) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, won)
	assert.Equal(t, 9, rejected)
}
