// Package scanner discovers candidate images under a target directory using
// a parallel fastwalk traversal. Results are sorted by path so processing
// order does not depend on walk scheduling.
package scanner

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charlievieth/fastwalk"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/filter"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/logging"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/tools"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/types"
)

// Options configures a scan.
type Options struct {
	// Root is the directory to walk.
	Root string

	// Filter selects candidates. Nil accepts every image.
	Filter *filter.Filter

	// SkipDirs are absolute directories never descended into, such as a tmp
	// dir that lives inside the target.
	SkipDirs []string

	// Workers is the number of fastwalk workers. Zero uses fastwalk's default.
	Workers int

	// OnProgress is called as directories are entered. It must be safe for
	// concurrent use.
	OnProgress func(Progress)
}

// Progress is a snapshot of a running scan.
type Progress struct {
	DirsScanned int64
	FilesSeen   int64
	Matched     int64
	CurrentPath string
}

// Error records a path that could not be read.
type Error struct {
	Path string
	Err  error
}

func (e Error) Error() string {
	return e.Path + ": " + e.Err.Error()
}

// Result is the outcome of a scan.
type Result struct {
	Tasks       []*types.ImageTask
	DirsScanned int64
	FilesSeen   int64
	Excluded    int64
	Errors      []Error
	Elapsed     time.Duration
}

// Scanner walks a directory tree for images.
type Scanner struct {
	opts Options
	root string

	dirs     atomic.Int64
	files    atomic.Int64
	matched  atomic.Int64
	excluded atomic.Int64

	mu     sync.Mutex
	tasks  []*types.ImageTask
	errors []Error
}

// New creates a Scanner.
func New(opts Options) *Scanner {
	return &Scanner{opts: opts}
}

// Scan walks the tree and returns the matching images sorted by path.
func (s *Scanner) Scan(ctx context.Context) (*Result, error) {
	start := time.Now()

	root, err := filepath.Abs(s.opts.Root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &fs.PathError{Op: "scan", Path: root, Err: errors.New("not a directory")}
	}
	s.root = root

	conf := fastwalk.Config{Follow: false, NumWorkers: s.opts.Workers}
	walkErr := fastwalk.Walk(&conf, root, s.visit(ctx))
	if walkErr != nil && !errors.Is(walkErr, fastwalk.ErrSkipFiles) {
		return nil, walkErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(s.tasks, func(i, j int) bool { return s.tasks[i].Path < s.tasks[j].Path })

	res := &Result{
		Tasks:       s.tasks,
		DirsScanned: s.dirs.Load(),
		FilesSeen:   s.files.Load(),
		Excluded:    s.excluded.Load(),
		Errors:      s.errors,
		Elapsed:     time.Since(start),
	}

	logging.Get("scanner").Debug("scan complete",
		"root", root,
		"dirs", res.DirsScanned,
		"files", res.FilesSeen,
		"matched", len(res.Tasks),
		"excluded", res.Excluded,
		"errors", len(res.Errors),
		"elapsed", res.Elapsed)
	return res, nil
}

func (s *Scanner) visit(ctx context.Context) fs.WalkDirFunc {
	return func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return fastwalk.ErrSkipFiles
		}

		if err != nil {
			s.addError(path, err)
			return nil
		}

		if d.IsDir() {
			if path != s.root && s.skipDir(path) {
				return fastwalk.SkipDir
			}
			s.dirs.Add(1)
			s.report(path)
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}
		s.files.Add(1)

		if strings.Contains(d.Name(), tools.TempMarker) {
			return nil
		}
		task := types.NewImageTask(path)
		if task.Format == types.FormatUnknown {
			return nil
		}

		if f := s.opts.Filter; f != nil {
			info, err := d.Info()
			if err != nil {
				s.addError(path, err)
				return nil
			}
			if !f.Match(path, info) {
				if f.Excluded(path) {
					s.excluded.Add(1)
				}
				return nil
			}
		}

		s.matched.Add(1)
		s.mu.Lock()
		s.tasks = append(s.tasks, task)
		s.mu.Unlock()
		return nil
	}
}

func (s *Scanner) skipDir(path string) bool {
	for _, d := range s.opts.SkipDirs {
		if path == d {
			return true
		}
	}
	return false
}

func (s *Scanner) addError(path string, err error) {
	s.mu.Lock()
	s.errors = append(s.errors, Error{Path: path, Err: err})
	s.mu.Unlock()
	logging.Get("scanner").Warn("unreadable path", "path", path, "error", err)
}

func (s *Scanner) report(path string) {
	if s.opts.OnProgress == nil {
		return
	}
	s.opts.OnProgress(Progress{
		DirsScanned: s.dirs.Load(),
		FilesSeen:   s.files.Load(),
		Matched:     s.matched.Load(),
		CurrentPath: path,
	})
}
