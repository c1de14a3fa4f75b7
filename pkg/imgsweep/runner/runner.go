// Package runner drives one optimization run over a directory tree: it
// discovers candidates, locks the target, optimizes every file in turn
// behind a backup, and aggregates before/after statistics.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/backup"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/config"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/filter"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/hooks"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/lock"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/logging"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/scanner"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/types"
)

// Fatal errors reported before any file is touched.
var (
	ErrTargetNotDir      = errors.New("target is not a directory")
	ErrTargetNotWritable = errors.New("target directory is not writable")
	ErrInterrupted       = errors.New("run interrupted")
)

// Flags are the run switches. They do not change once the run starts.
type Flags struct {
	Quiet               bool
	Verbose             bool
	LessOutput          bool
	Backup              bool
	RestoreOnRegression bool
	NewOnly             bool
}

// RunContext describes one invocation.
type RunContext struct {
	// TargetDir is the directory to optimize and the lock key.
	TargetDir string

	// TmpDir holds backups, the shared lock file and the status file.
	TmpDir string

	Flags Flags

	// Period limits discovery to recently modified files.
	Period filter.Period

	// TimeMarker is the marker used when Flags.NewOnly is set. Empty means
	// <TmpDir>/timemarker.
	TimeMarker string

	// Exclude lists path substrings or glob patterns to skip.
	Exclude []string
}

// Optimizer rewrites one image in place and names the tool it used. A
// *types.SkipError declines the file without counting it as a failure.
type Optimizer interface {
	Optimize(ctx context.Context, path string, f types.Format) (string, error)
}

// Cache remembers files that earlier runs already processed.
type Cache interface {
	Seen(path string, size int64, modTime time.Time) bool
	Remember(task *types.ImageTask) error
}

// Summary is the result of a run.
type Summary struct {
	RunID     string        `json:"run_id"`
	Target    string        `json:"target"`
	Mode      string        `json:"mode"`
	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`

	RunState
	PercentSaved float64 `json:"percent_saved"`

	Files  []*types.ImageTask `json:"files"`
	Errors []string           `json:"errors,omitempty"`
}

// Option configures a Runner.
type Option func(*Runner)

// WithHooks attaches a listener registry.
func WithHooks(r *hooks.Registry) Option {
	return func(rn *Runner) {
		rn.hooks = r
	}
}

// WithCache skips files the cache has already seen and records new results.
func WithCache(c Cache) Option {
	return func(rn *Runner) {
		rn.cache = c
	}
}

// WithOutput sets where result lines are written. The default discards them.
func WithOutput(w io.Writer) Option {
	return func(rn *Runner) {
		rn.out = w
	}
}

// WithProgressBar draws an in-place progress bar after every file.
func WithProgressBar(enabled bool) Option {
	return func(rn *Runner) {
		rn.showBar = enabled
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(rn *Runner) {
		rn.now = now
	}
}

// WithRunID sets the run identifier instead of generating one.
func WithRunID(id string) Option {
	return func(rn *Runner) {
		rn.runID = id
	}
}

// Runner executes a single run. It is not safe for concurrent use.
type Runner struct {
	rc        RunContext
	optimizer Optimizer
	filter    *filter.Filter
	backups   *backup.Manager
	lock      *lock.DirLock
	hooks     *hooks.Registry
	cache     Cache
	out       io.Writer
	showBar   bool
	now       func() time.Time
	runID     string
	status    string
	state     RunState
	log       *logging.Logger
}

// New validates rc and builds a runner. Conflicting time filters are
// reported here, before any file I/O.
func New(rc RunContext, optimizer Optimizer, opts ...Option) (*Runner, error) {
	if rc.TargetDir == "" {
		return nil, errors.New("target directory is required")
	}
	target, err := filepath.Abs(rc.TargetDir)
	if err != nil {
		return nil, fmt.Errorf("resolving target: %w", err)
	}
	rc.TargetDir = target

	if rc.TmpDir == "" {
		rc.TmpDir = config.DefaultTmpDir()
	}
	if rc.TmpDir, err = filepath.Abs(rc.TmpDir); err != nil {
		return nil, fmt.Errorf("resolving tmp dir: %w", err)
	}

	r := &Runner{
		rc:        rc,
		optimizer: optimizer,
		out:       io.Discard,
		now:       time.Now,
		log:       logging.Get("runner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.runID == "" {
		r.runID = hooks.NewRunID()
	}

	filterOpts := []filter.Option{filter.WithExclude(rc.Exclude...), filter.WithClock(r.now)}
	if !rc.Period.IsZero() {
		filterOpts = append(filterOpts, filter.WithPeriod(rc.Period))
	}
	if rc.Flags.NewOnly {
		marker := rc.TimeMarker
		if marker == "" {
			marker = filepath.Join(rc.TmpDir, config.MarkerFileName)
		}
		filterOpts = append(filterOpts, filter.WithMarker(marker))
	}
	if r.filter, err = filter.New(filterOpts...); err != nil {
		return nil, err
	}

	r.backups = backup.New(rc.TmpDir, rc.TargetDir, rc.Flags.Backup, rc.Flags.RestoreOnRegression)
	r.lock = lock.New(filepath.Join(rc.TmpDir, config.LockFileName))
	r.status = StatusPath(rc.TmpDir, rc.TargetDir)
	return r, nil
}

// RunID returns the identifier of this run.
func (r *Runner) RunID() string {
	return r.runID
}

// State returns a copy of the running totals.
func (r *Runner) State() RunState {
	return r.state
}

// Run performs the run. Fatal problems (bad target, unwritable marker, held
// lock) are returned before any image is touched. Per-file problems are
// recorded in the summary and never stop the run. When ctx is cancelled the
// file in flight is put back, every backup artifact and the status file are
// removed, and the lock is released; the partial summary is returned with an
// error wrapping ErrInterrupted.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	started := r.now()
	target := r.rc.TargetDir

	if err := r.prepare(); err != nil {
		return nil, err
	}

	res, err := scanner.New(scanner.Options{
		Root:     target,
		Filter:   r.filter,
		SkipDirs: r.skipDirs(),
	}).Scan(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
		}
		return nil, fmt.Errorf("discovering images: %w", err)
	}

	summary := r.newSummary(started, res.Tasks)
	for _, e := range res.Errors {
		r.log.Warn("discovery error", "path", e.Path, "error", e.Err)
		summary.Errors = append(summary.Errors, e.Error())
	}
	r.log.Info("run started", "run", r.runID, "target", target, "files", len(res.Tasks),
		"excluded", res.Excluded, "filter", r.filter.Describe())

	runErr := r.execute(ctx, summary)
	if runErr == nil {
		if err := r.filter.Finish(); err != nil {
			runErr = fmt.Errorf("advancing time marker: %w", err)
		}
	}
	return r.finish(summary, runErr)
}

// RunPaths processes an explicit set of files under the target instead of
// walking it. Paths outside the target, with an unknown format or rejected
// by the filter are ignored. The time marker is not advanced.
func (r *Runner) RunPaths(ctx context.Context, paths []string) (*Summary, error) {
	started := r.now()

	if err := r.prepare(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(paths))
	var tasks []*types.ImageTask
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] || !r.within(abs) {
			continue
		}
		seen[abs] = true

		task := types.NewImageTask(abs)
		if task.Format == types.FormatUnknown {
			continue
		}
		info, err := os.Lstat(abs)
		if err != nil || !info.Mode().IsRegular() || !r.filter.Match(abs, info) {
			continue
		}
		tasks = append(tasks, task)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Path < tasks[j].Path })

	summary := r.newSummary(started, tasks)
	r.log.Info("batch started", "run", r.runID, "target", r.rc.TargetDir, "files", len(tasks))

	return r.finish(summary, r.execute(ctx, summary))
}

func (r *Runner) prepare() error {
	if err := r.validate(); err != nil {
		return err
	}
	if err := config.EnsureTmpDir(r.rc.TmpDir); err != nil {
		return err
	}
	if err := r.filter.Prepare(); err != nil {
		return fmt.Errorf("preparing %s filter: %w", r.filter.Mode(), err)
	}
	return nil
}

func (r *Runner) newSummary(started time.Time, tasks []*types.ImageTask) *Summary {
	r.state = RunState{FilesTotal: len(tasks)}
	return &Summary{
		RunID:     r.runID,
		Target:    r.rc.TargetDir,
		Mode:      r.filter.Mode().String(),
		StartedAt: started,
		Files:     tasks,
	}
}

// execute holds the target lock while the tasks are processed. No lock is
// taken when there is nothing to do.
func (r *Runner) execute(ctx context.Context, summary *Summary) error {
	target := r.rc.TargetDir

	if len(summary.Files) > 0 {
		if err := r.lock.Acquire(target); err != nil {
			return err
		}
		defer func() {
			if err := r.lock.Release(target); err != nil {
				r.log.Error("releasing lock", "target", target, "error", err)
			}
		}()
	}

	r.emit(hooks.Event{Point: hooks.BeforeRun})
	return r.process(ctx, summary.Files)
}

func (r *Runner) finish(summary *Summary, runErr error) (*Summary, error) {
	summary.RunState = r.state
	summary.PercentSaved = r.state.PercentSaved()
	summary.Elapsed = r.now().Sub(summary.StartedAt)

	if errors.Is(runErr, lock.ErrLocked) {
		return nil, runErr
	}

	r.emit(hooks.Event{Point: hooks.AfterRun, Err: runErr})

	if runErr != nil {
		r.log.Warn("run ended early", "run", r.runID, "error", runErr)
		return summary, runErr
	}

	r.log.Info("run finished", "run", r.runID, "optimized", r.state.FilesOptimized, "total", r.state.FilesTotal,
		"saved", types.FormatSize(r.state.BytesSaved), "elapsed", types.FormatDuration(summary.Elapsed))
	return summary, nil
}

func (r *Runner) within(path string) bool {
	rel, err := filepath.Rel(r.rc.TargetDir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (r *Runner) process(ctx context.Context, tasks []*types.ImageTask) error {
	rep := newReporter(r.out, r.rc.TargetDir, r.rc.Flags, r.showBar)
	defer rep.done()
	defer func() {
		if err := RemoveStatus(r.status); err != nil {
			r.log.Warn("removing status file", "path", r.status, "error", err)
		}
	}()

	r.writeStatus()

	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return r.interrupted(err)
		}

		r.emit(hooks.Event{Point: hooks.BeforeFile, Task: task})

		if err := r.optimizeFile(ctx, task); err != nil {
			return r.interrupted(err)
		}

		r.state.Record(task)
		r.writeStatus()

		if r.cache != nil && (task.Outcome == types.OutcomeOptimized || task.Outcome == types.OutcomeNotOptimized) {
			if err := r.cache.Remember(task); err != nil {
				r.log.Warn("updating cache", "file", task.Path, "error", err)
			}
		}

		rep.file(task, r.state)
		r.emit(hooks.Event{Point: hooks.AfterFile, Task: task})
	}
	return nil
}

func (r *Runner) interrupted(cause error) error {
	if err := r.backups.CleanupAll(); err != nil {
		r.log.Error("removing backups after interrupt", "error", err)
	}
	return fmt.Errorf("%w: %w", ErrInterrupted, cause)
}

// optimizeFile runs the per-file state machine and fills in task. It only
// returns an error when ctx was cancelled while the file was in flight.
func (r *Runner) optimizeFile(ctx context.Context, task *types.ImageTask) error {
	log := r.log.With("file", task.Path)

	info, err := os.Stat(task.Path)
	if err != nil {
		if os.IsNotExist(err) {
			skip(task, types.SkipMissing)
		} else {
			task.Outcome = types.OutcomeFailed
			task.Reason = err.Error()
		}
		log.Info("skipping", "reason", task.Reason)
		return nil
	}
	task.SizeBefore = info.Size()
	task.SizeAfter = info.Size()

	if r.cache != nil && r.cache.Seen(task.Path, info.Size(), info.ModTime()) {
		skip(task, types.SkipCached)
		return nil
	}

	owner, ownerErr := backup.CaptureOwnership(task.Path)

	rec, err := r.backups.Snapshot(task.Path)
	if err != nil {
		task.Outcome = types.OutcomeFailed
		task.Reason = err.Error()
		log.Error("backup failed, leaving file untouched", "error", err)
		return nil
	}

	tool, optErr := r.optimizer.Optimize(ctx, task.Path, task.Format)
	task.Tool = tool

	if ctx.Err() != nil {
		if err := r.backups.Restore(rec); err != nil {
			log.Error("restoring interrupted file", "error", err)
		}
		return ctx.Err()
	}

	var skipErr *types.SkipError
	if errors.As(optErr, &skipErr) {
		if err := r.backups.Discard(rec); err != nil {
			log.Warn("discarding backup", "error", err)
		}
		skip(task, skipErr.Reason)
		return nil
	}

	after, statErr := os.Stat(task.Path)
	if optErr == nil && statErr != nil {
		optErr = fmt.Errorf("optimized file missing: %w", statErr)
	}

	if optErr != nil {
		task.Outcome = types.OutcomeFailed
		task.Reason = optErr.Error()
		if rec != nil {
			if err := r.backups.Restore(rec); err != nil {
				log.Error("restoring after failure", "error", err)
			} else {
				task.Restored = statErr != nil || after.Size() != task.SizeBefore
			}
		} else if statErr == nil {
			task.SizeAfter = after.Size()
		}
		log.Warn("optimization failed", "tool", tool, "error", optErr)
		return nil
	}

	task.SizeAfter = after.Size()

	restored, err := r.backups.RestoreIfRegressed(rec, task.SizeBefore, task.SizeAfter)
	if err != nil {
		log.Error("resolving backup", "error", err)
	}

	if restored {
		task.Restored = true
		task.SizeAfter = task.SizeBefore
	} else {
		if ownerErr == nil {
			_ = r.backups.Reapply(task.Path, owner)
		}
		if stamp, ok := r.filter.StampTime(); ok {
			if err := os.Chtimes(task.Path, stamp, stamp); err != nil {
				log.Warn("stamping modification time", "error", err)
			}
		}
	}

	if task.SizeAfter < task.SizeBefore {
		task.Outcome = types.OutcomeOptimized
	} else {
		task.Outcome = types.OutcomeNotOptimized
	}
	log.Debug("processed", "outcome", task.Outcome, "tool", tool, "before", task.SizeBefore, "after", task.SizeAfter)
	return nil
}

func skip(task *types.ImageTask, reason string) {
	task.Outcome = types.OutcomeSkipped
	task.Reason = reason
}

func (r *Runner) validate() error {
	info, err := os.Stat(r.rc.TargetDir)
	if err != nil {
		return fmt.Errorf("accessing target: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrTargetNotDir, r.rc.TargetDir)
	}
	if err := unix.Access(r.rc.TargetDir, unix.W_OK); err != nil {
		return fmt.Errorf("%w: %s", ErrTargetNotWritable, r.rc.TargetDir)
	}
	return nil
}

// skipDirs keeps the scratch directory out of discovery when it lives
// inside the target.
func (r *Runner) skipDirs() []string {
	rel, err := filepath.Rel(r.rc.TargetDir, r.rc.TmpDir)
	switch {
	case err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)):
		return nil
	case rel == ".":
		return []string{filepath.Join(r.rc.TmpDir, backup.DirName)}
	default:
		return []string{r.rc.TmpDir}
	}
}

func (r *Runner) writeStatus() {
	if err := WriteStatus(r.status, r.state); err != nil {
		r.log.Debug("writing status file", "path", r.status, "error", err)
	}
}

func (r *Runner) emit(e hooks.Event) {
	e.RunID = r.runID
	e.Target = r.rc.TargetDir
	e.Current = r.state.Current
	e.Total = r.state.FilesTotal
	e.BytesIn = r.state.BytesIn
	e.BytesOut = r.state.BytesOut
	e.BytesSaved = r.state.BytesSaved
	e.Optimized = r.state.FilesOptimized
	r.hooks.Emit(e)
}
