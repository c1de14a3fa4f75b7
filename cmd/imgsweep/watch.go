package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/cache"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/filter"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/lock"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/logging"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/manifest"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/runner"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Optimize images as they are added or changed",
	Long: `Watch a directory tree and optimize new or modified images once writes have
settled for the debounce period. Each batch takes the directory lock, so a
one-shot run on the same directory delays the batch until it finishes.

Stop watching with Ctrl+C.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var watchDebounce time.Duration

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watcher.DefaultDebounce, "quiet period before a batch is processed")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	v := viper.GetViper()
	applyNegatedFlags(cmd, v)

	s, err := settingsFromViper(v)
	if err != nil {
		return err
	}
	// Every batch is exactly the files that changed.
	s.flags.NewOnly = false
	s.period = filter.Period{}

	target, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	optimizer, err := buildOptimizer(ctx, s)
	if err != nil {
		return err
	}

	var opts []runner.Option
	if s.useCache {
		c, err := cache.Open(s.cfg.Cache.Path)
		if err != nil {
			logging.Get("cache").Warn("cache unavailable", "path", s.cfg.Cache.Path, "error", err)
		} else {
			defer func() { _ = c.Close() }()
			opts = append(opts, runner.WithCache(c))
		}
	}
	w := progressWriter(s.output)
	opts = append(opts, runner.WithOutput(w), runner.WithProgressBar(isTerminal(w)))

	wt, err := watcher.New(watcher.Options{
		Debounce: watchDebounce,
		SkipDirs: []string{s.cfg.TmpDir},
	})
	if err != nil {
		return err
	}
	defer func() { _ = wt.Close() }()

	if err := wt.Watch(target); err != nil {
		return err
	}
	printInfo("Watching %s (%d directories). Press Ctrl+C to stop.", target, len(wt.Watched()))

	err = wt.Run(ctx, func(ctx context.Context, paths []string) error {
		return processBatch(ctx, s, target, optimizer, opts, paths)
	})
	if errors.Is(err, context.Canceled) {
		printInfo("Stopped watching %s.", target)
		return nil
	}
	return err
}

// processBatch runs one watch batch with a fresh runner and records it.
// lock.ErrLocked is returned untouched so the watcher retries the batch.
func processBatch(ctx context.Context, s *runSettings, target string, optimizer runner.Optimizer, opts []runner.Option, paths []string) error {
	r, err := runner.New(s.runContext(target), optimizer, opts...)
	if err != nil {
		return err
	}

	summary, runErr := r.RunPaths(ctx, paths)
	if errors.Is(runErr, lock.ErrLocked) {
		printVerbose("%s is locked, batch of %d deferred", target, len(paths))
		return runErr
	}
	if summary != nil && summary.FilesTotal == 0 {
		return runErr
	}
	return finishRun(manifest.OpWatch, s, summary, runErr)
}
