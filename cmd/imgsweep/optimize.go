package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/imgsweep/cmd/imgsweep/tui"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/cache"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/hooks"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/logging"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/manifest"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/output"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/remote"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/runner"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/tools"
)

func runOptimize(cmd *cobra.Command, args []string) error {
	v := viper.GetViper()
	applyNegatedFlags(cmd, v)

	s, err := settingsFromViper(v)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	optimizer, err := buildOptimizer(ctx, s)
	if err != nil {
		return err
	}

	registry := hooks.New()
	defer registry.Close()

	opts := []runner.Option{runner.WithHooks(registry)}

	if s.useCache {
		c, err := cache.Open(s.cfg.Cache.Path)
		if err != nil {
			// The cache only saves work; a run without it is still correct.
			logging.Get("cache").Warn("cache unavailable", "path", s.cfg.Cache.Path, "error", err)
			printVerbose("cache disabled: %v", err)
		} else {
			defer func() { _ = c.Close() }()
			opts = append(opts, runner.WithCache(c))
		}
	}

	if !s.tui {
		w := progressWriter(s.output)
		opts = append(opts, runner.WithOutput(w), runner.WithProgressBar(isTerminal(w)))
	}

	r, err := runner.New(s.runContext(args[0]), optimizer, opts...)
	if err != nil {
		return err
	}
	printVerbose("run %s: target=%s tmp=%s", r.RunID(), args[0], s.cfg.TmpDir)

	var (
		summary *runner.Summary
		runErr  error
	)
	if s.tui {
		summary, runErr = tui.Run(ctx, tui.Options{
			Target: args[0],
			Hooks:  registry,
			Run:    r.Run,
		})
	} else {
		summary, runErr = r.Run(ctx)
	}

	return finishRun(manifest.OpRun, s, summary, runErr)
}

// buildOptimizer returns the remote client when --remote is set, otherwise
// a selector over the locally installed compressors.
func buildOptimizer(ctx context.Context, s *runSettings) (runner.Optimizer, error) {
	if s.remote {
		timeout := time.Duration(s.cfg.Remote.Timeout) * time.Second
		if timeout <= 0 {
			timeout = remote.DefaultTimeout
		}
		client, err := remote.New(
			remote.WithEndpoint(s.cfg.Remote.Endpoint),
			remote.WithQuality(s.cfg.Remote.Quality),
			remote.WithExif(s.cfg.Remote.Exif),
			remote.WithMaxSize(s.remoteMaxSize),
			remote.WithHTTPClient(&http.Client{Timeout: timeout}),
		)
		if err != nil {
			return nil, err
		}
		printVerbose("using remote optimizer %s (quality %d)", s.cfg.Remote.Endpoint, s.cfg.Remote.Quality)
		return client, nil
	}

	sel := tools.NewSelector(ctx, tools.NewExecRunner(), tools.WithTmpDir(s.cfg.TmpDir))
	printVerbose("local tools:\n%s", sel.Capabilities())
	return sel, nil
}

// finishRun records the run in history and prints its summary. The run
// error is returned so the process exits 1 after an interrupt.
func finishRun(op manifest.OperationType, s *runSettings, summary *runner.Summary, runErr error) error {
	if summary == nil {
		return runErr
	}

	entry := manifest.FromSummary(op, summary, runErr)
	if s.cfg.History.Enabled {
		if err := recordHistory(s, entry); err != nil {
			logging.Get("manifest").Warn("failed to record run", "error", err)
			printVerbose("history not recorded: %v", err)
		}
	}

	if err := printResult(os.Stdout, s, output.FromEntry(entry)); err != nil {
		if runErr != nil {
			return runErr
		}
		return err
	}
	return runErr
}

func recordHistory(s *runSettings, entry *manifest.Entry) error {
	m, err := manifest.New(s.cfg.History.Path)
	if err != nil {
		return err
	}
	return m.Record(entry)
}

// printResult writes r in the configured format. Quiet suppresses the
// human formats only; a machine format was asked for explicitly.
func printResult(w io.Writer, s *runSettings, r *output.Result) error {
	if s.flags.Quiet && isHumanFormat(s.output) {
		return nil
	}

	formatter, err := newFormatter(s.output, s.template)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := formatter.Format(&buf, r); err != nil {
		return fmt.Errorf("formatting output: %w", err)
	}
	_, err = w.Write(buf.Bytes())
	return err
}

// newFormatter looks up name, applying tmpl to the template formatter.
func newFormatter(name, tmpl string) (output.Formatter, error) {
	formatter, err := output.Get(name)
	if err != nil {
		return nil, err
	}
	if tf, ok := formatter.(*output.TemplateFormatter); ok && tmpl != "" {
		tf.SetTemplate(tmpl)
	}
	return formatter, nil
}

func isHumanFormat(name string) bool {
	return name == "pretty" || name == "plain"
}

// progressWriter keeps stdout clean for machine formats by moving per-file
// lines and the progress bar to stderr.
func progressWriter(format string) *os.File {
	if isHumanFormat(format) {
		return os.Stdout
	}
	return os.Stderr
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
