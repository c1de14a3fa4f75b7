// Package toolstest provides a scripted tools.Runner and helpers for
// installing fake compressor binaries in tests.
package toolstest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/tools"
)

// Handler scripts the result of one command.
type Handler func(cmd tools.Command) ([]byte, error)

// Runner records every command and answers with Handler. A nil Handler
// succeeds with no output.
type Runner struct {
	mu      sync.Mutex
	calls   []tools.Command
	Handler Handler
}

// Run implements tools.Runner.
func (r *Runner) Run(ctx context.Context, cmd tools.Command) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	h := r.Handler
	r.mu.Unlock()

	if h == nil {
		return nil, nil
	}
	return h(cmd)
}

// Calls returns a copy of the recorded commands.
func (r *Runner) Calls() []tools.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]tools.Command(nil), r.calls...)
}

// Binaries returns the base names of the recorded commands, in order.
func (r *Runner) Binaries() []string {
	calls := r.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = filepath.Base(c.Path)
	}
	return out
}

// Install creates empty executable files named after each binary in dir.
func Install(t testing.TB, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
			t.Fatalf("install %s: %v", name, err)
		}
	}
}

// Truncate resizes path to size bytes, standing in for a compressor that
// rewrites the file.
func Truncate(path string, size int64) error {
	return os.Truncate(path, size)
}

// LastArg returns the final argument of cmd, usually the target file.
func LastArg(cmd tools.Command) string {
	if len(cmd.Args) == 0 {
		return ""
	}
	return cmd.Args[len(cmd.Args)-1]
}
