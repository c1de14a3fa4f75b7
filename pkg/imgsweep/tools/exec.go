package tools

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a single compressor invocation. pngcrush -brute on
// a large image is the slow case.
const DefaultTimeout = 10 * time.Minute

// Command is one subprocess invocation.
type Command struct {
	// Path is the absolute path of the binary.
	Path string

	Args []string

	// Dir is the working directory. Empty means the current directory.
	Dir string
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// Runner executes subprocesses and returns their combined output.
type Runner interface {
	Run(ctx context.Context, cmd Command) ([]byte, error)
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Cmd    string
	Code   int
	Output string
}

func (e *ExitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s exited with status %d", e.Cmd, e.Code)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Cmd, e.Code, e.Output)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	Timeout time.Duration
}

// NewExecRunner returns a runner using DefaultTimeout.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{Timeout: DefaultTimeout}
}

// Run executes cmd, killing it when ctx is cancelled or the timeout elapses.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) ([]byte, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir

	out, err := c.CombinedOutput()
	if err == nil {
		return out, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, fmt.Errorf("%s: %w", cmd.Path, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out, &ExitError{
			Cmd:    cmd.Path,
			Code:   exitErr.ExitCode(),
			Output: strings.TrimSpace(string(out)),
		}
	}
	return out, fmt.Errorf("running %s: %w", cmd.Path, err)
}
