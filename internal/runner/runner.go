// Package runner executes one check command with a bounded timeout.
//
// Commands are argument vectors spawned directly; the runner never hands a
// string to a shell for re-interpretation. Timeout expiry terminates the
// whole process group, not just the immediate child.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/andyan77/diyu-agent-sub001/internal/manifest"
)

// CheckStatus classifies the outcome of one executed check.
type CheckStatus string

const (
	StatusPass CheckStatus = "pass"
	StatusFail CheckStatus = "fail"
	StatusSkip CheckStatus = "skip"
)

// Failure reasons. Timeout is distinguishable from a non-zero exit so
// operators can tell "broke" from "too slow".
const (
	ReasonExit    = "nonzero-exit"
	ReasonTimeout = "timeout"
	ReasonSpawn   = "spawn-error"
)

// Result is the outcome of one check execution.
type Result struct {
	// Description echoes the check's label.
	Description string

	Status CheckStatus

	// Reason is set only on failure: ReasonExit, ReasonTimeout or ReasonSpawn.
	Reason string

	// ExitCode is nil when the process never produced one (timeout, spawn
	// failure).
	ExitCode *int

	Duration time.Duration

	// Output is the combined stdout+stderr excerpt, bounded by the runner's
	// excerpt limit. Full logs are not the runner's responsibility.
	Output string
}

// DefaultExcerptLimit bounds captured output so evidence files stay small.
const DefaultExcerptLimit = 1000

// Runner executes checks sequentially in a fixed working directory.
type Runner struct {
	// WorkDir is the directory checks execute in. Empty means the process
	// current directory.
	WorkDir string

	// ExcerptLimit bounds Result.Output in bytes; zero means
	// DefaultExcerptLimit.
	ExcerptLimit int
}

// Run executes the check and waits for exit or timeout, whichever first.
//
// Timeout is fatal for the check: the process group is killed, the result is
// a failure with ReasonTimeout, and nothing is retried at this layer. A
// command that cannot be spawned at all is likewise recorded as a failed
// check (ReasonSpawn) rather than an engine error, so sibling checks still
// run and the node's evidence set stays complete.
func (r *Runner) Run(ctx context.Context, check manifest.Check, timeout time.Duration) (*Result, error) {
	if len(check.Command) == 0 {
		return nil, errors.New("check command is empty")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %v", timeout)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	res := &Result{Description: check.Description}
	start := time.Now()

	cmd := exec.Command(check.Command[0], check.Command[1:]...)
	cmd.Dir = r.WorkDir

	// One buffer for both streams: evidence wants interleaved output, and the
	// excerpt bound applies to the combination.
	var output lockedBuffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	// Own process group so the whole tree dies on timeout.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		res.Status = StatusFail
		res.Reason = ReasonSpawn
		res.Duration = time.Since(start)
		res.Output = r.excerpt([]byte(err.Error()))
		return res, nil
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var waitErr error
	select {
	case <-ctx.Done():
		killGroup(cmd)
		<-done
		return nil, fmt.Errorf("execution cancelled: %w", ctx.Err())
	case <-timer.C:
		killGroup(cmd)
		<-done
		res.Status = StatusFail
		res.Reason = ReasonTimeout
		res.Duration = time.Since(start)
		res.Output = r.excerpt(output.Bytes())
		return res, nil
	case waitErr = <-done:
	}

	res.Duration = time.Since(start)
	res.Output = r.excerpt(output.Bytes())

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("waiting for command: %w", waitErr)
		}
		exitCode = exitErr.ExitCode()
	}
	res.ExitCode = &exitCode
	if exitCode == 0 {
		res.Status = StatusPass
	} else {
		res.Status = StatusFail
		res.Reason = ReasonExit
	}
	return res, nil
}

// excerpt keeps the tail of the output: on failure the end of the stream is
// where the diagnostics live.
func (r *Runner) excerpt(b []byte) string {
	limit := r.ExcerptLimit
	if limit <= 0 {
		limit = DefaultExcerptLimit
	}
	if len(b) <= limit {
		return string(b)
	}
	return "[...truncated...]" + string(b[len(b)-limit:])
}

func killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	// Negative PID addresses the process group.
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

// lockedBuffer serializes writes from the child's stdout and stderr pipes.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Bytes()
}
