// Package shell provides the shell executor adapter.
package shell

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.trai.ch/zerr"

	"github.com/polykit/polykit/internal/core/ports"
	"github.com/polykit/polykit/internal/ui/output"
)

// termGrace is how long a cancelled subprocess gets between SIGTERM and
// SIGKILL.
const termGrace = 5 * time.Second

// Executor implements ports.Executor using os/exec. Commands run through
// `sh -c` with cwd set to the package directory; stdout and stderr are
// line-buffered into the aggregated sink and captured for artifact replay.
type Executor struct {
	sink *output.Sink
}

var _ ports.Executor = (*Executor)(nil)

// NewExecutor creates an Executor streaming to the given sink.
func NewExecutor(sink *output.Sink) *Executor {
	return &Executor{sink: sink}
}

// Execute runs the request's command. A nonzero exit is reported in the
// result; the error covers spawn failures only.
func (e *Executor) Execute(ctx context.Context, req ports.ExecRequest) (ports.ExecResult, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", req.Command) //nolint:gosec // manifest-declared command
	cmd.Dir = req.Dir
	cmd.Env = req.Env

	// On cancellation: SIGTERM to the task's process group first, SIGKILL
	// after the grace period, so children forked by sh are stopped too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		pgid := -cmd.Process.Pid
		time.AfterFunc(termGrace, func() { _ = syscall.Kill(pgid, syscall.SIGKILL) })
		return syscall.Kill(pgid, syscall.SIGTERM)
	}
	cmd.WaitDelay = termGrace

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return ports.ExecResult{}, zerr.Wrap(err, "failed to open stdout pipe")
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return ports.ExecResult{}, zerr.Wrap(err, "failed to open stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return ports.ExecResult{}, zerr.With(zerr.Wrap(err, "failed to spawn task"), "command", req.Command)
	}

	var (
		wg     sync.WaitGroup
		stdout bytes.Buffer
		stderr bytes.Buffer
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.stream(req.Prefix, stdoutPipe, &stdout, false)
	}()
	go func() {
		defer wg.Done()
		e.stream(req.Prefix, stderrPipe, &stderr, true)
	}()
	wg.Wait()

	err = cmd.Wait()
	result := ports.ExecResult{
		ExitCode: 0,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		result.ExitCode = -1
		return result, nil
	}
	return result, nil
}

// stream reads whole lines, forwarding each to the sink and the capture
// buffer.
func (e *Executor) stream(prefix string, r io.Reader, buf *bytes.Buffer, isStderr bool) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		e.sink.Line(prefix, line, isStderr)
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
}
