package shell_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polykit/polykit/internal/adapters/shell"
	"github.com/polykit/polykit/internal/core/ports"
	"github.com/polykit/polykit/internal/ui/output"
)

func TestExecute_StreamsAndCaptures(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exec := shell.NewExecutor(output.New(&stdout, &stderr))

	result, err := exec.Execute(context.Background(), ports.ExecRequest{
		Dir:     t.TempDir(),
		Command: "echo one; echo two >&2",
		Prefix:  "[pkg:build] ",
	})
	require.NoError(t, err)

	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "one\n", string(result.Stdout))
	assert.Equal(t, "two\n", string(result.Stderr))
	assert.Equal(t, "[pkg:build] one\n", stdout.String())
	assert.Equal(t, "[pkg:build] two\n", stderr.String())
}

func TestExecute_NonzeroExit(t *testing.T) {
	exec := shell.NewExecutor(output.New(&bytes.Buffer{}, &bytes.Buffer{}))

	result, err := exec.Execute(context.Background(), ports.ExecRequest{
		Dir:     t.TempDir(),
		Command: "exit 7",
	})
	require.NoError(t, err, "a nonzero exit is a result, not an error")
	assert.Equal(t, 7, result.ExitCode)
}

func TestExecute_RunsInDir(t *testing.T) {
	dir := t.TempDir()
	var stdout bytes.Buffer
	exec := shell.NewExecutor(output.New(&stdout, &bytes.Buffer{}))

	result, err := exec.Execute(context.Background(), ports.ExecRequest{
		Dir:     dir,
		Command: "pwd",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, string(result.Stdout), dir)
}

func TestExecute_CancellationTerminates(t *testing.T) {
	exec := shell.NewExecutor(output.New(&bytes.Buffer{}, &bytes.Buffer{}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result, err := exec.Execute(ctx, ports.ExecRequest{
		Dir:     t.TempDir(),
		Command: "sleep 30",
	})
	require.NoError(t, err)
	assert.NotEqual(t, 0, result.ExitCode)
	assert.Less(t, time.Since(start), 10*time.Second)
}
