package scheduler_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polykit/polykit/internal/adapters/cas"
	"github.com/polykit/polykit/internal/adapters/logger"
	"github.com/polykit/polykit/internal/core/domain"
	"github.com/polykit/polykit/internal/core/ports"
	"github.com/polykit/polykit/internal/engine/scheduler"
	"github.com/polykit/polykit/internal/ui/output"
)

// fakeExecutor records execution order and fails the configured vertices.
type fakeExecutor struct {
	mu       sync.Mutex
	executed []string
	failDirs map[string]int
}

func (f *fakeExecutor) Execute(_ context.Context, req ports.ExecRequest) (ports.ExecResult, error) {
	f.mu.Lock()
	f.executed = append(f.executed, strings.Trim(req.Prefix, "[] "))
	f.mu.Unlock()
	if code, ok := f.failDirs[req.Dir]; ok {
		return ports.ExecResult{ExitCode: code, Stderr: []byte("boom\n")}, nil
	}
	return ports.ExecResult{ExitCode: 0, Stdout: []byte("ok\n")}, nil
}

func (f *fakeExecutor) order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

// fakeFingerprinter hands out one stable synthetic key per vertex.
type fakeFingerprinter struct{}

func (fakeFingerprinter) Key(pkg *domain.Package, task domain.Task) (string, error) {
	sum := sha256.Sum256([]byte(pkg.Name + ":" + task.Name))
	return hex.EncodeToString(sum[:]), nil
}

func buildPkg(t *testing.T, name string, deps []string, tasks map[string]domain.Task) *domain.Package {
	t.Helper()
	return &domain.Package{
		Name:     name,
		Language: domain.LangGo,
		Dir:      t.TempDir(),
		Deps:     deps,
		Tasks:    tasks,
	}
}

func buildTasks(dependsOn ...string) map[string]domain.Task {
	return map[string]domain.Task{
		"build": {Name: "build", Command: "true", DependsOn: dependsOn},
	}
}

func newScheduler(t *testing.T, graph *domain.DependencyGraph, exec ports.Executor, store ports.ArtifactStore) *scheduler.Scheduler {
	t.Helper()
	ws := &domain.Workspace{Root: t.TempDir(), DefaultParallel: 4}
	ws.ApplyDefaults()
	return scheduler.New(
		graph, fakeFingerprinter{}, store, nil, exec,
		output.New(io.Discard, io.Discard), logger.NewWriter(io.Discard), ws, nil,
	)
}

func TestRun_DependencyOrder(t *testing.T) {
	// d depends on b and c; b and c depend on a.
	a := buildPkg(t, "a", nil, buildTasks())
	b := buildPkg(t, "b", []string{"a"}, buildTasks())
	c := buildPkg(t, "c", []string{"a"}, buildTasks())
	d := buildPkg(t, "d", []string{"b", "c"}, buildTasks())

	graph, err := domain.NewDependencyGraph([]*domain.Package{a, b, c, d})
	require.NoError(t, err)

	exec := &fakeExecutor{}
	report, err := newScheduler(t, graph, exec, nil).Run(context.Background(), scheduler.Options{
		TaskName: "build", Parallelism: 4,
	})
	require.NoError(t, err)
	assert.False(t, report.Failed)

	order := exec.order()
	require.Len(t, order, 4)
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos["a:build"], pos["b:build"])
	assert.Less(t, pos["a:build"], pos["c:build"])
	assert.Less(t, pos["b:build"], pos["d:build"])
	assert.Less(t, pos["c:build"], pos["d:build"])

	for _, r := range report.Results {
		assert.Equal(t, scheduler.StatusDone, r.Status)
	}
}

func TestRun_TaskLevelDependsOn(t *testing.T) {
	p := buildPkg(t, "p", nil, map[string]domain.Task{
		"codegen": {Name: "codegen", Command: "true"},
		"build":   {Name: "build", Command: "true", DependsOn: []string{"codegen"}},
	})
	graph, err := domain.NewDependencyGraph([]*domain.Package{p})
	require.NoError(t, err)

	exec := &fakeExecutor{}
	report, err := newScheduler(t, graph, exec, nil).Run(context.Background(), scheduler.Options{
		TaskName: "build", Parallelism: 2,
	})
	require.NoError(t, err)
	assert.False(t, report.Failed)
	assert.Equal(t, []string{"p:codegen", "p:build"}, exec.order())
}

func TestRun_ContinueOnError_SiblingsComplete(t *testing.T) {
	// b fails; c is independent of b and must still run; d depends on b
	// and must be skipped.
	a := buildPkg(t, "a", nil, buildTasks())
	b := buildPkg(t, "b", []string{"a"}, buildTasks())
	c := buildPkg(t, "c", []string{"a"}, buildTasks())
	d := buildPkg(t, "d", []string{"b"}, buildTasks())

	graph, err := domain.NewDependencyGraph([]*domain.Package{a, b, c, d})
	require.NoError(t, err)

	exec := &fakeExecutor{failDirs: map[string]int{b.Dir: 3}}
	report, err := newScheduler(t, graph, exec, nil).Run(context.Background(), scheduler.Options{
		TaskName: "build", Parallelism: 1, ContinueOnError: true,
	})
	require.NoError(t, err)
	assert.True(t, report.Failed)

	statuses := map[string]scheduler.VertexStatus{}
	exitCodes := map[string]int{}
	for _, r := range report.Results {
		statuses[r.Package] = r.Status
		exitCodes[r.Package] = r.ExitCode
	}
	assert.Equal(t, scheduler.StatusDone, statuses["a"])
	assert.Equal(t, scheduler.StatusFailed, statuses["b"])
	assert.Equal(t, 3, exitCodes["b"])
	assert.Equal(t, scheduler.StatusDone, statuses["c"])
	assert.Equal(t, scheduler.StatusSkipped, statuses["d"])
}

func TestRun_FailFastSkipsDescendants(t *testing.T) {
	a := buildPkg(t, "a", nil, buildTasks())
	b := buildPkg(t, "b", []string{"a"}, buildTasks())
	d := buildPkg(t, "d", []string{"b"}, buildTasks())

	graph, err := domain.NewDependencyGraph([]*domain.Package{a, b, d})
	require.NoError(t, err)

	exec := &fakeExecutor{failDirs: map[string]int{b.Dir: 1}}
	report, err := newScheduler(t, graph, exec, nil).Run(context.Background(), scheduler.Options{
		TaskName: "build", Parallelism: 2, ContinueOnError: false,
	})
	require.NoError(t, err)
	assert.True(t, report.Failed)

	statuses := map[string]scheduler.VertexStatus{}
	for _, r := range report.Results {
		statuses[r.Package] = r.Status
	}
	assert.Equal(t, scheduler.StatusFailed, statuses["b"])
	assert.Equal(t, scheduler.StatusSkipped, statuses["d"])
}

func TestRun_UnknownPackage(t *testing.T) {
	a := buildPkg(t, "a", nil, buildTasks())
	graph, err := domain.NewDependencyGraph([]*domain.Package{a})
	require.NoError(t, err)

	_, err = newScheduler(t, graph, &fakeExecutor{}, nil).Run(context.Background(), scheduler.Options{
		TaskName: "build", Selection: []string{"ghost"},
	})
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "Package not found: ghost. Available packages: a", err.Error())
}

func TestRun_DepWithoutTaskSkipsEdge(t *testing.T) {
	// a has no test task; b's test must not wait on it.
	a := buildPkg(t, "a", nil, buildTasks())
	b := buildPkg(t, "b", []string{"a"}, map[string]domain.Task{
		"test": {Name: "test", Command: "true"},
	})
	graph, err := domain.NewDependencyGraph([]*domain.Package{a, b})
	require.NoError(t, err)

	exec := &fakeExecutor{}
	report, err := newScheduler(t, graph, exec, nil).Run(context.Background(), scheduler.Options{
		TaskName: "test",
	})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "b", report.Results[0].Package)
	assert.Equal(t, scheduler.StatusDone, report.Results[0].Status)
}

func TestRun_CacheHitSkipsSubprocess(t *testing.T) {
	p := buildPkg(t, "p", nil, map[string]domain.Task{
		"build": {Name: "build", Command: "true", Outputs: []string{"dist"}},
	})
	graph, err := domain.NewDependencyGraph([]*domain.Package{p})
	require.NoError(t, err)

	key, err := fakeFingerprinter{}.Key(p, p.Tasks["build"])
	require.NoError(t, err)

	// Pre-populate the local store with an artifact for the vertex's key.
	store, err := cas.NewStore(t.TempDir())
	require.NoError(t, err)
	var buf bytes.Buffer
	_, err = cas.Pack(&buf, p.Dir, nil, cas.ArtifactInfo{Package: "p", Task: "build", CacheKey: key},
		[]byte("replayed\n"), nil)
	require.NoError(t, err)
	_, err = store.Put(key, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	exec := &fakeExecutor{}
	var sinkBuf bytes.Buffer
	ws := &domain.Workspace{Root: t.TempDir(), DefaultParallel: 2}
	ws.ApplyDefaults()
	sched := scheduler.New(
		graph, fakeFingerprinter{}, store, nil, exec,
		output.New(&sinkBuf, io.Discard), logger.NewWriter(io.Discard), ws, nil,
	)

	report, err := sched.Run(context.Background(), scheduler.Options{TaskName: "build"})
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	assert.Equal(t, scheduler.StatusCached, report.Results[0].Status)
	assert.Empty(t, exec.order(), "no subprocess may launch on a cache hit")
	assert.Contains(t, sinkBuf.String(), "[p:build] replayed")
	assert.InDelta(t, 1.0, report.Metrics.CacheHitRate(), 0.001)
}
