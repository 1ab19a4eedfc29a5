// Package scheduler implements the dependency-respecting task execution
// engine.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/polykit/polykit/internal/core/domain"
	"github.com/polykit/polykit/internal/core/ports"
	"github.com/polykit/polykit/internal/ui/output"
)

// VertexStatus is the state of one (package, task) vertex.
type VertexStatus string

const (
	StatusPending VertexStatus = "Pending"
	StatusRunning VertexStatus = "Running"
	StatusDone    VertexStatus = "Done"
	StatusCached  VertexStatus = "Cached"
	StatusFailed  VertexStatus = "Failed"
	StatusSkipped VertexStatus = "Skipped"
)

// vertex is one schedulable (package, task) pair.
type vertex struct {
	id   string
	pkg  *domain.Package
	task domain.Task
}

func vertexID(pkg, task string) string { return pkg + ":" + task }

// Options selects what to run and how.
type Options struct {
	// TaskName is the task to run across the selection.
	TaskName string
	// Selection is the explicit package list; empty means every package
	// defining TaskName.
	Selection       []string
	Parallelism     int
	ContinueOnError bool
}

// VertexResult describes one finished vertex.
type VertexResult struct {
	Package  string       `json:"package"`
	Task     string       `json:"task"`
	Status   VertexStatus `json:"status"`
	ExitCode int          `json:"exit_code,omitempty"`
	Duration float64      `json:"duration_seconds"`
}

// RunReport is the aggregate outcome of a run.
type RunReport struct {
	Results []VertexResult           `json:"results"`
	Metrics *domain.ExecutionMetrics `json:"-"`
	// Failed is true when any vertex failed.
	Failed bool `json:"failed"`
}

// Fingerprinter computes the cache key for a vertex.
type Fingerprinter interface {
	Key(pkg *domain.Package, task domain.Task) (string, error)
}

// Scheduler executes the vertex DAG with bounded parallelism.
type Scheduler struct {
	graph    *domain.DependencyGraph
	fp       Fingerprinter
	cache    *artifactCache
	executor ports.Executor
	sink     *output.Sink
	log      ports.Logger
	ws       *domain.Workspace
	adapters func(domain.Language) ports.LanguageAdapter
}

// New creates a Scheduler. store and remote may be nil to disable the
// corresponding cache layer. adapters resolves the language adapter used for
// default output paths.
func New(
	graph *domain.DependencyGraph,
	fp Fingerprinter,
	store ports.ArtifactStore,
	remote ports.RemoteCache,
	executor ports.Executor,
	sink *output.Sink,
	log ports.Logger,
	ws *domain.Workspace,
	adapters func(domain.Language) ports.LanguageAdapter,
) *Scheduler {
	maxSize := int64(domain.DefaultMaxArtifactSize)
	if ws.RemoteCache != nil {
		maxSize = ws.RemoteCache.MaxArtifactSize
	}
	return &Scheduler{
		graph:    graph,
		fp:       fp,
		cache:    &artifactCache{store: store, remote: remote, log: log, maxSize: maxSize},
		executor: executor,
		sink:     sink,
		log:      log,
		ws:       ws,
		adapters: adapters,
	}
}

// buildDAG expands the selection into the vertex set and its edges. Each
// (package, t) vertex depends on (package, u) for every task-level
// dependency u, and on (dep, t) for every internal dependency that also
// defines t.
func (s *Scheduler) buildDAG(opts Options) (map[string]*vertex, map[string][]string, error) {
	vertices := make(map[string]*vertex)
	// successors[v] lists vertices unblocked by v's completion.
	successors := make(map[string][]string)

	var roots []*domain.Package
	if len(opts.Selection) == 0 {
		for _, name := range s.graph.Names() {
			pkg, _ := s.graph.Package(name)
			if _, ok := pkg.Task(opts.TaskName); ok {
				roots = append(roots, pkg)
			}
		}
	} else {
		for _, name := range opts.Selection {
			pkg, ok := s.graph.Package(name)
			if !ok {
				return nil, nil, &domain.NotFoundError{Name: name, Available: s.graph.Names()}
			}
			if _, ok := pkg.Task(opts.TaskName); !ok {
				return nil, nil, &domain.ConfigError{Message: fmt.Sprintf(
					"task %q not found in package %q. Available tasks: %v",
					opts.TaskName, name, pkg.TaskNames())}
			}
			roots = append(roots, pkg)
		}
	}

	var add func(pkg *domain.Package, taskName string) error
	add = func(pkg *domain.Package, taskName string) error {
		id := vertexID(pkg.Name, taskName)
		if _, ok := vertices[id]; ok {
			return nil
		}
		task, ok := pkg.Task(taskName)
		if !ok {
			return nil
		}
		vertices[id] = &vertex{id: id, pkg: pkg, task: task}

		for _, dep := range task.DependsOn {
			if _, ok := pkg.Task(dep); !ok {
				continue // caught by the validator
			}
			if err := add(pkg, dep); err != nil {
				return err
			}
			successors[vertexID(pkg.Name, dep)] = append(successors[vertexID(pkg.Name, dep)], id)
		}
		for _, depName := range pkg.Deps {
			dep, ok := s.graph.Package(depName)
			if !ok {
				return &domain.NotFoundError{Name: depName, Available: s.graph.Names()}
			}
			if _, ok := dep.Task(taskName); !ok {
				continue // edge skipped when the dep does not define the task
			}
			if err := add(dep, taskName); err != nil {
				return err
			}
			successors[vertexID(depName, taskName)] = append(successors[vertexID(depName, taskName)], id)
		}
		return nil
	}

	for _, pkg := range roots {
		if err := add(pkg, opts.TaskName); err != nil {
			return nil, nil, err
		}
	}
	return vertices, successors, nil
}

// runState tracks one run. The vertex state machine and in-flight counters
// share a single mutex; results arrive over a channel.
type runState struct {
	s          *Scheduler
	vertices   map[string]*vertex
	successors map[string][]string

	mu        sync.Mutex
	status    map[string]VertexStatus
	exitCodes map[string]int
	indegree  map[string]int
	ready     []string
	active    int
	finished  int

	resultsCh chan vertexOutcome
	metrics   *domain.ExecutionMetrics

	cancel   context.CancelFunc
	canceled bool
}

type vertexOutcome struct {
	id       string
	status   VertexStatus
	exitCode int
	duration time.Duration
}

// Run executes the DAG. The returned error is non-nil only for configuration
// failures; task failures are reported in the RunReport.
func (s *Scheduler) Run(ctx context.Context, opts Options) (*RunReport, error) {
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}

	vertices, successors, err := s.buildDAG(opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	state := &runState{
		s:          s,
		vertices:   vertices,
		successors: successors,
		status:     make(map[string]VertexStatus, len(vertices)),
		exitCodes:  make(map[string]int, len(vertices)),
		indegree:   make(map[string]int, len(vertices)),
		resultsCh:  make(chan vertexOutcome, opts.Parallelism),
		metrics:    domain.NewExecutionMetrics(),
		cancel:     cancel,
	}

	s.cache.metrics = state.metrics

	for id := range vertices {
		state.status[id] = StatusPending
	}
	for _, succs := range successors {
		for _, succ := range succs {
			state.indegree[succ]++
		}
	}
	for id := range vertices {
		if state.indegree[id] == 0 {
			state.insertReady(id)
		}
	}

	start := time.Now()
	// done is nil-ed after the first cancellation so the loop blocks on
	// results instead of spinning.
	done := ctx.Done()
	for state.finished < len(vertices) {
		state.schedule(ctx, opts)

		if state.finished >= len(vertices) {
			break
		}
		if state.idle() {
			// Cancellation drained the queue; everything left is skipped.
			state.skipRemaining()
			break
		}

		select {
		case res := <-state.resultsCh:
			state.handleOutcome(res, opts)
		case <-done:
			state.mu.Lock()
			state.canceled = true
			state.mu.Unlock()
			done = nil
		}
	}
	state.metrics.TotalDuration = time.Since(start)

	report := &RunReport{Metrics: state.metrics}
	ids := make([]string, 0, len(vertices))
	for id := range vertices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		v := vertices[id]
		vr := VertexResult{
			Package:  v.pkg.Name,
			Task:     v.task.Name,
			Status:   state.status[id],
			ExitCode: state.exitCodes[id],
		}
		if d, ok := state.metrics.Durations[id]; ok {
			vr.Duration = d.Seconds()
		}
		if state.status[id] == StatusFailed {
			report.Failed = true
		}
		report.Results = append(report.Results, vr)
	}
	return report, nil
}

func (st *runState) idle() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.active == 0 && len(st.ready) == 0
}

// insertReady keeps the ready queue sorted by (package, task) ascending so
// dispatch order is deterministic.
func (st *runState) insertReady(id string) {
	v := st.vertices[id]
	i := sort.Search(len(st.ready), func(j int) bool {
		r := st.vertices[st.ready[j]]
		if r.pkg.Name != v.pkg.Name {
			return r.pkg.Name > v.pkg.Name
		}
		return r.task.Name >= v.task.Name
	})
	st.ready = append(st.ready, "")
	copy(st.ready[i+1:], st.ready[i:])
	st.ready[i] = id
}

func (st *runState) schedule(ctx context.Context, opts Options) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.canceled {
		// Drain the ready queue; nothing new starts after cancellation.
		for _, id := range st.ready {
			st.status[id] = StatusSkipped
			st.metrics.RecordVertex(id, 0, string(StatusSkipped))
			st.finished++
		}
		st.ready = nil
		return
	}

	for len(st.ready) > 0 && st.active < opts.Parallelism {
		id := st.ready[0]
		st.ready = st.ready[1:]
		st.active++
		st.status[id] = StatusRunning

		v := st.vertices[id]
		go func() {
			st.resultsCh <- st.s.executeVertex(ctx, v)
		}()
	}
}

func (st *runState) handleOutcome(res vertexOutcome, opts Options) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.active--
	st.finished++
	st.status[res.id] = res.status
	st.exitCodes[res.id] = res.exitCode
	st.metrics.RecordVertex(res.id, res.duration, string(res.status))

	switch res.status {
	case StatusFailed:
		// Descendants of a failed vertex can never run; their inputs are
		// invalid in both failure modes.
		st.skipDescendants(res.id)
		if !opts.ContinueOnError {
			st.canceled = true
			st.cancel()
		}
	default:
		for _, succ := range st.successors[res.id] {
			st.indegree[succ]--
			if st.indegree[succ] == 0 && st.status[succ] == StatusPending {
				st.insertReady(succ)
			}
		}
	}
}

// skipDescendants marks every transitive successor of id as Skipped.
// Caller holds the mutex.
func (st *runState) skipDescendants(id string) {
	queue := append([]string(nil), st.successors[id]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if st.status[next] != StatusPending {
			continue
		}
		st.status[next] = StatusSkipped
		st.metrics.RecordVertex(next, 0, string(StatusSkipped))
		st.finished++
		queue = append(queue, st.successors[next]...)
	}
}

// skipRemaining marks everything still pending as Skipped after the run loop
// exits early. Caller does not hold the mutex.
func (st *runState) skipRemaining() {
	st.mu.Lock()
	defer st.mu.Unlock()
	for id, status := range st.status {
		if status == StatusPending || status == StatusRunning {
			st.status[id] = StatusSkipped
			st.metrics.RecordVertex(id, 0, string(StatusSkipped))
			st.finished++
		}
	}
	st.ready = nil
}

// executeVertex runs one vertex: fingerprint, cache restore, spawn, store.
func (s *Scheduler) executeVertex(ctx context.Context, v *vertex) vertexOutcome {
	start := time.Now()
	prefix := "[" + v.pkg.Name + ":" + v.task.Name + "] "

	key, err := s.fp.Key(v.pkg, v.task)
	if err != nil {
		s.log.Error("fingerprint failed", "vertex", v.id, "error", err)
		return vertexOutcome{id: v.id, status: StatusFailed, exitCode: -1, duration: time.Since(start)}
	}

	if unpacked, ok := s.cache.restore(ctx, key, v.pkg.Dir); ok {
		s.replay(prefix, unpacked)
		return vertexOutcome{id: v.id, status: StatusCached, duration: time.Since(start)}
	}

	result, err := s.executor.Execute(ctx, ports.ExecRequest{
		Dir:     v.pkg.Dir,
		Command: v.task.Command,
		Env:     os.Environ(),
		Prefix:  prefix,
	})
	if err != nil {
		s.log.Error("failed to spawn task", "vertex", v.id, "error", err)
		return vertexOutcome{id: v.id, status: StatusFailed, exitCode: -1, duration: time.Since(start)}
	}
	if result.ExitCode != 0 {
		return vertexOutcome{id: v.id, status: StatusFailed, exitCode: result.ExitCode, duration: time.Since(start)}
	}

	s.cache.save(ctx, key, v, s.outputsOf(v), result.Stdout, result.Stderr)
	return vertexOutcome{id: v.id, status: StatusDone, duration: time.Since(start)}
}

// replay re-emits the recorded output of a cached vertex.
func (s *Scheduler) replay(prefix string, unpacked *unpackedArtifact) {
	for _, line := range splitLines(unpacked.Stdout) {
		s.sink.Line(prefix, line, false)
	}
	for _, line := range splitLines(unpacked.Stderr) {
		s.sink.Line(prefix, line, true)
	}
}

// outputsOf resolves a vertex's declared outputs, falling back to the
// language adapter defaults.
func (s *Scheduler) outputsOf(v *vertex) []string {
	if len(v.task.Outputs) > 0 {
		return v.task.Outputs
	}
	if s.adapters == nil {
		return nil
	}
	return s.adapters(v.pkg.Language).DefaultOutputs()
}

func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	var lines []string
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, string(data[start:i]))
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, string(data[start:]))
	}
	return lines
}
