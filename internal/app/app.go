// Package app wires the adapters and engines into the operations the CLI
// exposes.
package app

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/polykit/polykit/internal/adapters/cas"
	fsadapter "github.com/polykit/polykit/internal/adapters/fs"
	"github.com/polykit/polykit/internal/adapters/gitdiff"
	"github.com/polykit/polykit/internal/adapters/lang"
	"github.com/polykit/polykit/internal/adapters/remote"
	"github.com/polykit/polykit/internal/adapters/scanner"
	"github.com/polykit/polykit/internal/adapters/shell"
	"github.com/polykit/polykit/internal/core/domain"
	"github.com/polykit/polykit/internal/core/ports"
	"github.com/polykit/polykit/internal/engine/affected"
	"github.com/polykit/polykit/internal/engine/fingerprint"
	"github.com/polykit/polykit/internal/engine/release"
	"github.com/polykit/polykit/internal/engine/scheduler"
	"github.com/polykit/polykit/internal/ui/output"
)

// adapterFor resolves language adapters for the engines.
func adapterFor(l domain.Language) ports.LanguageAdapter { return lang.For(l) }

// Options carries the CLI flags that shape a run.
type Options struct {
	// UseScanCache enables the persisted scan snapshot.
	UseScanCache bool
	// RemoteURL overrides the workspace remote cache URL.
	RemoteURL string
	// RemoteReadOnly forces read-only remote access.
	RemoteReadOnly bool
	// NoRemote disables the remote cache entirely.
	NoRemote bool
}

// App is the application layer behind every CLI command.
type App struct {
	ws   *domain.Workspace
	log  ports.Logger
	sink *output.Sink
	opts Options
}

// New creates an App for one invocation.
func New(ws *domain.Workspace, log ports.Logger, sink *output.Sink, opts Options) *App {
	return &App{ws: ws, log: log, sink: sink, opts: opts}
}

// Workspace returns the effective workspace configuration.
func (a *App) Workspace() *domain.Workspace { return a.ws }

// Scan discovers the package set.
func (a *App) Scan(ctx context.Context) (*scanner.Result, error) {
	return scanner.New(a.ws, a.log, a.opts.UseScanCache).Scan(ctx)
}

// LoadGraph scans, validates, and builds the dependency graph. Validator
// diagnostics abort before anything runs.
func (a *App) LoadGraph(ctx context.Context) (*domain.DependencyGraph, *scanner.Result, error) {
	result, err := a.Scan(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, diag := range result.Diagnostics {
		a.log.Warn("package excluded from scan", "package", diag.Package, "reason", diag.Message)
	}

	// Graph construction first: unresolved dependencies and cycles get their
	// dedicated error shapes before the validator's broader sweep.
	graph, err := domain.NewDependencyGraph(result.Packages)
	if err != nil {
		return nil, nil, err
	}

	if diags := domain.Validate(result.Packages); len(diags) > 0 {
		msgs := make([]string, len(diags))
		for i, d := range diags {
			msgs[i] = d.String()
		}
		return nil, nil, &domain.ConfigError{Message: strings.Join(msgs, "; ")}
	}
	return graph, result, nil
}

// Validate returns the validator diagnostics without failing.
func (a *App) Validate(ctx context.Context) ([]domain.Diagnostic, error) {
	result, err := a.Scan(ctx)
	if err != nil {
		return nil, err
	}
	diags := append([]domain.Diagnostic(nil), result.Diagnostics...)
	diags = append(diags, domain.Validate(result.Packages)...)
	return diags, nil
}

// remoteCache builds the remote client from workspace config plus flag
// overrides. Returns nil when no remote is configured or it is disabled.
func (a *App) remoteCache() ports.RemoteCache {
	if a.opts.NoRemote {
		return nil
	}
	url := ""
	readOnly := a.opts.RemoteReadOnly
	if a.ws.RemoteCache != nil {
		url = a.ws.RemoteCache.URL
		readOnly = readOnly || a.ws.RemoteCache.ReadOnly
	}
	if a.opts.RemoteURL != "" {
		url = a.opts.RemoteURL
	}
	if url == "" {
		return nil
	}
	return remote.NewClient(url, readOnly)
}

// RunOptions selects what RunTask executes.
type RunOptions struct {
	TaskName        string
	Selection       []string
	Parallelism     int
	ContinueOnError bool
}

// RunTask executes a task across the selection with caching.
func (a *App) RunTask(ctx context.Context, opts RunOptions) (*scheduler.RunReport, error) {
	graph, _, err := a.LoadGraph(ctx)
	if err != nil {
		return nil, err
	}

	store, err := cas.NewStore(filepath.Join(a.ws.Root, a.ws.CacheDir, "artifacts"))
	if err != nil {
		return nil, err
	}

	fp := fingerprint.New(graph, a.ws, fsadapter.NewHasher())
	executor := shell.NewExecutor(a.sink)

	if opts.Parallelism < 1 {
		opts.Parallelism = a.ws.DefaultParallel
	}

	sched := scheduler.New(graph, fp, store, a.remoteCache(), executor, a.sink, a.log, a.ws, adapterFor)
	return sched.Run(ctx, scheduler.Options{
		TaskName:        opts.TaskName,
		Selection:       opts.Selection,
		Parallelism:     opts.Parallelism,
		ContinueOnError: opts.ContinueOnError,
	})
}

// Affected computes the affected set from explicit paths.
func (a *App) Affected(ctx context.Context, paths []string) ([]string, error) {
	graph, _, err := a.LoadGraph(ctx)
	if err != nil {
		return nil, err
	}
	return affected.New(graph, a.ws).FromFiles(paths)
}

// AffectedFromGit computes the affected set from a git diff against base.
func (a *App) AffectedFromGit(ctx context.Context, base string) ([]string, error) {
	graph, _, err := a.LoadGraph(ctx)
	if err != nil {
		return nil, err
	}
	diff := &gitdiff.Provider{Root: a.ws.Root}
	return affected.New(graph, a.ws).FromDiff(ctx, diff, base)
}

// WhyResult answers the "why" query for a package.
type WhyResult struct {
	Package    string   `json:"package"`
	Deps       []string `json:"direct_deps"`
	Dependents []string `json:"direct_dependents"`
}

// Why returns the direct dependencies and dependents of a package.
func (a *App) Why(ctx context.Context, name string) (*WhyResult, error) {
	graph, _, err := a.LoadGraph(ctx)
	if err != nil {
		return nil, err
	}
	deps, err := graph.Dependencies(name)
	if err != nil {
		return nil, err
	}
	dependents, err := graph.Dependents(name)
	if err != nil {
		return nil, err
	}
	return &WhyResult{Package: name, Deps: deps, Dependents: dependents}, nil
}

// Release plans a version bump for target and applies it unless dryRun.
// It returns the plan and the names actually applied.
func (a *App) Release(ctx context.Context, target string, bump release.BumpType, dryRun bool) (*release.Plan, []string, error) {
	graph, _, err := a.LoadGraph(ctx)
	if err != nil {
		return nil, nil, err
	}
	planner := release.NewPlanner(graph, adapterFor)
	plan, err := planner.Plan(target, bump)
	if err != nil {
		return nil, nil, err
	}
	if dryRun {
		return plan, nil, nil
	}
	applied, err := planner.Apply(plan)
	return plan, applied, err
}

// Graph returns the dependency graph for display commands.
func (a *App) Graph(ctx context.Context) (*domain.DependencyGraph, error) {
	graph, _, err := a.LoadGraph(ctx)
	return graph, err
}
