// Package affected maps changed file paths to packages and computes the
// affected closure over the dependency graph.
package affected

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/polykit/polykit/internal/core/domain"
	"github.com/polykit/polykit/internal/core/ports"
)

// Detector resolves changed paths against the workspace package set.
type Detector struct {
	graph *domain.DependencyGraph
	ws    *domain.Workspace
}

// New creates a Detector.
func New(graph *domain.DependencyGraph, ws *domain.Workspace) *Detector {
	return &Detector{graph: graph, ws: ws}
}

// FromFiles returns the affected set seeded by the owning packages of the
// given paths. Files outside any package are ignored.
func (d *Detector) FromFiles(paths []string) ([]string, error) {
	seeds := make(map[string]struct{})
	for _, path := range paths {
		if name, ok := d.owningPackage(path); ok {
			seeds[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seeds))
	for name := range seeds {
		names = append(names, name)
	}
	sort.Strings(names)
	return d.graph.Affected(names)
}

// FromDiff returns the affected set for paths changed relative to base.
func (d *Detector) FromDiff(ctx context.Context, diff ports.DiffProvider, base string) ([]string, error) {
	files, err := diff.ChangedFiles(ctx, base)
	if err != nil {
		return nil, err
	}
	return d.FromFiles(files)
}

// owningPackage maps a path to its package by longest-prefix match against
// package directories. Relative paths are resolved against the workspace
// root.
func (d *Detector) owningPackage(path string) (string, bool) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(d.ws.Root, path)
	}
	path = filepath.Clean(path)

	var (
		best    string
		bestLen = -1
	)
	for _, name := range d.graph.Names() {
		pkg, _ := d.graph.Package(name)
		dir := filepath.Clean(pkg.Dir)
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			if len(dir) > bestLen {
				best = name
				bestLen = len(dir)
			}
		}
	}
	return best, bestLen >= 0
}
