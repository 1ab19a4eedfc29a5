package domain

import (
	"sort"

	"github.com/cespare/xxhash/v2"
)

// DependencyGraph is a directed acyclic graph over package names. An edge
// u -> v means u depends on v. Adjacency lists are kept sorted ascending so
// every derived ordering is deterministic.
type DependencyGraph struct {
	packages map[string]*Package
	names    []string
	adj      map[string][]string
	radj     map[string][]string

	// order is the cached topological order, valid while orderKey matches
	// the adjacency hash.
	order    []string
	orderKey uint64
}

// NewDependencyGraph builds a graph from the given packages. It fails with
// *NotFoundError when a dependency does not resolve and with *CycleError when
// the graph is cyclic.
func NewDependencyGraph(packages []*Package) (*DependencyGraph, error) {
	g := &DependencyGraph{
		packages: make(map[string]*Package, len(packages)),
		adj:      make(map[string][]string, len(packages)),
		radj:     make(map[string][]string, len(packages)),
	}

	for _, p := range packages {
		g.packages[p.Name] = p
		g.names = append(g.names, p.Name)
	}
	sort.Strings(g.names)

	for _, name := range g.names {
		p := g.packages[name]
		deps := make([]string, 0, len(p.Deps))
		for _, dep := range p.Deps {
			if _, ok := g.packages[dep]; !ok {
				return nil, &NotFoundError{Name: dep, Available: g.names}
			}
			deps = append(deps, dep)
		}
		sort.Strings(deps)
		g.adj[name] = deps
		for _, dep := range deps {
			g.radj[dep] = append(g.radj[dep], name)
		}
	}
	for _, dependents := range g.radj {
		sort.Strings(dependents)
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &CycleError{Path: cycle}
	}

	return g, nil
}

// findCycle runs an iterative depth-first walk with three colors. It returns
// the cycle as an ordered path starting and ending at the same node, or nil.
func (g *DependencyGraph) findCycle() []string {
	const (
		unvisited = 0
		onStack   = 1
		done      = 2
	)
	color := make(map[string]int, len(g.names))

	type frame struct {
		node string
		next int
	}

	for _, start := range g.names {
		if color[start] != unvisited {
			continue
		}
		stack := []frame{{node: start}}
		color[start] = onStack
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := g.adj[top.node]
			if top.next < len(deps) {
				dep := deps[top.next]
				top.next++
				switch color[dep] {
				case onStack:
					// Back edge: the cycle is the stack suffix from dep.
					var path []string
					for i := range stack {
						if stack[i].node == dep {
							for _, f := range stack[i:] {
								path = append(path, f.node)
							}
							break
						}
					}
					return append(path, dep)
				case unvisited:
					color[dep] = onStack
					stack = append(stack, frame{node: dep})
				}
				continue
			}
			color[top.node] = done
			stack = stack[:len(stack)-1]
		}
	}
	return nil
}

// AdjacencyHash hashes the sorted adjacency representation. It keys the
// cached topological order.
func (g *DependencyGraph) AdjacencyHash() uint64 {
	h := xxhash.New()
	for _, name := range g.names {
		_, _ = h.WriteString(name)
		_, _ = h.Write([]byte{0})
		for _, dep := range g.adj[name] {
			_, _ = h.WriteString(dep)
			_, _ = h.Write([]byte{0})
		}
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// TopologicalOrder returns package names ordered dependencies-first, ties
// broken by name ascending. The order is cached keyed by the adjacency hash.
func (g *DependencyGraph) TopologicalOrder() []string {
	key := g.AdjacencyHash()
	if g.order != nil && g.orderKey == key {
		return g.order
	}

	indegree := make(map[string]int, len(g.names))
	for _, name := range g.names {
		indegree[name] = len(g.adj[name])
	}

	// ready is kept sorted; names are inserted in order and popped from the
	// front, which is Kahn's algorithm with name-ascending tie-breaking.
	var ready []string
	for _, name := range g.names {
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	order := make([]string, 0, len(g.names))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		for _, dependent := range g.radj[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				i := sort.SearchStrings(ready, dependent)
				ready = append(ready, "")
				copy(ready[i+1:], ready[i:])
				ready[i] = dependent
			}
		}
	}

	g.order = order
	g.orderKey = key
	return order
}

// Package returns the named package.
func (g *DependencyGraph) Package(name string) (*Package, bool) {
	p, ok := g.packages[name]
	return p, ok
}

// Names returns all package names sorted ascending.
func (g *DependencyGraph) Names() []string { return g.names }

// Len returns the number of packages.
func (g *DependencyGraph) Len() int { return len(g.names) }

// Dependencies returns the direct dependencies of a package, sorted.
func (g *DependencyGraph) Dependencies(name string) ([]string, error) {
	if _, ok := g.packages[name]; !ok {
		return nil, &NotFoundError{Name: name, Available: g.names}
	}
	return g.adj[name], nil
}

// Dependents returns the direct dependents of a package, sorted.
func (g *DependencyGraph) Dependents(name string) ([]string, error) {
	if _, ok := g.packages[name]; !ok {
		return nil, &NotFoundError{Name: name, Available: g.names}
	}
	return g.radj[name], nil
}

// TransitiveDependents returns every package that depends on name, directly
// or indirectly, excluding name itself.
func (g *DependencyGraph) TransitiveDependents(name string) ([]string, error) {
	if _, ok := g.packages[name]; !ok {
		return nil, &NotFoundError{Name: name, Available: g.names}
	}
	seen := map[string]struct{}{name: {}}
	queue := []string{name}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, dep := range g.radj[current] {
			if _, ok := seen[dep]; ok {
				continue
			}
			seen[dep] = struct{}{}
			queue = append(queue, dep)
		}
	}
	delete(seen, name)
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

// Affected returns the seeds plus every transitive dependent of any seed,
// sorted ascending.
func (g *DependencyGraph) Affected(seeds []string) ([]string, error) {
	result := make(map[string]struct{}, len(seeds))
	for _, seed := range seeds {
		if _, ok := g.packages[seed]; !ok {
			return nil, &NotFoundError{Name: seed, Available: g.names}
		}
		result[seed] = struct{}{}
		dependents, err := g.TransitiveDependents(seed)
		if err != nil {
			return nil, err
		}
		for _, d := range dependents {
			result[d] = struct{}{}
		}
	}
	out := make([]string, 0, len(result))
	for n := range result {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}
