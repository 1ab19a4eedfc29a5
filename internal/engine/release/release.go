// Package release plans and applies semantic-version bumps across a package
// and its dependents.
package release

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/polykit/polykit/internal/core/domain"
	"github.com/polykit/polykit/internal/core/ports"
)

// BumpType selects the semver component to increment.
type BumpType string

const (
	BumpMajor BumpType = "major"
	BumpMinor BumpType = "minor"
	BumpPatch BumpType = "patch"
)

// ParseBump parses a bump flag value.
func ParseBump(s string) (BumpType, bool) {
	switch BumpType(s) {
	case BumpMajor, BumpMinor, BumpPatch:
		return BumpType(s), true
	}
	return "", false
}

// Label returns the capitalized display form.
func (b BumpType) Label() string {
	switch b {
	case BumpMajor:
		return "Major"
	case BumpMinor:
		return "Minor"
	case BumpPatch:
		return "Patch"
	}
	return string(b)
}

// Entry is one planned version change. Old and New are nil for packages
// whose language carries no manifest version; those are skipped on apply.
type Entry struct {
	Name string   `json:"name"`
	Bump BumpType `json:"bump"`
	Old  *string  `json:"old"`
	New  *string  `json:"new"`
}

// String renders the entry the way the CLI prints it.
func (e Entry) String() string {
	if e.Old == nil || e.New == nil {
		return fmt.Sprintf("%s: None -> None (%s)", e.Name, e.Bump.Label())
	}
	return fmt.Sprintf("%s: Some(%q) -> %s (%s)", e.Name, *e.Old, *e.New, e.Bump.Label())
}

// Plan is the ordered set of version changes, dependencies first.
type Plan struct {
	Entries []Entry `json:"entries"`
}

// Planner computes and applies release plans.
type Planner struct {
	graph    *domain.DependencyGraph
	adapters func(domain.Language) ports.LanguageAdapter
}

// NewPlanner creates a Planner.
func NewPlanner(graph *domain.DependencyGraph, adapters func(domain.Language) ports.LanguageAdapter) *Planner {
	return &Planner{graph: graph, adapters: adapters}
}

// Plan bumps the target by bump and every transitive dependent by patch.
// Entries come out in topological order so intermediate states stay
// consistent during apply.
func (p *Planner) Plan(target string, bump BumpType) (*Plan, error) {
	if _, ok := p.graph.Package(target); !ok {
		return nil, &domain.NotFoundError{Name: target, Available: p.graph.Names()}
	}
	dependents, err := p.graph.TransitiveDependents(target)
	if err != nil {
		return nil, err
	}

	bumps := map[string]BumpType{target: bump}
	for _, name := range dependents {
		bumps[name] = BumpPatch
	}

	plan := &Plan{}
	for _, name := range p.graph.TopologicalOrder() {
		entryBump, ok := bumps[name]
		if !ok {
			continue
		}
		pkg, _ := p.graph.Package(name)
		entry := Entry{Name: name, Bump: entryBump}

		adapter := p.adapters(pkg.Language)
		current, hasVersion, err := adapter.ReadVersion(pkg.Dir)
		if err != nil {
			return nil, &domain.VersionError{Package: name, Message: err.Error()}
		}
		if hasVersion {
			next, err := bumpVersion(current, entryBump)
			if err != nil {
				return nil, &domain.VersionError{Package: name, Message: err.Error()}
			}
			entry.Old = &current
			entry.New = &next
		}
		plan.Entries = append(plan.Entries, entry)
	}
	return plan, nil
}

// Apply writes the planned versions through the language adapters in plan
// order. On failure it stops and returns the names already applied.
func (p *Planner) Apply(plan *Plan) (applied []string, err error) {
	for _, entry := range plan.Entries {
		if entry.New == nil {
			continue
		}
		pkg, ok := p.graph.Package(entry.Name)
		if !ok {
			return applied, &domain.NotFoundError{Name: entry.Name, Available: p.graph.Names()}
		}
		adapter := p.adapters(pkg.Language)
		if err := adapter.WriteVersion(pkg.Dir, *entry.New); err != nil {
			return applied, &domain.VersionError{Package: entry.Name, Message: err.Error()}
		}
		applied = append(applied, entry.Name)
	}
	return applied, nil
}

// bumpVersion applies the semver increment, stripping pre-release and build
// metadata.
func bumpVersion(current string, bump BumpType) (string, error) {
	v, err := semver.NewVersion(current)
	if err != nil {
		return "", fmt.Errorf("invalid version %q: %w", current, err)
	}
	var next *semver.Version
	switch bump {
	case BumpMajor:
		next = semver.New(v.Major()+1, 0, 0, "", "")
	case BumpMinor:
		next = semver.New(v.Major(), v.Minor()+1, 0, "", "")
	default:
		next = semver.New(v.Major(), v.Minor(), v.Patch()+1, "", "")
	}
	return next.String(), nil
}
