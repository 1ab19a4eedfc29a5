package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Diagnostic is a single validation finding. A workspace with zero
// diagnostics is valid.
type Diagnostic struct {
	Package string `json:"package"`
	Subject string `json:"subject,omitempty"`
	Message string `json:"message"`
}

func (d Diagnostic) String() string {
	if d.Subject == "" {
		return d.Package + ": " + d.Message
	}
	return d.Package + " (" + d.Subject + "): " + d.Message
}

// ValidName reports whether a package or task name uses the allowed charset
// and does not begin with '.' or '-'.
func ValidName(name string) bool {
	if name == "" {
		return false
	}
	if name[0] == '.' || name[0] == '-' {
		return false
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '.' || c == '@' || c == '-':
		default:
			return false
		}
	}
	return true
}

// Validate checks the package set against the manifest invariants, in order:
// name rules for packages and tasks, command sanity, dependency resolution,
// task dependency resolution, self-loops, and task dependency cycles.
func Validate(packages []*Package) []Diagnostic {
	var diags []Diagnostic

	byName := make(map[string]*Package, len(packages))
	for _, p := range packages {
		byName[p.Name] = p
	}

	sorted := make([]*Package, len(packages))
	copy(sorted, packages)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for _, p := range sorted {
		if !ValidName(p.Name) {
			diags = append(diags, Diagnostic{
				Package: p.Name,
				Message: "invalid package name: must match [A-Za-z0-9_.@-] and not begin with '.' or '-'",
			})
		}
		for _, task := range p.TaskNames() {
			if !ValidName(task) {
				diags = append(diags, Diagnostic{
					Package: p.Name,
					Subject: task,
					Message: "invalid task name: must match [A-Za-z0-9_.@-] and not begin with '.' or '-'",
				})
			}
		}
	}

	for _, p := range sorted {
		for _, name := range p.TaskNames() {
			cmd := p.Tasks[name].Command
			if strings.ContainsRune(cmd, 0) {
				diags = append(diags, Diagnostic{
					Package: p.Name, Subject: name,
					Message: "command contains a NUL byte",
				})
			}
			if strings.ContainsRune(cmd, '\n') {
				diags = append(diags, Diagnostic{
					Package: p.Name, Subject: name,
					Message: "command contains an embedded newline",
				})
			}
		}
	}

	for _, p := range sorted {
		for _, dep := range p.Deps {
			if _, ok := byName[dep]; !ok {
				diags = append(diags, Diagnostic{
					Package: p.Name, Subject: dep,
					Message: fmt.Sprintf("internal dependency %q does not resolve to a package", dep),
				})
			}
		}
	}

	for _, p := range sorted {
		for _, name := range p.TaskNames() {
			for _, dep := range p.Tasks[name].DependsOn {
				if _, ok := p.Tasks[dep]; !ok {
					diags = append(diags, Diagnostic{
						Package: p.Name, Subject: name,
						Message: fmt.Sprintf("depends_on entry %q is not a task of this package", dep),
					})
				}
			}
		}
	}

	for _, p := range sorted {
		for _, dep := range p.Deps {
			if dep == p.Name {
				diags = append(diags, Diagnostic{
					Package: p.Name,
					Message: "package lists itself as a dependency",
				})
			}
		}
	}

	for _, p := range sorted {
		if cycle := taskCycle(p); cycle != "" {
			diags = append(diags, Diagnostic{
				Package: p.Name, Subject: cycle,
				Message: "task depends_on entries form a cycle",
			})
		}
	}

	return diags
}

// taskCycle returns the name of a task participating in a depends_on cycle,
// or "" when the per-package task graph is acyclic.
func taskCycle(p *Package) string {
	const (
		unvisited = 0
		onStack   = 1
		done      = 2
	)
	color := make(map[string]int, len(p.Tasks))

	var visit func(name string) string
	visit = func(name string) string {
		color[name] = onStack
		for _, dep := range p.Tasks[name].DependsOn {
			if _, ok := p.Tasks[dep]; !ok {
				continue
			}
			switch color[dep] {
			case onStack:
				return dep
			case unvisited:
				if c := visit(dep); c != "" {
					return c
				}
			}
		}
		color[name] = done
		return ""
	}

	for _, name := range p.TaskNames() {
		if color[name] == unvisited {
			if c := visit(name); c != "" {
				return c
			}
		}
	}
	return ""
}
