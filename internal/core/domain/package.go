// Package domain contains the core domain models and business logic for the
// monorepo package graph.
package domain

import (
	"sort"
	"strings"
)

// Language identifies the source language of a package.
type Language string

const (
	LangJS     Language = "js"
	LangTS     Language = "ts"
	LangPython Language = "python"
	LangGo     Language = "go"
	LangRust   Language = "rust"
)

// Languages lists all supported languages in declaration order.
var Languages = []Language{LangJS, LangTS, LangPython, LangGo, LangRust}

// ParseLanguage parses a language string, accepting the long-form aliases
// "javascript" and "typescript".
func ParseLanguage(s string) (Language, bool) {
	switch strings.ToLower(s) {
	case "js", "javascript":
		return LangJS, true
	case "ts", "typescript":
		return LangTS, true
	case "python":
		return LangPython, true
	case "go":
		return LangGo, true
	case "rust":
		return LangRust, true
	}
	return "", false
}

// String returns the canonical language tag.
func (l Language) String() string { return string(l) }

// Task is a named shell command declared by a package. DependsOn references
// tasks of the same package only.
type Task struct {
	Name      string
	Command   string
	DependsOn []string
	Outputs   []string
}

// Package is a unit of the monorepo with its own manifest, directory, and
// tasks.
type Package struct {
	Name     string
	Language Language
	Public   bool
	// Dir is the absolute package directory.
	Dir string
	// Deps holds internal dependency names, declaration order preserved and
	// duplicates removed.
	Deps  []string
	Tasks map[string]Task
	// Mtimes maps each observed manifest file path to its modification time
	// in unix nanoseconds. Populated by the scanner.
	Mtimes map[string]int64
	// Toolchain is the toolchain version string captured at scan time.
	Toolchain string
}

// Task returns the named task, if defined.
func (p *Package) Task(name string) (Task, bool) {
	t, ok := p.Tasks[name]
	return t, ok
}

// TaskNames returns the package's task names sorted ascending.
func (p *Package) TaskNames() []string {
	names := make([]string, 0, len(p.Tasks))
	for name := range p.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DedupeDeps removes duplicate entries from a dependency list while keeping
// the first occurrence's position.
func DedupeDeps(deps []string) []string {
	if len(deps) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(deps))
	out := make([]string, 0, len(deps))
	for _, d := range deps {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}
