// Package ports defines the interfaces between the core and its adapters.
package ports

import "github.com/polykit/polykit/internal/core/domain"

// LanguageAdapter abstracts per-language package metadata. The variant set is
// closed: one adapter per supported language, no dynamic loading.
type LanguageAdapter interface {
	// Language returns the language tag this adapter serves.
	Language() domain.Language

	// Detect reports whether dir looks like a package of this language.
	Detect(dir string) bool

	// MetadataFile returns the language-native metadata filename
	// (package.json, Cargo.toml, pyproject.toml, go.mod) observed by the
	// scanner for mtime invalidation.
	MetadataFile() string

	// ReadVersion reads the package version from dir. ok is false when the
	// language has no manifest version (Go) or none is declared.
	ReadVersion(dir string) (version string, ok bool, err error)

	// WriteVersion rewrites the package version in dir.
	WriteVersion(dir, version string) error

	// DefaultOutputs returns the default task output paths, relative to the
	// package directory.
	DefaultOutputs() []string

	// ToolchainVersion returns the installed toolchain version string, e.g.
	// "node-v20.0.0". Implementations cache the probe per process.
	ToolchainVersion() string
}
