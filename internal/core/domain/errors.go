package domain

import (
	"fmt"
	"strings"

	"go.trai.ch/zerr"
)

// ErrCacheCorrupt is returned when a local cache entry fails verification.
var ErrCacheCorrupt = zerr.New("cache entry corrupt")

// NotFoundError reports a reference to a package that does not exist.
type NotFoundError struct {
	Name      string
	Available []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Package not found: %s. Available packages: %s",
		e.Name, strings.Join(e.Available, ", "))
}

// CycleError reports a dependency cycle. Path starts and ends at the same
// package, each consecutive pair being an edge of the graph.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "Circular dependency detected: Cycle involving " + e.Path[0]
}

// TaskFailedError reports a task that exited nonzero.
type TaskFailedError struct {
	Package  string
	TaskName string
	ExitCode int
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("Task execution failed for %s::%s: exit code %d",
		e.Package, e.TaskName, e.ExitCode)
}

// ConfigError reports an invalid manifest or workspace configuration.
type ConfigError struct {
	Path    string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return "Config error: " + e.Message
	}
	return fmt.Sprintf("Config error in %s: %s", e.Path, e.Message)
}

// VersionError reports a semver parse or adapter write failure during a
// release.
type VersionError struct {
	Package string
	Message string
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("Release error for %s: %s", e.Package, e.Message)
}
