// Package build holds build-time version information.
package build

// Version is the polykit version, overridden at release time via
// -ldflags "-X github.com/polykit/polykit/internal/build.Version=...".
var Version = "dev"
