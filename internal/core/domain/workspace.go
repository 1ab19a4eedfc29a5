package domain

import "runtime"

// Defaults for workspace configuration.
const (
	DefaultCacheDir        = ".polykit/cache"
	DefaultMaxArtifactSize = 1 << 30 // 1 GiB
)

// RemoteCacheConfig configures the optional shared artifact cache.
type RemoteCacheConfig struct {
	URL      string
	ReadOnly bool
	// EnvVars is the whitelist of environment variables forwarded to tasks
	// and mixed into fingerprints.
	EnvVars []string
	// InputGlobs selects the files hashed into fingerprints, relative to the
	// package directory. Empty means every file under the package directory
	// apart from well-known output and VCS directories; this default is the
	// same for every language.
	InputGlobs      []string
	MaxArtifactSize int64
}

// Workspace is the containing repository with its configuration.
type Workspace struct {
	// Root is the absolute repository root.
	Root string
	// PackagesDir is the directory scanned for packages, relative to Root.
	PackagesDir     string
	CacheDir        string
	DefaultParallel int
	RemoteCache     *RemoteCacheConfig
}

// ApplyDefaults fills unset fields with their documented defaults.
func (w *Workspace) ApplyDefaults() {
	if w.PackagesDir == "" {
		w.PackagesDir = "packages"
	}
	if w.CacheDir == "" {
		w.CacheDir = DefaultCacheDir
	}
	if w.DefaultParallel < 1 {
		w.DefaultParallel = runtime.NumCPU()
		if w.DefaultParallel < 1 {
			w.DefaultParallel = 1
		}
	}
	if w.RemoteCache != nil && w.RemoteCache.MaxArtifactSize <= 0 {
		w.RemoteCache.MaxArtifactSize = DefaultMaxArtifactSize
	}
}

// EnvWhitelist returns the fingerprinted environment variable names, or nil
// when no remote cache is configured.
func (w *Workspace) EnvWhitelist() []string {
	if w.RemoteCache == nil {
		return nil
	}
	return w.RemoteCache.EnvVars
}

// InputGlobs returns the configured input globs, or nil for defaults.
func (w *Workspace) InputGlobs() []string {
	if w.RemoteCache == nil {
		return nil
	}
	return w.RemoteCache.InputGlobs
}
