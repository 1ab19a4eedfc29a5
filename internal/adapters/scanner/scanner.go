// Package scanner discovers packages under the workspace packages directory
// and maintains the incremental scan snapshot.
package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/polykit/polykit/internal/adapters/config"
	"github.com/polykit/polykit/internal/adapters/lang"
	"github.com/polykit/polykit/internal/core/domain"
	"github.com/polykit/polykit/internal/core/ports"
)

// Result is the outcome of a scan. Diagnostics report per-package manifest
// failures that excluded a package without failing the scan.
type Result struct {
	Packages    []*domain.Package
	Diagnostics []domain.Diagnostic
	// Reused counts packages served from the snapshot without reparsing.
	Reused int
}

// Scanner walks the packages directory, parses manifests, and reuses the
// persisted snapshot where mtimes are unchanged.
type Scanner struct {
	ws  *domain.Workspace
	log ports.Logger
	// useCache disables snapshot load/save when false (--no-cache).
	useCache bool
}

// New creates a Scanner for the workspace.
func New(ws *domain.Workspace, log ports.Logger, useCache bool) *Scanner {
	return &Scanner{ws: ws, log: log, useCache: useCache}
}

// workerLimit bounds the stat/parse fan-out.
func workerLimit(defaultParallel int) int {
	limit := runtime.NumCPU()
	if limit > 8 {
		limit = 8
	}
	if defaultParallel > 0 && defaultParallel < limit {
		limit = defaultParallel
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

// Scan discovers every package. Unreadable manifests become diagnostics;
// duplicate package names are fatal.
func (s *Scanner) Scan(ctx context.Context) (*Result, error) {
	packagesRoot := filepath.Join(s.ws.Root, s.ws.PackagesDir)
	dirs, err := discoverPackageDirs(packagesRoot)
	if err != nil {
		return nil, err
	}

	var snap *snapshot
	cacheDir := filepath.Join(s.ws.Root, s.ws.CacheDir)
	if s.useCache {
		snap = loadSnapshot(cacheDir)
	}
	cached := make(map[string]*domain.Package)
	if snap != nil {
		for i := range snap.Packages {
			p := snap.Packages[i]
			cached[p.Dir] = &p
		}
	}

	var (
		mu     sync.Mutex
		result Result
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workerLimit(s.ws.DefaultParallel))

	for _, dir := range dirs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			pkg, reused, diag := s.scanDir(dir, cached[dir])
			mu.Lock()
			defer mu.Unlock()
			if diag != nil {
				result.Diagnostics = append(result.Diagnostics, *diag)
				return nil
			}
			if reused {
				result.Reused++
			}
			result.Packages = append(result.Packages, pkg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(result.Packages, func(i, j int) bool {
		return result.Packages[i].Name < result.Packages[j].Name
	})
	sort.Slice(result.Diagnostics, func(i, j int) bool {
		return result.Diagnostics[i].Package < result.Diagnostics[j].Package
	})

	if err := checkDuplicates(result.Packages); err != nil {
		return nil, err
	}

	if s.useCache {
		if err := saveSnapshot(cacheDir, result.Packages, dirs); err != nil {
			// A failed snapshot write costs the next run a rescan, nothing more.
			s.log.Warn("failed to persist scan snapshot", "error", err)
		}
	}

	return &result, nil
}

// scanDir loads one package directory, reusing the cached record when every
// observed mtime still matches.
func (s *Scanner) scanDir(dir string, cached *domain.Package) (*domain.Package, bool, *domain.Diagnostic) {
	if cached != nil && mtimesMatch(cached.Mtimes) {
		return cached, true, nil
	}

	manifestPath := filepath.Join(dir, config.ManifestName)
	pkg, err := config.LoadManifest(manifestPath)
	if err != nil {
		return nil, false, &domain.Diagnostic{
			Package: filepath.Base(dir),
			Subject: manifestPath,
			Message: err.Error(),
		}
	}
	pkg.Dir = dir

	adapter := lang.For(pkg.Language)
	pkg.Toolchain = adapter.ToolchainVersion()
	pkg.Mtimes = observeMtimes(dir, adapter.MetadataFile())

	return pkg, false, nil
}

// observeMtimes stats the manifest and the language-native metadata file.
func observeMtimes(dir, metadataFile string) map[string]int64 {
	mtimes := make(map[string]int64, 2)
	for _, name := range []string{config.ManifestName, metadataFile} {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil {
			mtimes[path] = info.ModTime().UnixNano()
		}
	}
	return mtimes
}

// mtimesMatch reports whether every recorded file still exists with the same
// modification time.
func mtimesMatch(recorded map[string]int64) bool {
	if len(recorded) == 0 {
		return false
	}
	for path, mtime := range recorded {
		info, err := os.Stat(path)
		if err != nil || info.ModTime().UnixNano() != mtime {
			return false
		}
	}
	return true
}

// discoverPackageDirs walks the packages root and returns every directory,
// nested ones included, that holds a polykit.toml.
func discoverPackageDirs(root string) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == root && os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			switch d.Name() {
			case ".git", "node_modules", "target", "__pycache__":
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == config.ManifestName {
			dirs = append(dirs, filepath.Dir(path))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(dirs)
	return dirs, nil
}

func checkDuplicates(packages []*domain.Package) error {
	seen := make(map[string]string, len(packages))
	for _, p := range packages {
		if prev, ok := seen[p.Name]; ok {
			return &domain.ConfigError{
				Message: fmt.Sprintf("duplicate package name %q declared in %s and %s", p.Name, prev, p.Dir),
			}
		}
		seen[p.Name] = p.Dir
	}
	return nil
}
