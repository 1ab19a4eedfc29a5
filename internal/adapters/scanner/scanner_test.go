package scanner_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polykit/polykit/internal/adapters/logger"
	"github.com/polykit/polykit/internal/adapters/scanner"
	"github.com/polykit/polykit/internal/core/domain"
)

func testWorkspace(t *testing.T) *domain.Workspace {
	t.Helper()
	ws := &domain.Workspace{Root: t.TempDir(), DefaultParallel: 4}
	ws.ApplyDefaults()
	return ws
}

func addPackage(t *testing.T, ws *domain.Workspace, rel, manifest string) string {
	t.Helper()
	dir := filepath.Join(ws.Root, ws.PackagesDir, rel)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "polykit.toml"), []byte(manifest), 0o644))
	return dir
}

const manifestA = `
name = "a"
language = "go"
public = false

[tasks]
build = "go build ./..."
`

const manifestB = `
name = "b"
language = "js"
public = true

[deps]
internal = ["a"]

[tasks]
build = "npm run build"
`

func newScanner(ws *domain.Workspace, useCache bool) *scanner.Scanner {
	return scanner.New(ws, logger.NewWriter(io.Discard), useCache)
}

func TestScan_Discovers(t *testing.T) {
	ws := testWorkspace(t)
	addPackage(t, ws, "a", manifestA)
	addPackage(t, ws, "b", manifestB)
	addPackage(t, ws, "nested/deep", `
name = "deep"
language = "python"
public = false
`)

	result, err := newScanner(ws, true).Scan(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Packages, 3)
	assert.Equal(t, "a", result.Packages[0].Name)
	assert.Equal(t, "b", result.Packages[1].Name)
	assert.Equal(t, "deep", result.Packages[2].Name)
	assert.Equal(t, []string{"a"}, result.Packages[1].Deps)
	assert.NotEmpty(t, result.Packages[0].Toolchain)
	assert.NotEmpty(t, result.Packages[0].Mtimes)
}

func TestScan_SnapshotReuse(t *testing.T) {
	ws := testWorkspace(t)
	addPackage(t, ws, "a", manifestA)
	dirB := addPackage(t, ws, "b", manifestB)

	first, err := newScanner(ws, true).Scan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, first.Reused)

	second, err := newScanner(ws, true).Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, second.Reused)
	assert.Len(t, second.Packages, 2)

	// Touching one manifest invalidates only that package.
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(filepath.Join(dirB, "polykit.toml"), future, future))

	third, err := newScanner(ws, true).Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, third.Reused)
	assert.Len(t, third.Packages, 2)
}

func TestScan_RemovedPackageDropped(t *testing.T) {
	ws := testWorkspace(t)
	addPackage(t, ws, "a", manifestA)
	dirB := addPackage(t, ws, "b", manifestB)

	_, err := newScanner(ws, true).Scan(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(dirB))

	result, err := newScanner(ws, true).Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Packages, 1)
	assert.Equal(t, "a", result.Packages[0].Name)
}

func TestScan_CorruptSnapshotDiscarded(t *testing.T) {
	ws := testWorkspace(t)
	addPackage(t, ws, "a", manifestA)

	_, err := newScanner(ws, true).Scan(context.Background())
	require.NoError(t, err)

	snapPath := filepath.Join(ws.Root, ws.CacheDir, "scan.bin")
	require.NoError(t, os.WriteFile(snapPath, []byte("not a snapshot"), 0o644))

	result, err := newScanner(ws, true).Scan(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Packages, 1)
	assert.Zero(t, result.Reused)
}

func TestScan_UnreadableManifestExcluded(t *testing.T) {
	ws := testWorkspace(t)
	addPackage(t, ws, "a", manifestA)
	addPackage(t, ws, "broken", "name = \"broken\"\nlanguage = ???\n")

	result, err := newScanner(ws, false).Scan(context.Background())
	require.NoError(t, err)

	assert.Len(t, result.Packages, 1)
	require.Len(t, result.Diagnostics, 1)
	assert.Equal(t, "broken", result.Diagnostics[0].Package)
}

func TestScan_DuplicateNameFatal(t *testing.T) {
	ws := testWorkspace(t)
	addPackage(t, ws, "one", manifestA)
	addPackage(t, ws, "two", manifestA)

	_, err := newScanner(ws, false).Scan(context.Background())
	var configErr *domain.ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Contains(t, err.Error(), "duplicate package name")
}

func TestScan_MissingPackagesDir(t *testing.T) {
	ws := testWorkspace(t)
	result, err := newScanner(ws, false).Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Packages)
}
