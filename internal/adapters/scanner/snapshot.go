package scanner

import (
	"bytes"
	"encoding/gob"
	"os"
	"path/filepath"
	"sort"

	"github.com/cespare/xxhash/v2"
	"go.trai.ch/zerr"

	"github.com/polykit/polykit/internal/core/domain"
)

// snapshotSchema versions the persisted snapshot. Bumps are
// backward-incompatible and force a full rescan.
const snapshotSchema = "polykit-scan-v1"

// snapshotFile is the snapshot filename inside the cache directory.
const snapshotFile = "scan.bin"

type snapshot struct {
	Schema     string
	LayoutHash uint64
	Packages   []domain.Package
}

// layoutHash hashes the sorted set of package directories. It lets a loaded
// snapshot be tied to the workspace layout it was taken from.
func layoutHash(dirs []string) uint64 {
	sorted := make([]string, len(dirs))
	copy(sorted, dirs)
	sort.Strings(sorted)

	h := xxhash.New()
	for _, dir := range sorted {
		_, _ = h.WriteString(dir)
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// loadSnapshot reads the persisted snapshot. Any failure — missing file, bad
// schema tag, decode error — yields nil: corrupt snapshots are silently
// discarded and a full scan runs.
func loadSnapshot(cacheDir string) *snapshot {
	data, err := os.ReadFile(filepath.Join(cacheDir, snapshotFile))
	if err != nil {
		return nil
	}

	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return nil
	}
	if snap.Schema != snapshotSchema {
		return nil
	}
	return &snap
}

// saveSnapshot persists the snapshot atomically: write to scan.bin.tmp,
// fsync, rename over scan.bin.
func saveSnapshot(cacheDir string, packages []*domain.Package, dirs []string) error {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to create cache directory"), "dir", cacheDir)
	}

	snap := snapshot{
		Schema:     snapshotSchema,
		LayoutHash: layoutHash(dirs),
		Packages:   make([]domain.Package, 0, len(packages)),
	}
	for _, p := range packages {
		snap.Packages = append(snap.Packages, *p)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&snap); err != nil {
		return zerr.Wrap(err, "failed to encode scan snapshot")
	}

	final := filepath.Join(cacheDir, snapshotFile)
	tmp := final + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "failed to create snapshot temp file"), "path", tmp)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return zerr.With(zerr.Wrap(err, "failed to write scan snapshot"), "path", tmp)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return zerr.With(zerr.Wrap(err, "failed to sync scan snapshot"), "path", tmp)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return zerr.With(zerr.Wrap(err, "failed to close scan snapshot"), "path", tmp)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return zerr.With(zerr.Wrap(err, "failed to rename scan snapshot"), "path", final)
	}
	return nil
}
