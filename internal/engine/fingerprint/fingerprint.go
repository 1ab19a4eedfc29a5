// Package fingerprint computes deterministic cache keys for (package, task)
// invocations.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"os"
	"sort"
	"sync"

	"go.trai.ch/zerr"

	"github.com/polykit/polykit/internal/adapters/fs"
	"github.com/polykit/polykit/internal/core/domain"
)

// schemaTag versions the fingerprint domain. Any change to the canonical
// serialization must bump it.
const schemaTag = "polykit-fp-v1"

// buildTask is the task a dependency contributes through when it defines
// one; otherwise its lexically-first task stands in.
const buildTask = "build"

// Fingerprinter computes 256-bit keys over the canonical serialization of
// everything that can affect a task's outputs. Dependency fingerprints are
// memoized for the duration of one run.
type Fingerprinter struct {
	graph  *domain.DependencyGraph
	ws     *domain.Workspace
	hasher *fs.Hasher
	// lookup resolves environment variables; swapped in tests.
	lookup func(string) (string, bool)

	mu   sync.Mutex
	memo map[string]string
}

// New creates a Fingerprinter for one run.
func New(graph *domain.DependencyGraph, ws *domain.Workspace, hasher *fs.Hasher) *Fingerprinter {
	return &Fingerprinter{
		graph:  graph,
		ws:     ws,
		hasher: hasher,
		lookup: os.LookupEnv,
		memo:   make(map[string]string),
	}
}

// WithEnvLookup overrides environment resolution. Used by tests.
func (f *Fingerprinter) WithEnvLookup(lookup func(string) (string, bool)) *Fingerprinter {
	f.lookup = lookup
	return f
}

// Key returns the 64-char lowercase hex fingerprint for the package's task.
func (f *Fingerprinter) Key(pkg *domain.Package, task domain.Task) (string, error) {
	memoKey := pkg.Name + "\x00" + task.Name

	f.mu.Lock()
	if key, ok := f.memo[memoKey]; ok {
		f.mu.Unlock()
		return key, nil
	}
	f.mu.Unlock()

	digest := sha256.New()
	writeField(digest, []byte(schemaTag))
	writeField(digest, []byte(pkg.Name))
	writeField(digest, []byte(task.Name))
	writeField(digest, []byte(task.Command))

	f.writeEnv(digest)

	if err := f.writeInputs(digest, pkg); err != nil {
		return "", err
	}
	if err := f.writeDeps(digest, pkg); err != nil {
		return "", err
	}

	writeField(digest, []byte(pkg.Toolchain))

	key := hex.EncodeToString(digest.Sum(nil))
	f.mu.Lock()
	f.memo[memoKey] = key
	f.mu.Unlock()
	return key, nil
}

// writeField writes a length-prefixed byte field.
func writeField(h hash.Hash, b []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(b)))
	_, _ = h.Write(n[:])
	_, _ = h.Write(b)
}

// writeEnv serializes the whitelisted environment variables in sorted order.
// A missing variable is encoded as absent, which is distinct from empty.
func (f *Fingerprinter) writeEnv(digest hash.Hash) {
	names := make([]string, 0, len(f.ws.EnvWhitelist()))
	names = append(names, f.ws.EnvWhitelist()...)
	sort.Strings(names)

	for _, name := range names {
		writeField(digest, []byte(name))
		if value, ok := f.lookup(name); ok {
			_, _ = digest.Write([]byte{1})
			writeField(digest, []byte(value))
		} else {
			_, _ = digest.Write([]byte{0})
		}
	}
	writeField(digest, nil) // section terminator
}

// writeInputs hashes every input file matched by the workspace globs within
// the package directory, sorted by relative path.
func (f *Fingerprinter) writeInputs(digest hash.Hash, pkg *domain.Package) error {
	inputs, err := f.hasher.CollectInputs(pkg.Dir, f.ws.InputGlobs())
	if err != nil {
		return zerr.With(zerr.Wrap(err, "failed to collect fingerprint inputs"), "package", pkg.Name)
	}
	for _, input := range inputs {
		writeField(digest, []byte(input.Path))
		writeField(digest, []byte(input.SHA256))
	}
	writeField(digest, nil)
	return nil
}

// writeDeps recurses into every direct dependency's build-task fingerprint.
// The graph is acyclic, so the recursion terminates; memoization keeps it
// linear over one run.
func (f *Fingerprinter) writeDeps(digest hash.Hash, pkg *domain.Package) error {
	deps, err := f.graph.Dependencies(pkg.Name)
	if err != nil {
		return err
	}
	for _, depName := range deps {
		dep, ok := f.graph.Package(depName)
		if !ok {
			return &domain.NotFoundError{Name: depName, Available: f.graph.Names()}
		}
		writeField(digest, []byte(depName))

		task, ok := depBuildTask(dep)
		if !ok {
			// A dependency with no tasks contributes its name only.
			writeField(digest, nil)
			continue
		}
		depKey, err := f.Key(dep, task)
		if err != nil {
			return err
		}
		writeField(digest, []byte(depKey))
	}
	writeField(digest, nil)
	return nil
}

// depBuildTask picks the task a dependency's fingerprint flows through:
// "build" when defined, else the lexically-first task.
func depBuildTask(pkg *domain.Package) (domain.Task, bool) {
	if task, ok := pkg.Task(buildTask); ok {
		return task, true
	}
	names := pkg.TaskNames()
	if len(names) == 0 {
		return domain.Task{}, false
	}
	return pkg.Tasks[names[0]], true
}
