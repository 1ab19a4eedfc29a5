package cas

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"go.trai.ch/zerr"

	"github.com/polykit/polykit/internal/core/domain"
	"github.com/polykit/polykit/internal/core/ports"
)

// KeyPattern matches a rendered 256-bit cache key.
var KeyPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Store is the local artifact store. Entries are append-only and immutable;
// writes are temp-file-plus-rename so readers never see partial payloads.
//
// Layout: <dir>/<key[0:2]>/<key[2:4]>/<key>.zst plus a .json sidecar.
type Store struct {
	dir string
}

var _ ports.ArtifactStore = (*Store)(nil)

// NewStore creates the store rooted at dir, typically
// <cache_dir>/artifacts.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to create artifact store"), "dir", dir)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) shardDir(key string) string {
	return filepath.Join(s.dir, key[0:2], key[2:4])
}

func (s *Store) payloadPath(key string) string {
	return filepath.Join(s.shardDir(key), key+".zst")
}

func (s *Store) sidecarPath(key string) string {
	return filepath.Join(s.shardDir(key), key+".json")
}

// Has reports whether the key is present.
func (s *Store) Has(key string) bool {
	if !KeyPattern.MatchString(key) {
		return false
	}
	_, err := os.Stat(s.payloadPath(key))
	return err == nil
}

// Open returns the compressed payload stream and its sidecar metadata.
func (s *Store) Open(key string) (io.ReadCloser, *ports.ArtifactMeta, error) {
	if !KeyPattern.MatchString(key) {
		return nil, nil, zerr.With(zerr.New("invalid cache key"), "key", key)
	}
	meta, err := s.readSidecar(key)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(s.payloadPath(key))
	if err != nil {
		return nil, nil, zerr.With(zerr.Wrap(err, "failed to open artifact"), "key", key)
	}
	return f, meta, nil
}

func (s *Store) readSidecar(key string) (*ports.ArtifactMeta, error) {
	data, err := os.ReadFile(s.sidecarPath(key))
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to read artifact sidecar"), "key", key)
	}
	var meta ports.ArtifactMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, zerr.With(zerr.Wrap(domain.ErrCacheCorrupt, "failed to parse artifact sidecar"), "key", key)
	}
	return &meta, nil
}

// Put stores the payload under key. An existing entry wins: the incoming
// payload is drained and the stored metadata returned.
func (s *Store) Put(key string, payload io.Reader) (*ports.ArtifactMeta, error) {
	if !KeyPattern.MatchString(key) {
		return nil, zerr.With(zerr.New("invalid cache key"), "key", key)
	}
	if s.Has(key) {
		_, _ = io.Copy(io.Discard, payload)
		return s.readSidecar(key)
	}

	if err := os.MkdirAll(s.shardDir(key), 0o755); err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to create shard directory"), "key", key)
	}

	final := s.payloadPath(key)
	tmp := final + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to create artifact temp file"), "path", tmp)
	}

	digest := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, digest), payload)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return nil, zerr.With(zerr.Wrap(err, "failed to write artifact"), "key", key)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return nil, zerr.With(zerr.Wrap(err, "failed to rename artifact"), "key", key)
	}

	meta := &ports.ArtifactMeta{
		SHA256:    hex.EncodeToString(digest.Sum(nil)),
		Size:      size,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.writeSidecar(key, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

func (s *Store) writeSidecar(key string, meta *ports.ArtifactMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return zerr.Wrap(err, "failed to marshal artifact sidecar")
	}
	final := s.sidecarPath(key)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to write artifact sidecar"), "key", key)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return zerr.With(zerr.Wrap(err, "failed to rename artifact sidecar"), "key", key)
	}
	return nil
}
