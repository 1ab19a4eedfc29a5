// Package cacheserver implements the remote artifact cache HTTP service.
package cacheserver

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.trai.ch/zerr"
)

var (
	// ErrExists signals a PUT for a key that already has an artifact.
	ErrExists = zerr.New("artifact already exists")

	// ErrTooLarge signals a body exceeding the configured maximum.
	ErrTooLarge = zerr.New("artifact exceeds maximum size")

	// ErrNotFound signals a GET or HEAD for a missing key.
	ErrNotFound = zerr.New("artifact not found")
)

// Metadata is the sidecar written next to every stored artifact.
type Metadata struct {
	// Hash is the hex sha256 of the stored payload, computed during upload.
	Hash      string `json:"hash"`
	Size      int64  `json:"size"`
	CreatedAt int64  `json:"created_at"`
	CacheKey  string `json:"cache_key"`
}

// Storage is the sharded on-disk artifact store. There are no cross-request
// locks: each upload writes to its own temp file and the atomic hard link into
// place gives first-writer-wins with no reader ever observing partial data.
type Storage struct {
	root    string
	maxSize int64
}

// NewStorage creates the storage root and its tmp directory.
func NewStorage(root string, maxSize int64) (*Storage, error) {
	if err := os.MkdirAll(filepath.Join(root, "tmp"), 0o755); err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to create storage root"), "root", root)
	}
	return &Storage{root: root, maxSize: maxSize}, nil
}

// MaxSize returns the configured artifact size limit.
func (s *Storage) MaxSize() int64 { return s.maxSize }

func (s *Storage) shardDir(key string) string {
	return filepath.Join(s.root, key[0:2], key[2:4])
}

func (s *Storage) artifactPath(key string) string {
	return filepath.Join(s.shardDir(key), key+".zst")
}

func (s *Storage) metadataPath(key string) string {
	return filepath.Join(s.shardDir(key), key+".json")
}

// Has reports whether the artifact exists.
func (s *Storage) Has(key string) bool {
	_, err := os.Stat(s.artifactPath(key))
	return err == nil
}

// Store streams body into a temp file, computing sha256 on the fly, then
// hard-links it into place. The byte count is enforced against maxSize while
// streaming so oversized uploads stop early.
func (s *Storage) Store(key string, body io.Reader) (*Metadata, error) {
	if s.Has(key) {
		return nil, ErrExists
	}

	tmp, err := os.CreateTemp(filepath.Join(s.root, "tmp"), "upload-*.tmp")
	if err != nil {
		return nil, zerr.Wrap(err, "failed to create upload temp file")
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	digest := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, digest), io.LimitReader(body, s.maxSize+1))
	if err != nil {
		cleanup()
		return nil, zerr.Wrap(err, "failed to write upload")
	}
	if size > s.maxSize {
		cleanup()
		return nil, ErrTooLarge
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return nil, zerr.Wrap(err, "failed to sync upload")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, zerr.Wrap(err, "failed to close upload")
	}

	if err := os.MkdirAll(s.shardDir(key), 0o755); err != nil {
		_ = os.Remove(tmpPath)
		return nil, zerr.Wrap(err, "failed to create shard directory")
	}

	final := s.artifactPath(key)
	// First writer wins: the link fails when a concurrent upload landed
	// first, which keeps its artifact and this one reports the conflict.
	if err := os.Link(tmpPath, final); err != nil {
		_ = os.Remove(tmpPath)
		if os.IsExist(err) {
			return nil, ErrExists
		}
		return nil, zerr.With(zerr.Wrap(err, "failed to finalize upload"), "key", key)
	}
	_ = os.Remove(tmpPath)

	meta := &Metadata{
		Hash:      hex.EncodeToString(digest.Sum(nil)),
		Size:      size,
		CreatedAt: time.Now().Unix(),
		CacheKey:  key,
	}
	if err := s.writeMetadata(key, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

func (s *Storage) writeMetadata(key string, meta *Metadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return zerr.Wrap(err, "failed to marshal metadata")
	}
	final := s.metadataPath(key)
	tmpPath := final + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return zerr.Wrap(err, "failed to write metadata")
	}
	if err := os.Rename(tmpPath, final); err != nil {
		_ = os.Remove(tmpPath)
		return zerr.Wrap(err, "failed to finalize metadata")
	}
	return nil
}

// Open returns the artifact payload and its metadata.
func (s *Storage) Open(key string) (*os.File, *Metadata, error) {
	meta, err := s.Meta(key)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(s.artifactPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, zerr.With(zerr.Wrap(err, "failed to open artifact"), "key", key)
	}
	return f, meta, nil
}

// Meta reads the metadata sidecar.
func (s *Storage) Meta(key string) (*Metadata, error) {
	data, err := os.ReadFile(s.metadataPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, zerr.With(zerr.Wrap(err, "failed to read metadata"), "key", key)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to parse metadata"), "key", key)
	}
	return &meta, nil
}
