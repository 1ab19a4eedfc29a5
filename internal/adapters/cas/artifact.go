// Package cas implements artifact packaging and the local content-addressed
// artifact store.
package cas

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.trai.ch/zerr"
)

// zstdLevel is the default compression level for artifacts.
const zstdLevel = zstd.SpeedDefault

// ArtifactInfo is the metadata.json entry at the head of every artifact tar.
type ArtifactInfo struct {
	Package   string `json:"package"`
	Task      string `json:"task"`
	Command   string `json:"command"`
	CacheKey  string `json:"cache_key"`
	CreatedAt int64  `json:"created_at"`
	Version   int    `json:"version"`
}

// Manifest lists the packed output files with their digests.
type Manifest struct {
	// Files maps output-relative paths to hex sha256 digests. Symlinks hash
	// their target path.
	Files map[string]string `json:"files"`
	// TotalSize is the uncompressed byte total.
	TotalSize int64 `json:"total_size"`
}

// formatVersion tags the artifact layout.
const formatVersion = 1

// Unpacked is the result of extracting an artifact.
type Unpacked struct {
	Info     ArtifactInfo
	Manifest Manifest
	Stdout   []byte
	Stderr   []byte
}

// Pack streams the declared outputs of a task into a zstd-compressed tar
// written to w. Output paths are relative to dir; missing ones are skipped.
// The recorded stdout/stderr are replayed on later cache hits.
func Pack(w io.Writer, dir string, outputs []string, info ArtifactInfo, stdout, stderr []byte) (*Manifest, error) {
	info.Version = formatVersion
	if info.CreatedAt == 0 {
		info.CreatedAt = time.Now().Unix()
	}

	files, manifest, err := collectOutputs(dir, outputs)
	if err != nil {
		return nil, err
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstdLevel))
	if err != nil {
		return nil, zerr.Wrap(err, "failed to create zstd encoder")
	}
	tw := tar.NewWriter(enc)

	if err := writeJSONEntry(tw, "metadata.json", info); err != nil {
		return nil, err
	}
	if err := writeJSONEntry(tw, "manifest.json", manifest); err != nil {
		return nil, err
	}
	if err := writeBytesEntry(tw, "stdout.txt", stdout); err != nil {
		return nil, err
	}
	if err := writeBytesEntry(tw, "stderr.txt", stderr); err != nil {
		return nil, err
	}

	for _, rel := range files {
		if err := appendOutput(tw, dir, rel); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, zerr.Wrap(err, "failed to finish artifact tar")
	}
	if err := enc.Close(); err != nil {
		return nil, zerr.Wrap(err, "failed to finish zstd stream")
	}
	return manifest, nil
}

// collectOutputs walks the declared output paths and builds the manifest.
// Returned paths are sorted for a deterministic tar layout.
func collectOutputs(dir string, outputs []string) ([]string, *Manifest, error) {
	manifest := &Manifest{Files: make(map[string]string)}
	var files []string

	addFile := func(path string) error {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return zerr.With(zerr.Wrap(err, "output escapes package directory"), "path", path)
		}
		rel = filepath.ToSlash(rel)

		info, err := os.Lstat(path)
		if err != nil {
			return zerr.With(zerr.Wrap(err, "failed to stat output"), "path", path)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(path)
			if err != nil {
				return zerr.With(zerr.Wrap(err, "failed to read symlink"), "path", path)
			}
			sum := sha256.Sum256([]byte(target))
			manifest.Files[rel] = hex.EncodeToString(sum[:])
		} else {
			digest, size, err := hashFile(path)
			if err != nil {
				return err
			}
			manifest.Files[rel] = digest
			manifest.TotalSize += size
		}
		files = append(files, rel)
		return nil
	}

	for _, output := range outputs {
		path := filepath.Join(dir, output)
		info, err := os.Lstat(path)
		if err != nil {
			continue // declared output not produced
		}
		if !info.IsDir() {
			if err := addFile(path); err != nil {
				return nil, nil, err
			}
			continue
		}
		err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return zerr.With(zerr.Wrap(err, "failed to walk output"), "path", p)
			}
			if d.IsDir() {
				return nil
			}
			return addFile(p)
		})
		if err != nil {
			return nil, nil, err
		}
	}

	sort.Strings(files)
	return files, manifest, nil
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, zerr.With(zerr.Wrap(err, "failed to open output"), "path", path)
	}
	defer f.Close()
	digest := sha256.New()
	n, err := io.Copy(digest, f)
	if err != nil {
		return "", 0, zerr.With(zerr.Wrap(err, "failed to hash output"), "path", path)
	}
	return hex.EncodeToString(digest.Sum(nil)), n, nil
}

func writeJSONEntry(tw *tar.Writer, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "failed to marshal artifact entry"), "entry", name)
	}
	return writeBytesEntry(tw, name, data)
}

func writeBytesEntry(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to write tar header"), "entry", name)
	}
	if _, err := tw.Write(data); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to write tar entry"), "entry", name)
	}
	return nil
}

func appendOutput(tw *tar.Writer, dir, rel string) error {
	path := filepath.Join(dir, filepath.FromSlash(rel))
	info, err := os.Lstat(path)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "failed to stat output"), "path", path)
	}

	name := "outputs/" + rel
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return zerr.With(zerr.Wrap(err, "failed to read symlink"), "path", path)
		}
		hdr := &tar.Header{
			Name:     name,
			Typeflag: tar.TypeSymlink,
			Linkname: target,
			Mode:     0o777,
		}
		return tw.WriteHeader(hdr)
	}

	hdr := &tar.Header{
		Name:    name,
		Mode:    int64(info.Mode().Perm()),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to write tar header"), "entry", name)
	}
	f, err := os.Open(path)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "failed to open output"), "path", path)
	}
	defer f.Close()
	if _, err := io.Copy(tw, f); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to copy output into artifact"), "path", path)
	}
	return nil
}

// Unpack extracts an artifact stream into the package directory. Outputs are
// staged into a temporary directory first and swapped into place so readers
// never observe partial files.
func Unpack(r io.Reader, dir string) (*Unpacked, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, zerr.Wrap(err, "failed to create zstd decoder")
	}
	defer dec.Close()

	stage, err := os.MkdirTemp(dir, ".polykit-stage-")
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to create staging directory"), "dir", dir)
	}
	defer os.RemoveAll(stage)

	var result Unpacked
	tr := tar.NewReader(dec)
	var staged []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, zerr.Wrap(err, "failed to read artifact tar")
		}

		switch hdr.Name {
		case "metadata.json":
			if err := decodeJSONEntry(tr, &result.Info); err != nil {
				return nil, err
			}
			continue
		case "manifest.json":
			if err := decodeJSONEntry(tr, &result.Manifest); err != nil {
				return nil, err
			}
			continue
		case "stdout.txt":
			if result.Stdout, err = io.ReadAll(tr); err != nil {
				return nil, zerr.Wrap(err, "failed to read recorded stdout")
			}
			continue
		case "stderr.txt":
			if result.Stderr, err = io.ReadAll(tr); err != nil {
				return nil, zerr.Wrap(err, "failed to read recorded stderr")
			}
			continue
		}

		rel, ok := strings.CutPrefix(hdr.Name, "outputs/")
		if !ok || !filepath.IsLocal(filepath.FromSlash(rel)) {
			continue
		}
		dest := filepath.Join(stage, filepath.FromSlash(rel))
		if err := extractEntry(tr, hdr, dest); err != nil {
			return nil, err
		}
		staged = append(staged, rel)
	}

	// Swap staged outputs into the package directory.
	for _, rel := range staged {
		src := filepath.Join(stage, filepath.FromSlash(rel))
		dest := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return nil, zerr.With(zerr.Wrap(err, "failed to create output directory"), "path", dest)
		}
		if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
			return nil, zerr.With(zerr.Wrap(err, "failed to replace output"), "path", dest)
		}
		if err := os.Rename(src, dest); err != nil {
			return nil, zerr.With(zerr.Wrap(err, "failed to move output into place"), "path", dest)
		}
	}

	return &result, nil
}

func decodeJSONEntry(r io.Reader, v any) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return zerr.Wrap(err, "failed to read artifact entry")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return zerr.Wrap(err, "failed to parse artifact entry")
	}
	return nil
}

func extractEntry(tr *tar.Reader, hdr *tar.Header, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to create staging path"), "path", dest)
	}
	switch hdr.Typeflag {
	case tar.TypeSymlink:
		return os.Symlink(hdr.Linkname, dest)
	case tar.TypeDir:
		return os.MkdirAll(dest, os.FileMode(hdr.Mode).Perm())
	default:
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode).Perm())
		if err != nil {
			return zerr.With(zerr.Wrap(err, "failed to create staged output"), "path", dest)
		}
		defer f.Close()
		if _, err := io.Copy(f, tr); err != nil { //nolint:gosec // size bounded by max_artifact_size
			return zerr.With(zerr.Wrap(err, "failed to extract output"), "path", dest)
		}
		return nil
	}
}
