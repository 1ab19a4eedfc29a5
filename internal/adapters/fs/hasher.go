// Package fs provides filesystem hashing used by the fingerprinter.
package fs

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.trai.ch/zerr"
)

// InputFile is one fingerprinted input: a path relative to the package
// directory and the sha256 of its content.
type InputFile struct {
	Path   string
	SHA256 string
}

// Hasher hashes package input files.
type Hasher struct{}

// NewHasher creates a Hasher.
func NewHasher() *Hasher { return &Hasher{} }

// HashFile computes the hex sha256 of a file's content.
func (h *Hasher) HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", zerr.With(zerr.Wrap(err, "failed to open input file"), "path", path)
	}
	defer f.Close()

	digest := sha256.New()
	if _, err := io.Copy(digest, f); err != nil {
		return "", zerr.With(zerr.Wrap(err, "failed to hash input file"), "path", path)
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

// skipDirs are never treated as inputs when walking a package directory.
var skipDirs = map[string]struct{}{
	".git":         {},
	"node_modules": {},
	"target":       {},
	"dist":         {},
	"build":        {},
	"__pycache__":  {},
	".polykit":     {},
}

// CollectInputs resolves the input globs within dir and hashes every match,
// returning entries sorted by relative path. Empty globs means every source
// file under dir, with well-known output and VCS directories excluded.
func (h *Hasher) CollectInputs(dir string, globs []string) ([]InputFile, error) {
	paths := make(map[string]struct{})

	if len(globs) == 0 {
		if err := h.walkInto(dir, dir, paths); err != nil {
			return nil, err
		}
	} else {
		for _, glob := range globs {
			matches, err := filepath.Glob(filepath.Join(dir, glob))
			if err != nil {
				return nil, zerr.With(zerr.Wrap(err, "invalid input glob"), "glob", glob)
			}
			for _, match := range matches {
				info, err := os.Stat(match)
				if err != nil {
					continue
				}
				if info.IsDir() {
					if err := h.walkInto(dir, match, paths); err != nil {
						return nil, err
					}
				} else {
					paths[match] = struct{}{}
				}
			}
		}
	}

	inputs := make([]InputFile, 0, len(paths))
	for path := range paths {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			continue
		}
		digest, err := h.HashFile(path)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, InputFile{Path: filepath.ToSlash(rel), SHA256: digest})
	}
	sort.Slice(inputs, func(i, j int) bool { return inputs[i].Path < inputs[j].Path })
	return inputs, nil
}

func (h *Hasher) walkInto(root, start string, paths map[string]struct{}) error {
	return filepath.WalkDir(start, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return zerr.With(zerr.Wrap(err, "failed to walk inputs"), "path", path)
		}
		if d.IsDir() {
			if _, skip := skipDirs[d.Name()]; skip && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && d.Name() != ".env" {
			return nil
		}
		paths[path] = struct{}{}
		return nil
	})
}
