package lang

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"

	"go.trai.ch/zerr"

	"github.com/polykit/polykit/internal/core/domain"
)

var nodeProbe = &toolchainProbe{tool: "node", arg: "--version"}

var versionFieldRe = regexp.MustCompile(`"version"\s*:\s*"[^"]+"`)

// jsAdapter serves both js and ts packages via package.json.
type jsAdapter struct {
	lang domain.Language
}

func (a *jsAdapter) Language() domain.Language { return a.lang }

func (a *jsAdapter) MetadataFile() string { return "package.json" }

func (a *jsAdapter) Detect(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, "package.json"))
	return err == nil
}

func (a *jsAdapter) ReadVersion(dir string) (string, bool, error) {
	path := filepath.Join(dir, "package.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false, zerr.With(zerr.Wrap(err, "failed to read package.json"), "path", path)
	}
	var manifest struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return "", false, zerr.With(zerr.Wrap(err, "failed to parse package.json"), "path", path)
	}
	if manifest.Version == "" {
		return "", false, nil
	}
	return manifest.Version, true, nil
}

// WriteVersion rewrites the version field in place with a regexp so the
// file's formatting survives.
func (a *jsAdapter) WriteVersion(dir, version string) error {
	path := filepath.Join(dir, "package.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "failed to read package.json"), "path", path)
	}
	if !versionFieldRe.Match(data) {
		return zerr.With(zerr.New("package.json has no version field"), "path", path)
	}
	updated := versionFieldRe.ReplaceAll(data, []byte(`"version": "`+version+`"`))
	if err := os.WriteFile(path, updated, 0o644); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to write package.json"), "path", path)
	}
	return nil
}

func (a *jsAdapter) DefaultOutputs() []string { return []string{"dist", "build"} }

func (a *jsAdapter) ToolchainVersion() string { return nodeProbe.Version() }
