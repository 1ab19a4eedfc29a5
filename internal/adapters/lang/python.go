package lang

import (
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
	"go.trai.ch/zerr"

	"github.com/polykit/polykit/internal/core/domain"
)

var pythonProbe = &toolchainProbe{tool: "python3", arg: "--version"}

var tomlVersionRe = regexp.MustCompile(`(?m)^version\s*=\s*"[^"]+"`)

// pythonAdapter reads pyproject.toml, supporting both PEP 621
// (project.version) and Poetry (tool.poetry.version) layouts.
type pythonAdapter struct{}

func (a *pythonAdapter) Language() domain.Language { return domain.LangPython }

func (a *pythonAdapter) MetadataFile() string { return "pyproject.toml" }

func (a *pythonAdapter) Detect(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, "pyproject.toml"))
	return err == nil
}

func (a *pythonAdapter) ReadVersion(dir string) (string, bool, error) {
	path := filepath.Join(dir, "pyproject.toml")
	var dto struct {
		Project struct {
			Version string `toml:"version"`
		} `toml:"project"`
		Tool struct {
			Poetry struct {
				Version string `toml:"version"`
			} `toml:"poetry"`
		} `toml:"tool"`
	}
	if _, err := toml.DecodeFile(path, &dto); err != nil {
		return "", false, zerr.With(zerr.Wrap(err, "failed to parse pyproject.toml"), "path", path)
	}
	if dto.Project.Version != "" {
		return dto.Project.Version, true, nil
	}
	if dto.Tool.Poetry.Version != "" {
		return dto.Tool.Poetry.Version, true, nil
	}
	return "", false, nil
}

func (a *pythonAdapter) WriteVersion(dir, version string) error {
	path := filepath.Join(dir, "pyproject.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "failed to read pyproject.toml"), "path", path)
	}
	if !tomlVersionRe.Match(data) {
		return zerr.With(zerr.New("pyproject.toml has no version field"), "path", path)
	}
	replaced := false
	updated := tomlVersionRe.ReplaceAllFunc(data, func(m []byte) []byte {
		if replaced {
			return m
		}
		replaced = true
		return []byte(`version = "` + version + `"`)
	})
	if err := os.WriteFile(path, updated, 0o644); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to write pyproject.toml"), "path", path)
	}
	return nil
}

func (a *pythonAdapter) DefaultOutputs() []string { return []string{"dist"} }

func (a *pythonAdapter) ToolchainVersion() string { return pythonProbe.Version() }
