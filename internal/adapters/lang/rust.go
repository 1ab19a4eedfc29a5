package lang

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"go.trai.ch/zerr"

	"github.com/polykit/polykit/internal/core/domain"
)

var rustProbe = &toolchainProbe{tool: "rustc", arg: "--version"}

// rustAdapter reads the [package] table of Cargo.toml.
type rustAdapter struct{}

func (a *rustAdapter) Language() domain.Language { return domain.LangRust }

func (a *rustAdapter) MetadataFile() string { return "Cargo.toml" }

func (a *rustAdapter) Detect(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, "Cargo.toml"))
	return err == nil
}

func (a *rustAdapter) ReadVersion(dir string) (string, bool, error) {
	path := filepath.Join(dir, "Cargo.toml")
	var dto struct {
		Package struct {
			Version string `toml:"version"`
		} `toml:"package"`
	}
	if _, err := toml.DecodeFile(path, &dto); err != nil {
		return "", false, zerr.With(zerr.Wrap(err, "failed to parse Cargo.toml"), "path", path)
	}
	if dto.Package.Version == "" {
		return "", false, nil
	}
	return dto.Package.Version, true, nil
}

func (a *rustAdapter) WriteVersion(dir, version string) error {
	path := filepath.Join(dir, "Cargo.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "failed to read Cargo.toml"), "path", path)
	}
	if !tomlVersionRe.Match(data) {
		return zerr.With(zerr.New("Cargo.toml has no version field"), "path", path)
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
		return zerr.With(zerr.Wrap(err, "failed to write Cargo.toml"), "path", path)
	}
	return nil
}

func (a *rustAdapter) DefaultOutputs() []string { return []string{"target/release"} }

func (a *rustAdapter) ToolchainVersion() string { return rustProbe.Version() }
