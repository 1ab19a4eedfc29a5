package lang

import (
	"os"
	"path/filepath"

	"go.trai.ch/zerr"
	"golang.org/x/mod/modfile"

	"github.com/polykit/polykit/internal/core/domain"
)

var goProbe = &toolchainProbe{tool: "go", arg: "version"}

// goAdapter handles Go packages. Go modules carry no version in go.mod, so
// ReadVersion always reports none and WriteVersion refuses.
type goAdapter struct{}

func (a *goAdapter) Language() domain.Language { return domain.LangGo }

func (a *goAdapter) MetadataFile() string { return "go.mod" }

func (a *goAdapter) Detect(dir string) bool {
	path := filepath.Join(dir, "go.mod")
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return modfile.ModulePath(data) != ""
}

func (a *goAdapter) ReadVersion(string) (string, bool, error) {
	return "", false, nil
}

func (a *goAdapter) WriteVersion(dir, _ string) error {
	return zerr.With(zerr.New("go modules have no manifest version to write"), "dir", dir)
}

func (a *goAdapter) DefaultOutputs() []string { return []string{"bin"} }

func (a *goAdapter) ToolchainVersion() string { return goProbe.Version() }
