// Package lang implements the per-language adapters for package metadata,
// version management, and toolchain discovery.
package lang

import (
	"os/exec"
	"strings"
	"sync"

	"github.com/polykit/polykit/internal/core/domain"
	"github.com/polykit/polykit/internal/core/ports"
)

// registry holds one adapter per language. The set is closed.
var registry = map[domain.Language]ports.LanguageAdapter{
	domain.LangJS:     &jsAdapter{lang: domain.LangJS},
	domain.LangTS:     &jsAdapter{lang: domain.LangTS},
	domain.LangPython: &pythonAdapter{},
	domain.LangGo:     &goAdapter{},
	domain.LangRust:   &rustAdapter{},
}

// For returns the adapter for a language.
func For(lang domain.Language) ports.LanguageAdapter {
	return registry[lang]
}

// toolchainProbe runs a version command once per process and caches the
// result. A missing toolchain yields "<tool>-unavailable" rather than an
// error so scanning stays usable on partial installs.
type toolchainProbe struct {
	tool string
	arg  string

	once    sync.Once
	version string
}

func (p *toolchainProbe) Version() string {
	p.once.Do(func() {
		out, err := exec.Command(p.tool, p.arg).Output()
		if err != nil {
			p.version = p.tool + "-unavailable"
			return
		}
		line := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
		if line == "" {
			line = "unknown"
		}
		p.version = p.tool + "-" + line
	})
	return p.version
}
