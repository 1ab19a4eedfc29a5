// Package gitdiff implements the diff provider by shelling out to git.
package gitdiff

import (
	"context"
	"os/exec"
	"strings"

	"go.trai.ch/zerr"

	"github.com/polykit/polykit/internal/core/ports"
)

// Provider returns changed paths from `git diff --name-only`.
type Provider struct {
	// Root is the repository directory git runs in.
	Root string
}

var _ ports.DiffProvider = (*Provider)(nil)

// ChangedFiles lists paths changed relative to base. Paths are repo-relative
// as git reports them.
func (p *Provider) ChangedFiles(ctx context.Context, base string) ([]string, error) {
	if base == "" {
		base = "HEAD"
	}
	if err := validateRef(base); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, "git", "diff", "--name-only", base)
	cmd.Dir = p.Root
	out, err := cmd.Output()
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "git diff failed"), "base", base)
	}

	var files []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// validateRef rejects refs that could be mistaken for git options or carry
// control characters.
func validateRef(ref string) error {
	if len(ref) > 256 {
		return zerr.New("git reference exceeds maximum length")
	}
	if strings.HasPrefix(ref, "-") {
		return zerr.With(zerr.New("git reference cannot start with '-'"), "ref", ref)
	}
	if strings.ContainsAny(ref, "\x00\n\r") {
		return zerr.New("git reference contains invalid characters")
	}
	return nil
}
