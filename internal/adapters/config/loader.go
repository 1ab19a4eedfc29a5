// Package config loads polykit.toml manifests and the optional workspace
// file into domain types.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"go.trai.ch/zerr"

	"github.com/polykit/polykit/internal/core/domain"
)

// ManifestName is the per-package manifest filename.
const ManifestName = "polykit.toml"

// LoadManifest parses the manifest at path into a Package. The caller fills
// in Dir, Mtimes, and Toolchain.
func LoadManifest(path string) (*domain.Package, error) {
	var dto manifestDTO
	md, err := toml.DecodeFile(path, &dto)
	if err != nil {
		return nil, &domain.ConfigError{Path: path, Message: err.Error()}
	}

	if dto.Name == "" {
		return nil, &domain.ConfigError{Path: path, Message: "missing required field 'name'"}
	}
	lang, ok := domain.ParseLanguage(dto.Language)
	if !ok {
		return nil, &domain.ConfigError{
			Path:    path,
			Message: "invalid language " + dto.Language + ": supported languages are js, ts, python, go, rust",
		}
	}

	tasks := make(map[string]domain.Task, len(dto.Tasks))
	for name, prim := range dto.Tasks {
		task, err := decodeTask(md, name, prim)
		if err != nil {
			return nil, &domain.ConfigError{Path: path, Message: err.Error()}
		}
		tasks[name] = task
	}

	return &domain.Package{
		Name:     dto.Name,
		Language: lang,
		Public:   dto.Public,
		Deps:     domain.DedupeDeps(dto.Deps.Internal),
		Tasks:    tasks,
	}, nil
}

// decodeTask accepts either the short form (a bare command string) or the
// table form with command, depends_on, and outputs.
func decodeTask(md toml.MetaData, name string, prim toml.Primitive) (domain.Task, error) {
	var command string
	if err := md.PrimitiveDecode(prim, &command); err == nil {
		return domain.Task{Name: name, Command: command}, nil
	}

	var dto taskDTO
	if err := md.PrimitiveDecode(prim, &dto); err != nil {
		return domain.Task{}, zerr.With(zerr.Wrap(err, "task value must be a string or a table"), "task", name)
	}
	if dto.Command == "" {
		return domain.Task{}, zerr.With(zerr.New("task table must have a 'command' field"), "task", name)
	}
	return domain.Task{
		Name:      name,
		Command:   dto.Command,
		DependsOn: dto.DependsOn,
		Outputs:   dto.Outputs,
	}, nil
}

// LoadWorkspace reads the optional workspace file at <root>/polykit.toml and
// returns the workspace with defaults applied. A missing file yields a
// default workspace.
func LoadWorkspace(root string) (*domain.Workspace, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to resolve workspace root"), "root", root)
	}

	ws := &domain.Workspace{Root: absRoot}

	path := filepath.Join(absRoot, ManifestName)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			ws.ApplyDefaults()
			return ws, nil
		}
		return nil, zerr.With(zerr.Wrap(err, "failed to stat workspace file"), "path", path)
	}

	var dto workspaceFileDTO
	if _, err := toml.DecodeFile(path, &dto); err != nil {
		return nil, &domain.ConfigError{Path: path, Message: err.Error()}
	}

	ws.PackagesDir = dto.Workspace.PackagesDir
	ws.CacheDir = dto.Workspace.CacheDir
	ws.DefaultParallel = dto.Workspace.DefaultParallel
	if dto.RemoteCache != nil {
		ws.RemoteCache = &domain.RemoteCacheConfig{
			URL:             dto.RemoteCache.URL,
			ReadOnly:        dto.RemoteCache.ReadOnly,
			EnvVars:         dto.RemoteCache.EnvVars,
			InputGlobs:      dto.RemoteCache.InputFiles,
			MaxArtifactSize: dto.RemoteCache.MaxArtifactSize,
		}
	}
	ws.ApplyDefaults()
	return ws, nil
}
