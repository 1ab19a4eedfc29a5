package config

import "github.com/BurntSushi/toml"

// manifestDTO mirrors the structure of a per-package polykit.toml.
type manifestDTO struct {
	Name     string                    `toml:"name"`
	Language string                    `toml:"language"`
	Public   bool                      `toml:"public"`
	Deps     depsDTO                   `toml:"deps"`
	Tasks    map[string]toml.Primitive `toml:"tasks"`
}

type depsDTO struct {
	Internal []string `toml:"internal"`
}

// taskDTO is the table form of a task value. The short form is a bare
// command string.
type taskDTO struct {
	Command   string   `toml:"command"`
	DependsOn []string `toml:"depends_on"`
	Outputs   []string `toml:"outputs"`
}

// workspaceFileDTO mirrors the optional polykit.toml at the repository root.
type workspaceFileDTO struct {
	Workspace   workspaceDTO    `toml:"workspace"`
	RemoteCache *remoteCacheDTO `toml:"remote_cache"`
}

type workspaceDTO struct {
	PackagesDir     string `toml:"packages_dir"`
	CacheDir        string `toml:"cache_dir"`
	DefaultParallel int    `toml:"default_parallel"`
}

type remoteCacheDTO struct {
	URL             string   `toml:"url"`
	ReadOnly        bool     `toml:"read_only"`
	EnvVars         []string `toml:"env_vars"`
	InputFiles      []string `toml:"input_files"`
	MaxArtifactSize int64    `toml:"max_artifact_size"`
}
