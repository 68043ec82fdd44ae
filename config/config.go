// Package config decodes the loader's single-binary configuration
// (spec SPEC_FULL.md AMBIENT STACK: Configuration) from TOML via
// github.com/pelletier/go-toml/v2.
package config

import (
	"fmt"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// LoaderConfig is the top-level configuration document for
// cmd/modloaderd.
type LoaderConfig struct {
	// ScratchRoot is the directory under which per-revision scratch
	// directories are allocated (spec §4.8 step 5a).
	ScratchRoot string `toml:"scratch_root"`

	// PollInterval is how often RepositoryPoller polls its registered
	// repositories.
	PollInterval time.Duration `toml:"poll_interval"`

	// ShardCount is the number of shards an ArchiveRepository divides
	// its archives across (spec §4.9).
	ShardCount int `toml:"shard_count"`

	// RepoDir is the directory-of-archives backend's root, used when
	// Registry.Endpoint is empty.
	RepoDir string `toml:"repo_dir"`

	// DefaultAppImports is the loader-wide default application-import
	// filter used when a module declares no appImportFilter of its own
	// (spec §4.5 step 2).
	DefaultAppImports []string `toml:"default_app_imports"`

	// Registry configures an optional OCI-backed ArchiveRepository.
	Registry RegistryConfig `toml:"registry"`
}

// RegistryConfig configures repository/ocirepo.
type RegistryConfig struct {
	Endpoint  string `toml:"endpoint"`
	Namespace string `toml:"namespace"`
}

// Default returns sane defaults for local/dev use.
func Default() LoaderConfig {
	return LoaderConfig{
		ScratchRoot:  "./scratch",
		PollInterval: 5 * time.Second,
		ShardCount:   8,
		RepoDir:      "./repo",
	}
}

// Decode parses a TOML document into a LoaderConfig seeded with
// [Default]'s values, so a config file only needs to override what it
// cares about.
func Decode(data []byte) (LoaderConfig, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return LoaderConfig{}, fmt.Errorf("config: decode: %w", err)
	}
	if cfg.ShardCount <= 0 {
		return LoaderConfig{}, fmt.Errorf("config: shard_count must be positive, got %d", cfg.ShardCount)
	}
	return cfg, nil
}
