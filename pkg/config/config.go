// Package config resolves Skuld workspace configuration from defaults, an
// optional skuld.yaml in the workspace root, and SKULD_* environment
// variables, in that order of precedence (environment wins).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Workspace file layout inside the metadata directory.
const (
	// ConfigFileName is the optional per-workspace configuration file.
	ConfigFileName = "skuld.yaml"

	// LogFileName is the main transaction journal.
	LogFileName = "transactions.jsonl"

	// UndoFileName is the undo journal.
	UndoFileName = "undo.jsonl"

	// GraphDirName holds the Badger projection store.
	GraphDirName = "graph"
)

// Config holds all workspace settings.
type Config struct {
	// WorkspaceDir is the root of the knowledge-graph workspace.
	WorkspaceDir string `env:"SKULD_WORKSPACE" yaml:"workspace"`

	// MetaDirName is the metadata directory name under the workspace root.
	MetaDirName string `env:"SKULD_META_DIR" yaml:"metaDir"`

	// Author is recorded on transactions minted by this process.
	Author string `env:"SKULD_AUTHOR" yaml:"author"`

	// LogLevel controls structured logging (debug, info, warn, error).
	LogLevel string `env:"SKULD_LOG_LEVEL" yaml:"logLevel"`

	// VerifyIntegrity makes verify recompute canonical hashes in addition
	// to checking chain linkage.
	VerifyIntegrity bool `env:"SKULD_VERIFY_INTEGRITY" yaml:"verifyIntegrity"`
}

func defaults() Config {
	return Config{
		WorkspaceDir: ".",
		MetaDirName:  ".skuld",
		Author:       "skuld",
		LogLevel:     "info",
	}
}

// Load resolves the configuration for the workspace rooted at dir. An empty
// dir means the current directory. The optional skuld.yaml overrides
// defaults; explicit SKULD_* environment variables override both.
func Load(dir string) (Config, error) {
	cfg := defaults()
	if dir != "" {
		cfg.WorkspaceDir = dir
	}

	yamlPath := filepath.Join(cfg.WorkspaceDir, ConfigFileName)
	if data, err := os.ReadFile(yamlPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", yamlPath, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: read %s: %w", yamlPath, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	return cfg, nil
}

// MetaDir is the workspace metadata directory.
func (c Config) MetaDir() string {
	return filepath.Join(c.WorkspaceDir, c.MetaDirName)
}

// LogPath is the main transaction journal file.
func (c Config) LogPath() string {
	return filepath.Join(c.MetaDir(), LogFileName)
}

// UndoPath is the undo journal file.
func (c Config) UndoPath() string {
	return filepath.Join(c.MetaDir(), UndoFileName)
}

// GraphDir is the Badger projection store directory.
func (c Config) GraphDir() string {
	return filepath.Join(c.MetaDir(), GraphDirName)
}
