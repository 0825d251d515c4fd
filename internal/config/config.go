// Package config loads swarm configuration from .swarm/config.toml and the
// environment, and resolves database URL candidates.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ConfigDir is the per-repo directory holding swarm state.
const ConfigDir = ".swarm"

// ConfigFile is the TOML file inside ConfigDir.
const ConfigFile = "config.toml"

// DefaultMaxAgents is used when neither input nor config supplies a count.
const DefaultMaxAgents = 10

// DefaultMaxImplementationAttempts bounds stage retries per bead.
const DefaultMaxImplementationAttempts = 3

// Config is the on-disk swarm configuration.
type Config struct {
	DatabaseURL               string            `toml:"database_url,omitempty"`
	MaxAgents                 uint32            `toml:"max_agents"`
	MaxImplementationAttempts uint32            `toml:"max_implementation_attempts"`
	ClaimLabel                string            `toml:"claim_label"`
	StageCommands             map[string]string `toml:"stage_commands"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		MaxAgents:                 DefaultMaxAgents,
		MaxImplementationAttempts: DefaultMaxImplementationAttempts,
		ClaimLabel:                "swarm-ready",
		StageCommands:             map[string]string{},
	}
}

// Path returns the config file path under the given root.
func Path(root string) string {
	return filepath.Join(root, ConfigDir, ConfigFile)
}

// Load reads the config file under root, falling back to defaults when the
// file is missing. A present-but-malformed file is an error.
func Load(root string) (Config, error) {
	cfg := Default()
	path := Path(root)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.MaxAgents == 0 {
		cfg.MaxAgents = DefaultMaxAgents
	}
	if cfg.MaxImplementationAttempts == 0 {
		cfg.MaxImplementationAttempts = DefaultMaxImplementationAttempts
	}
	if cfg.StageCommands == nil {
		cfg.StageCommands = map[string]string{}
	}
	return cfg, nil
}

// Save writes the config file under root, creating the directory if needed.
func Save(root string, cfg Config) error {
	dir := filepath.Join(root, ConfigDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	f, err := os.Create(Path(root))
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}
