package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal errors with "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
// The returned Config has an absolute state directory and has been
// validated after every layer was applied.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	applyEnv(cfg, env)
	applyCLI(cfg, cli)

	if cfg.State.Dir == "" {
		cfg.State.Dir = DefaultStateDir()
	}

	cfg.State.Dir = expandTilde(cfg.State.Dir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	if err := ValidateResolved(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func applyEnv(cfg *Config, env EnvOverrides) {
	if env.Token != "" {
		cfg.Server.Token = env.Token
	}

	if env.ServerURL != "" {
		cfg.Server.BaseURL = env.ServerURL
	}

	if env.StateDir != "" {
		cfg.State.Dir = env.StateDir
	}
}

func applyCLI(cfg *Config, cli CLIOverrides) {
	if cli.ServerURL != nil {
		cfg.Server.BaseURL = *cli.ServerURL
	}

	if cli.StateDir != nil {
		cfg.State.Dir = *cli.StateDir
	}

	if cli.ChunkSize != nil {
		cfg.Upload.ChunkSize = *cli.ChunkSize
	}

	if cli.Concurrency != nil {
		cfg.Upload.MaxConcurrentChunks = *cli.Concurrency
	}

	if cli.WatchSource != nil {
		cfg.Upload.WatchSource = *cli.WatchSource
	}

	if cli.EventsURL != nil {
		cfg.Events.WebsocketURL = *cli.EventsURL
	}
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}
