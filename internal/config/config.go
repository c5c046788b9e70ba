package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	Dir        = ".trenv"
	ConfigFile = "config.yaml"
	StateFile  = "state.json"
)

type Config struct {
	Version  string   `yaml:"version"`
	Backend  Backend  `yaml:"backend"`
	Defaults Defaults `yaml:"defaults"`
}

// Backend describes how to reach the sandbox backend. Zero values fall back
// to the sandbox client's built-in defaults.
type Backend struct {
	Addr    string        `yaml:"addr,omitempty"`
	Domain  string        `yaml:"domain,omitempty"`
	Secure  bool          `yaml:"secure,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

type Defaults struct {
	Template string            `yaml:"template,omitempty"`
	Cwd      string            `yaml:"cwd,omitempty"`
	Env      map[string]string `yaml:"env"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Version:  "1",
		Defaults: Defaults{Env: map[string]string{}},
	}
}

// Load reads config from .trenv/config.yaml relative to projectDir.
func Load(projectDir string) (*Config, error) {
	path := filepath.Join(projectDir, Dir, ConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Defaults.Env == nil {
		cfg.Defaults.Env = map[string]string{}
	}
	return &cfg, nil
}

// LoadOrDefault is Load, except that a missing config file yields Default().
func LoadOrDefault(projectDir string) (*Config, error) {
	cfg, err := Load(projectDir)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to .trenv/config.yaml relative to projectDir.
func Save(projectDir string, cfg *Config) error {
	dir := filepath.Join(projectDir, Dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	path := filepath.Join(dir, ConfigFile)
	return os.WriteFile(path, data, 0o644)
}

// Exists returns true if .trenv/config.yaml exists.
func Exists(projectDir string) bool {
	path := filepath.Join(projectDir, Dir, ConfigFile)
	_, err := os.Stat(path)
	return err == nil
}
