// Package config provides on-disk defaults for Phantom's command-line
// flags, loaded before the capture backend and storage are constructed
// so a flag left at its zero value can fall back to a persisted
// preference instead of the hardcoded default.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config mirrors the command-line flag surface: backend selection,
// output mode, proxy port, storage root, and the preload shim path.
type Config struct {
	// Backend is the capture backend: "proxy" or "ldpreload".
	Backend string `yaml:"backend"`
	// Output is the display mode: "tui" or "jsonl".
	Output string `yaml:"output"`
	// Port is the TCP port the proxy backend binds.
	Port int `yaml:"port"`
	// DataDir is the storage root for the trace store.
	DataDir string `yaml:"dataDir,omitempty"`
	// AgentLib is the shared library preloaded for the ldpreload backend.
	AgentLib string `yaml:"agentLib,omitempty"`
}

// DefaultConfig returns Phantom's built-in flag defaults.
func DefaultConfig() *Config {
	return &Config{
		Backend: "proxy",
		Output:  "tui",
		Port:    8080,
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads configuration from a file, or returns default if not found.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "phantom.yaml"
	}
	return filepath.Join(home, ".phantom", "config.yaml")
}
