package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Backend != "proxy" {
		t.Errorf("Backend = %q, want proxy", cfg.Backend)
	}
	if cfg.Output != "tui" {
		t.Errorf("Output = %q, want tui", cfg.Output)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
}

func TestLoadOrDefaultMissingFileReturnsDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Backend != "proxy" {
		t.Errorf("expected default backend, got %q", cfg.Backend)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := &Config{Backend: "ldpreload", Output: "jsonl", Port: 9090, AgentLib: "/tmp/agent.so"}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Backend != cfg.Backend || loaded.Output != cfg.Output || loaded.Port != cfg.Port || loaded.AgentLib != cfg.AgentLib {
		t.Errorf("round trip mismatch: got %+v, want %+v", loaded, cfg)
	}
}
