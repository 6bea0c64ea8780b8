package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Version != 1 {
		t.Errorf("Version = %d, want 1", cfg.Version)
	}
	if cfg.Server.Addr == "" {
		t.Error("default server addr should be set")
	}
	if got := cfg.Stages.Structural.Strategies; len(got) != 2 || got[0] != "treesitter" || got[1] != "textscan" {
		t.Errorf("default structural strategies = %v", got)
	}
	if got := cfg.Stages.TechStack.Strategies; len(got) != 2 || got[0] != "manifest" || got[1] != "extension" {
		t.Errorf("default techstack strategies = %v", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestSaveAndLoadRoundtrip(t *testing.T) {
	root := t.TempDir()

	cfg := DefaultConfig()
	cfg.Server.Addr = "127.0.0.1:9999"
	cfg.Pool.Workers = 8
	cfg.Stages.Structural.Strategies = []string{"textscan"}
	if err := cfg.Save(root); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, ConfigDirName, "config.json")); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	loaded, err := LoadConfig(root)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if loaded.Server.Addr != "127.0.0.1:9999" {
		t.Errorf("Server.Addr = %q", loaded.Server.Addr)
	}
	if loaded.Pool.Workers != 8 {
		t.Errorf("Pool.Workers = %d", loaded.Pool.Workers)
	}
	if len(loaded.Stages.Structural.Strategies) != 1 || loaded.Stages.Structural.Strategies[0] != "textscan" {
		t.Errorf("Structural.Strategies = %v", loaded.Stages.Structural.Strategies)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad version", func(c *Config) { c.Version = 2 }},
		{"zero workers", func(c *Config) { c.Pool.Workers = 0 }},
		{"no structural strategies", func(c *Config) { c.Stages.Structural.Strategies = nil }},
		{"no techstack strategies", func(c *Config) { c.Stages.TechStack.Strategies = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() should fail")
			}
		})
	}
}
