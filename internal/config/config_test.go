package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Version != 2 {
		t.Errorf("expected version 2, got %d", cfg.Version)
	}
	if cfg.Extraction.Branch != "main" {
		t.Errorf("expected default branch main, got %q", cfg.Extraction.Branch)
	}
	if !cfg.Policy.ExcludeRollbacks {
		t.Error("rollbacks should be excluded by default")
	}
	if cfg.Periods.WeekStart != "Monday" {
		t.Errorf("expected Monday week start, got %q", cfg.Periods.WeekStart)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("missing config should fall back to defaults: %v", err)
	}
	if cfg.StoragePath != "./dora-data" {
		t.Errorf("expected default storage path, got %q", cfg.StoragePath)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	root := t.TempDir()

	cfg := DefaultConfig()
	cfg.StoragePath = "/var/lib/dora"
	cfg.Extraction.Branch = "trunk"
	cfg.Extraction.HotfixLabels = []string{"p0"}
	cfg.Policy.ExcludeRollbacks = false
	cfg.Periods.Granularity = "monthly"

	if err := cfg.Save(root); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadConfig(root)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if loaded.StoragePath != "/var/lib/dora" {
		t.Errorf("storage path not round-tripped: %q", loaded.StoragePath)
	}
	if loaded.Extraction.Branch != "trunk" {
		t.Errorf("branch not round-tripped: %q", loaded.Extraction.Branch)
	}
	if len(loaded.Extraction.HotfixLabels) != 1 || loaded.Extraction.HotfixLabels[0] != "p0" {
		t.Errorf("hotfix labels not round-tripped: %v", loaded.Extraction.HotfixLabels)
	}
	if loaded.Policy.ExcludeRollbacks {
		t.Error("policy flag not round-tripped")
	}
	if loaded.Periods.Granularity != "monthly" {
		t.Errorf("granularity not round-tripped: %q", loaded.Periods.Granularity)
	}
}

func TestLoadConfigMalformed(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, ConfigDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("{not yaml: ["), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadConfig(root); err == nil {
		t.Error("malformed config must error, not silently default")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(c *Config) {}, true},
		{"bad granularity", func(c *Config) { c.Periods.Granularity = "hourly" }, false},
		{"bad week start", func(c *Config) { c.Periods.WeekStart = "Friday" }, false},
		{"bad failure source", func(c *Config) { c.Policy.FailureSource = "chaos" }, false},
		{"negative retention", func(c *Config) { c.Retention.Days = -1 }, false},
		{"bad version", func(c *Config) { c.Version = 1 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
