package domain

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown detector", func(c *Config) { c.Models.Enabled = []string{"magic"} }},
		{"unknown weight target", func(c *Config) { c.Ensemble.Weights = map[string]float64{"magic": 2} }},
		{"unknown method", func(c *Config) { c.Ensemble.Method = "quorum" }},
		{"unknown aggregation", func(c *Config) { c.Features.Aggregations = []string{"mode"} }},
		{"percentile too low", func(c *Config) { c.Models.ScorePercentile = 0 }},
		{"percentile too high", func(c *Config) { c.Models.ScorePercentile = 100 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  port: 9090
models:
  enabled: [isolation_forest]
  scorePercentile: 90
ensemble:
  method: weighted
  weights:
    isolation_forest: 2.0
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port: got %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("host default lost: %q", cfg.Server.Host)
	}
	if len(cfg.Models.Enabled) != 1 || cfg.Models.Enabled[0] != KindIsolationForest {
		t.Errorf("enabled: %v", cfg.Models.Enabled)
	}
	if cfg.Ensemble.Method != MethodWeighted {
		t.Errorf("method: %q", cfg.Ensemble.Method)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("store default lost: %q", cfg.Store.Driver)
	}
}

func TestLoadConfigRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("ensemble:\n  method: quorum\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for unknown method")
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
