package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config does not validate: %v", err)
	}

	if cfg.Analyzer.Provider != "perplexity" {
		t.Errorf("expected provider 'perplexity', got %q", cfg.Analyzer.Provider)
	}
	if cfg.Ingest.HardLimit != 10 || cfg.Ingest.SoftLimit != 5 {
		t.Errorf("expected limits 10/5, got %d/%d", cfg.Ingest.HardLimit, cfg.Ingest.SoftLimit)
	}
	if cfg.Ingest.RecentDays != 60 {
		t.Errorf("expected recent_days 60, got %d", cfg.Ingest.RecentDays)
	}
	if cfg.Refresh.Budget != 55*time.Second {
		t.Errorf("expected budget 55s, got %s", cfg.Refresh.Budget)
	}
	if cfg.Analyzer.Retry.BaseDelay != time.Second {
		t.Errorf("expected base_delay 1s, got %s", cfg.Analyzer.Retry.BaseDelay)
	}
}

func TestDefaultMatchesEmbeddedYAML(t *testing.T) {
	fromYAML, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if fromYAML.Ingest != Default().Ingest {
		t.Errorf("ingest defaults drifted: yaml %+v, code %+v", fromYAML.Ingest, Default().Ingest)
	}
	if fromYAML.Refresh != Default().Refresh {
		t.Errorf("refresh defaults drifted: yaml %+v, code %+v", fromYAML.Refresh, Default().Refresh)
	}
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
analyzer:
  provider: ollama
  model: qwen2.5:7b
  base_url: http://localhost:11434
ingest:
  recent_days: 30
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("failed to parse minimal config: %v", err)
	}

	if cfg.Analyzer.Provider != "ollama" {
		t.Errorf("expected provider 'ollama', got %q", cfg.Analyzer.Provider)
	}
	if cfg.Ingest.RecentDays != 30 {
		t.Errorf("expected recent_days 30, got %d", cfg.Ingest.RecentDays)
	}
	// Defaults should still be set for unspecified fields
	if cfg.Ingest.HardLimit != 10 {
		t.Errorf("expected default hard_limit, got %d", cfg.Ingest.HardLimit)
	}
	if cfg.Analyzer.MaxInputChars != 6000 {
		t.Errorf("expected default max_input_chars, got %d", cfg.Analyzer.MaxInputChars)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"soft equals hard", func(c *Config) { c.Ingest.SoftLimit = 10 }, "soft_limit"},
		{"zero window", func(c *Config) { c.Ingest.RecentDays = 0 }, "recent_days"},
		{"zero batch", func(c *Config) { c.Ingest.ChannelBatch = 0 }, "channel_batch"},
		{"zero budget", func(c *Config) { c.Refresh.Budget = 0 }, "budget"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }, "storage.driver"},
		{"unknown provider", func(c *Config) { c.Analyzer.Provider = "claude-api" }, "analyzer.provider"},
		{"postgres driver", func(c *Config) { c.Storage.Driver = "postgres" }, ""},
		{"gemini provider", func(c *Config) { c.Analyzer.Provider = "gemini" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, DefaultConfigYAML, 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Sources.Telegram.BaseURL != "https://t.me" {
		t.Errorf("expected telegram base url from file, got %q", cfg.Sources.Telegram.BaseURL)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("ingest:\n  soft_limit: 20\n"), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestResolveConfigPathExplicitMissing(t *testing.T) {
	if _, err := ResolveConfigPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit path")
	}
}

func TestGetDataDir(t *testing.T) {
	cfg := &Config{}
	defaultDir := cfg.GetDataDir()
	if defaultDir == "" {
		t.Error("expected non-empty default data dir")
	}

	cfg.Storage.DataDir = "/custom/path"
	if cfg.GetDataDir() != "/custom/path" {
		t.Errorf("expected '/custom/path', got %q", cfg.GetDataDir())
	}
	if cfg.DigestOutput() != filepath.Join("/custom/path", "digest.html") {
		t.Errorf("unexpected digest output %q", cfg.DigestOutput())
	}
}
