package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Hyperliquid.Symbol != "BTC" {
		t.Errorf("expected default symbol BTC, got %s", cfg.Hyperliquid.Symbol)
	}
	if cfg.Scheduler.LeaderboardRefreshSeconds != 3600 {
		t.Errorf("expected refresh 3600s, got %d", cfg.Scheduler.LeaderboardRefreshSeconds)
	}
	if cfg.Retention.ScoresDays != 90 {
		t.Errorf("expected scores retention 90d, got %d", cfg.Retention.ScoresDays)
	}
	if cfg.Scoring.MinScore != 50 {
		t.Errorf("expected min_score 50, got %f", cfg.Scoring.MinScore)
	}
	if cfg.Scoring.MaxCount != 500 {
		t.Errorf("expected max_count 500, got %d", cfg.Scoring.MaxCount)
	}
	if cfg.Weighting.Dimensions.Performance != 0.40 {
		t.Errorf("expected performance dimension 0.40, got %f", cfg.Weighting.Dimensions.Performance)
	}
	if cfg.Alerts.MaxAgeHours != 24 {
		t.Errorf("expected alert max age 24h, got %d", cfg.Alerts.MaxAgeHours)
	}
	if cfg.Redis.URL != "" {
		t.Errorf("expected empty redis url default, got %s", cfg.Redis.URL)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected default log level info, got %s", cfg.Log.Level)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("HYPERLIQUID__SYMBOL", "ETH")
	t.Setenv("MONGO__DATABASE", "testdb")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Hyperliquid.Symbol != "ETH" {
		t.Errorf("env override failed, got symbol %s", cfg.Hyperliquid.Symbol)
	}
	if cfg.Mongo.Database != "testdb" {
		t.Errorf("env override failed, got database %s", cfg.Mongo.Database)
	}
}

// API_HOST, API_PORT and LOG_LEVEL are recognized under their flat
// single-underscore names, not just the __ nesting convention.
func TestLoadFlatEnvNames(t *testing.T) {
	t.Setenv("API_HOST", "10.1.2.3")
	t.Setenv("API_PORT", "9999")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.Host != "10.1.2.3" {
		t.Errorf("API_HOST ignored, got host %s", cfg.API.Host)
	}
	if cfg.API.Port != 9999 {
		t.Errorf("API_PORT ignored, got port %d", cfg.API.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("LOG_LEVEL ignored, got level %s", cfg.Log.Level)
	}
}

// The nested form wins when both spellings are set.
func TestLoadNestedEnvPrecedence(t *testing.T) {
	t.Setenv("API__PORT", "7777")
	t.Setenv("API_PORT", "9999")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.Port != 7777 {
		t.Errorf("expected API__PORT to win, got port %d", cfg.API.Port)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
hyperliquid:
  symbol: SOL
scheduler:
  leaderboard_refresh_seconds: 60
scoring:
  min_score: 75
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Hyperliquid.Symbol != "SOL" {
		t.Errorf("expected SOL, got %s", cfg.Hyperliquid.Symbol)
	}
	if cfg.Scheduler.LeaderboardRefreshSeconds != 60 {
		t.Errorf("expected 60s refresh, got %d", cfg.Scheduler.LeaderboardRefreshSeconds)
	}
	if cfg.Scoring.MinScore != 75 {
		t.Errorf("expected min_score 75, got %f", cfg.Scoring.MinScore)
	}
	// untouched keys keep their defaults
	if cfg.Mongo.Database != "hyperwatch" {
		t.Errorf("expected default database, got %s", cfg.Mongo.Database)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("no_such_section:\n  key: 1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for unknown config key")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty symbol", func(c *Config) { c.Hyperliquid.Symbol = "" }},
		{"empty mongo url", func(c *Config) { c.Mongo.URL = "" }},
		{"bad port", func(c *Config) { c.API.Port = 0 }},
		{"unknown log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"zero refresh", func(c *Config) { c.Scheduler.LeaderboardRefreshSeconds = 0 }},
		{"mismatched tiers", func(c *Config) { c.Scoring.AccountValuePoints = []float64{1} }},
		{"zero max_count", func(c *Config) { c.Scoring.MaxCount = 0 }},
		{"inverted alert thresholds", func(c *Config) { c.Alerts.AlphaWhaleThreshold = 1 }},
		{"zero alert age", func(c *Config) { c.Alerts.MaxAgeHours = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
