package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load with defaults: %v", err)
	}

	if cfg.Server.Address != ":8650" {
		t.Errorf("server address = %q", cfg.Server.Address)
	}
	if cfg.Window.Duration != 2*time.Minute || cfg.Window.SamplingInterval != 15*time.Second {
		t.Errorf("window defaults = %+v", cfg.Window)
	}
	if cfg.Scoring.Cutoff != 0.8 || cfg.Scoring.HysteresisMargin != 0.1 || cfg.Scoring.ConsecutiveK != 2 {
		t.Errorf("scoring defaults = %+v", cfg.Scoring)
	}
	if cfg.Correlate.Lookback != 5*time.Minute || cfg.Correlate.RelevanceThreshold != 2.0 {
		t.Errorf("correlate defaults = %+v", cfg.Correlate)
	}
	if cfg.Alerts.ReopenWindow != 10*time.Minute || cfg.Alerts.Retention != 24*time.Hour {
		t.Errorf("alerts defaults = %+v", cfg.Alerts)
	}
	if cfg.Journal.Enabled {
		t.Errorf("journal should be disabled by default")
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
server:
  address: ":9000"
window:
  duration: 1m
  samplingInterval: 10s
  mode: tumbling
scoring:
  cutoff: 0.9
  consecutiveK: 3
pipeline:
  snapshotQueueCapacity: 64
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Address != ":9000" {
		t.Errorf("server address = %q", cfg.Server.Address)
	}
	if cfg.Window.Mode != "tumbling" || cfg.Window.Duration != time.Minute {
		t.Errorf("window = %+v", cfg.Window)
	}
	if cfg.Scoring.Cutoff != 0.9 || cfg.Scoring.ConsecutiveK != 3 {
		t.Errorf("scoring = %+v", cfg.Scoring)
	}
	// Untouched sections retain defaults.
	if cfg.Scoring.HysteresisMargin != 0.1 {
		t.Errorf("hysteresis margin = %v, want default 0.1", cfg.Scoring.HysteresisMargin)
	}
	if cfg.Pipeline.SnapshotQueueCapacity != 64 || cfg.Pipeline.LogQueueCapacity != 1024 {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VIGIL_SERVER_ADDRESS", ":7777")
	t.Setenv("VIGIL_SCORING_CUTOFF", "0.85")
	t.Setenv("VIGIL_SCORING_CONSECUTIVE_K", "4")
	t.Setenv("VIGIL_ALERTS_RETENTION", "12h")
	t.Setenv("VIGIL_JOURNAL_ENABLED", "true")
	t.Setenv("VIGIL_LOG_FORMAT", "json")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Address != ":7777" {
		t.Errorf("server address = %q", cfg.Server.Address)
	}
	if cfg.Scoring.Cutoff != 0.85 || cfg.Scoring.ConsecutiveK != 4 {
		t.Errorf("scoring = %+v", cfg.Scoring)
	}
	if cfg.Alerts.Retention != 12*time.Hour {
		t.Errorf("retention = %v", cfg.Alerts.Retention)
	}
	if !cfg.Journal.Enabled {
		t.Errorf("journal should be enabled")
	}
	if !cfg.Logging.JSON {
		t.Errorf("logging should be json")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero sampling interval", func(c *Config) { c.Window.SamplingInterval = 0 }},
		{"window shorter than interval", func(c *Config) { c.Window.Duration = time.Second }},
		{"unknown mode", func(c *Config) { c.Window.Mode = "hopping" }},
		{"cutoff above one", func(c *Config) { c.Scoring.Cutoff = 1.5 }},
		{"margin at cutoff", func(c *Config) { c.Scoring.HysteresisMargin = 0.8 }},
		{"zero consecutive k", func(c *Config) { c.Scoring.ConsecutiveK = 0 }},
		{"zero queue capacity", func(c *Config) { c.Pipeline.SnapshotQueueCapacity = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(&cfg)
			if err := validate(&cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
