package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the agent.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Window    WindowConfig    `yaml:"window"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Correlate CorrelateConfig `yaml:"correlate"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Journal   JournalConfig   `yaml:"journal"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logging   LoggingConfig   `yaml:"logging"`
	Rules     RulesConfig     `yaml:"rules"`
}

// ServerConfig controls the local API listener and metrics sidecar.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// WindowConfig controls feature windowing over the snapshot stream.
type WindowConfig struct {
	// Duration is the span of one feature window.
	Duration time.Duration `yaml:"duration"`
	// SamplingInterval is the expected cadence of the snapshot source.
	SamplingInterval time.Duration `yaml:"samplingInterval"`
	// Mode selects "sliding" (default, one vector per push once full) or
	// "tumbling" (one vector per full window).
	Mode string `yaml:"mode"`
}

// ScoringConfig controls the anomaly decision policy around the model.
type ScoringConfig struct {
	Cutoff           float64       `yaml:"cutoff"`
	HysteresisMargin float64       `yaml:"hysteresisMargin"`
	ConsecutiveK     int           `yaml:"consecutiveK"`
	Timeout          time.Duration `yaml:"timeout"`
}

// CorrelateConfig controls the culprit correlation index and ranking.
type CorrelateConfig struct {
	Lookback           time.Duration `yaml:"lookback"`
	Capacity           int           `yaml:"capacity"`
	RelevanceThreshold float64       `yaml:"relevanceThreshold"`
}

// AlertsConfig controls alert lifecycle timing.
type AlertsConfig struct {
	ReopenWindow time.Duration `yaml:"reopenWindow"`
	Retention    time.Duration `yaml:"retention"`
}

// PipelineConfig controls queue sizing for the ingestion producers.
type PipelineConfig struct {
	SnapshotQueueCapacity int           `yaml:"snapshotQueueCapacity"`
	LogQueueCapacity      int           `yaml:"logQueueCapacity"`
	SweepInterval         time.Duration `yaml:"sweepInterval"`
}

// JournalConfig controls the optional sqlite alert transition journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// WebhookConfig controls the optional alert webhook subscriber.
type WebhookConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RulesConfig controls category rule-pack loading.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("VIGIL_AGENT_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8650",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Window: WindowConfig{
			Duration:         2 * time.Minute,
			SamplingInterval: 15 * time.Second,
			Mode:             "sliding",
		},
		Scoring: ScoringConfig{
			Cutoff:           0.8,
			HysteresisMargin: 0.1,
			ConsecutiveK:     2,
			Timeout:          2 * time.Second,
		},
		Correlate: CorrelateConfig{
			Lookback:           5 * time.Minute,
			Capacity:           4096,
			RelevanceThreshold: 2.0,
		},
		Alerts: AlertsConfig{
			ReopenWindow: 10 * time.Minute,
			Retention:    24 * time.Hour,
		},
		Pipeline: PipelineConfig{
			SnapshotQueueCapacity: 256,
			LogQueueCapacity:      1024,
			SweepInterval:         30 * time.Second,
		},
		Journal: JournalConfig{Enabled: false, Path: "vigil-alerts.db"},
		Webhook: WebhookConfig{Timeout: 3 * time.Second},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Rules:   RulesConfig{Path: ""},
	}
}

func validate(cfg *Config) error {
	if cfg.Window.SamplingInterval <= 0 {
		return fmt.Errorf("window.samplingInterval must be positive")
	}
	if cfg.Window.Duration < cfg.Window.SamplingInterval {
		return fmt.Errorf("window.duration must cover at least one sampling interval")
	}
	if cfg.Window.Mode != "sliding" && cfg.Window.Mode != "tumbling" {
		return fmt.Errorf("window.mode must be sliding or tumbling, got %q", cfg.Window.Mode)
	}
	if cfg.Scoring.Cutoff <= 0 || cfg.Scoring.Cutoff > 1 {
		return fmt.Errorf("scoring.cutoff must be in (0,1]")
	}
	if cfg.Scoring.HysteresisMargin < 0 || cfg.Scoring.HysteresisMargin >= cfg.Scoring.Cutoff {
		return fmt.Errorf("scoring.hysteresisMargin must be in [0, cutoff)")
	}
	if cfg.Scoring.ConsecutiveK < 1 {
		return fmt.Errorf("scoring.consecutiveK must be at least 1")
	}
	if cfg.Pipeline.SnapshotQueueCapacity < 1 || cfg.Pipeline.LogQueueCapacity < 1 {
		return fmt.Errorf("pipeline queue capacities must be at least 1")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VIGIL_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("VIGIL_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("VIGIL_WINDOW_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Window.Duration = d
		}
	}
	if v := os.Getenv("VIGIL_SAMPLING_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Window.SamplingInterval = d
		}
	}
	if v := os.Getenv("VIGIL_WINDOW_MODE"); v != "" {
		cfg.Window.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("VIGIL_SCORING_CUTOFF"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Scoring.Cutoff = f
		}
	}
	if v := os.Getenv("VIGIL_SCORING_MARGIN"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Scoring.HysteresisMargin = f
		}
	}
	if v := os.Getenv("VIGIL_SCORING_CONSECUTIVE_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil {
			cfg.Scoring.ConsecutiveK = k
		}
	}
	if v := os.Getenv("VIGIL_SCORING_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scoring.Timeout = d
		}
	}
	if v := os.Getenv("VIGIL_CORRELATE_LOOKBACK"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Correlate.Lookback = d
		}
	}
	if v := os.Getenv("VIGIL_CORRELATE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Correlate.Capacity = n
		}
	}
	if v := os.Getenv("VIGIL_ALERTS_REOPEN_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Alerts.ReopenWindow = d
		}
	}
	if v := os.Getenv("VIGIL_ALERTS_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Alerts.Retention = d
		}
	}
	if v := os.Getenv("VIGIL_SNAPSHOT_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.SnapshotQueueCapacity = n
		}
	}
	if v := os.Getenv("VIGIL_LOG_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.LogQueueCapacity = n
		}
	}
	if v := os.Getenv("VIGIL_JOURNAL_ENABLED"); v != "" {
		cfg.Journal.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("VIGIL_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
	if v := os.Getenv("VIGIL_WEBHOOK_URL"); v != "" {
		cfg.Webhook.URL = v
	}
	if v := os.Getenv("VIGIL_WEBHOOK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Webhook.Timeout = d
		}
	}
	if v := os.Getenv("VIGIL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("VIGIL_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("VIGIL_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
}
