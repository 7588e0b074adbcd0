package engine

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vigilstack/vigil-agent/internal/alerts"
	"github.com/vigilstack/vigil-agent/internal/models"
)

// Categorizer maps a feature vector to its logical anomaly category, the
// dedup key of the alert table. Categories come from a YAML rule pack with
// built-in defaults for the four device-health dimensions.
type Categorizer struct {
	rules  []CategoryRule
	logger *slog.Logger
}

// CategoryRule binds one feature dimension to a category and its alert
// annotations.
type CategoryRule struct {
	Category  string   `yaml:"category"`
	Label     string   `yaml:"label"`
	Dimension string   `yaml:"dimension"`
	MinValue  float64  `yaml:"minValue"`
	Actions   []string `yaml:"actions"`
}

// CategoryRulesFile is the YAML root structure.
type CategoryRulesFile struct {
	Rules []CategoryRule `yaml:"rules"`
}

// NewCategorizer loads rules from the provided path, falling back to the
// built-in pack when the path is empty or missing.
func NewCategorizer(path string, logger *slog.Logger) (*Categorizer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return &Categorizer{rules: defaultCategoryRules(), logger: logger}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Categorizer{rules: defaultCategoryRules(), logger: logger}, nil
		}
		return nil, err
	}
	var cfg CategoryRulesFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Rules) == 0 {
		cfg.Rules = defaultCategoryRules()
	}
	return &Categorizer{rules: cfg.Rules, logger: logger}, nil
}

// Categorize picks the dominant dimension of the vector and resolves it
// through the rule pack. Battery dominance is inverted: a low level while
// discharging is what signals drain.
func (c *Categorizer) Categorize(vec models.FeatureVector) (models.Category, alerts.CategoryMeta) {
	dimension, value := dominantDimension(vec)

	for _, rule := range c.rules {
		if rule.Dimension != dimension {
			continue
		}
		if value < rule.MinValue {
			continue
		}
		return models.Category(rule.Category), alerts.CategoryMeta{
			Label:   rule.Label,
			Actions: rule.Actions,
		}
	}
	return models.CategoryGeneric, alerts.CategoryMeta{Label: "Device anomaly"}
}

func dominantDimension(vec models.FeatureVector) (string, float64) {
	batteryPressure := 0.0
	if vec.Values[models.FeatureCharging] == 0 {
		batteryPressure = 1 - vec.Values[models.FeatureBattery]
	}

	dims := []struct {
		name  string
		value float64
	}{
		{"cpu", vec.Values[models.FeatureCPU]},
		{"memory", vec.Values[models.FeatureMemory]},
		{"battery", batteryPressure},
		{"thermal", vec.Values[models.FeatureThermal]},
	}

	best := dims[0]
	for _, d := range dims[1:] {
		if d.value > best.value {
			best = d
		}
	}
	return best.name, best.value
}

func defaultCategoryRules() []CategoryRule {
	return []CategoryRule{
		{
			Category:  string(models.CategoryCPU),
			Label:     "Sustained CPU pressure",
			Dimension: "cpu",
			Actions:   []string{"Review foreground apps with high CPU time", "Check for runaway background processes"},
		},
		{
			Category:  string(models.CategoryMemory),
			Label:     "Memory pressure",
			Dimension: "memory",
			Actions:   []string{"Close unused applications", "Look for processes with growing resident memory"},
		},
		{
			Category:  string(models.CategoryBattery),
			Label:     "Abnormal battery drain",
			Dimension: "battery",
			Actions:   []string{"Check wake locks and background sync", "Review recently installed apps"},
		},
		{
			Category:  string(models.CategoryThermal),
			Label:     "Thermal anomaly",
			Dimension: "thermal",
			Actions:   []string{"Let the device cool down", "Check for sustained CPU or charging heat"},
		},
	}
}
