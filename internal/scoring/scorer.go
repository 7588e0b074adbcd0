// Package scoring wraps the injected model scoring function with the
// decision policy: cutoff, hysteresis, and consecutive-window debounce.
package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vigilstack/vigil-agent/internal/models"
	"github.com/vigilstack/vigil-agent/internal/utils"
)

// ScoreFunc is the injected model inference call. It must be pure, return a
// value in [0,1], and respect context cancellation.
type ScoreFunc func(ctx context.Context, vec models.FeatureVector) (float64, error)

// Config tunes the decision policy around the model.
type Config struct {
	// Cutoff is the raw-score threshold for entering the anomalous state.
	Cutoff float64
	// HysteresisMargin: once anomalous, the score must fall below
	// Cutoff-HysteresisMargin before the signal flips back.
	HysteresisMargin float64
	// ConsecutiveK windows at or above Cutoff are required before the
	// anomaly is reported upward; isolated spikes are suppressed here.
	ConsecutiveK int
	// Timeout bounds each model call.
	Timeout time.Duration
}

// Scorer converts raw model scores into a debounced binary anomaly signal.
// Not safe for concurrent use; the orchestrator owns it.
type Scorer struct {
	cfg    Config
	fn     ScoreFunc
	logger *slog.Logger

	active      bool
	streak      int
	unavailable bool
}

// New constructs a Scorer around the injected scoring function.
func New(cfg Config, fn ScoreFunc, logger *slog.Logger) *Scorer {
	if cfg.Cutoff <= 0 {
		cfg.Cutoff = 0.8
	}
	if cfg.HysteresisMargin < 0 {
		cfg.HysteresisMargin = 0.1
	}
	if cfg.ConsecutiveK < 1 {
		cfg.ConsecutiveK = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{cfg: cfg, fn: fn, logger: logger}
}

// Score evaluates one feature vector. On model failure it fails open: the
// window reads non-anomalous, the streak resets, and the returned score
// carries Unavailable so the orchestrator can count the condition.
func (s *Scorer) Score(ctx context.Context, vec models.FeatureVector) models.AnomalyScore {
	out := models.AnomalyScore{
		WindowStart: vec.Start,
		WindowEnd:   vec.End,
		Degraded:    vec.Degraded,
	}

	raw, err := s.invoke(ctx, vec)
	if err != nil {
		if !s.unavailable {
			s.logger.Warn("model scoring unavailable, failing open", slog.Any("error", err))
		}
		s.unavailable = true
		s.active = false
		s.streak = 0
		out.Unavailable = true
		return out
	}
	if s.unavailable {
		s.logger.Info("model scoring recovered")
		s.unavailable = false
	}

	out.Raw = raw

	switch {
	case raw >= s.cfg.Cutoff:
		if !s.active {
			s.streak++
			if s.streak >= s.cfg.ConsecutiveK {
				s.active = true
			}
		}
	case s.active:
		// Inside the hysteresis band the signal holds; only a drop below
		// cutoff-margin releases it.
		if raw < s.cfg.Cutoff-s.cfg.HysteresisMargin {
			s.active = false
			s.streak = 0
		}
	default:
		s.streak = 0
	}

	out.Anomalous = s.active
	return out
}

func (s *Scorer) invoke(ctx context.Context, vec models.FeatureVector) (float64, error) {
	if s.fn == nil {
		return 0, fmt.Errorf("%w: no scoring function configured", utils.ErrScoringUnavailable)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	raw, err := s.fn(callCtx, vec)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", utils.ErrScoringUnavailable, err)
	}
	if raw < 0 {
		raw = 0
	}
	if raw > 1 {
		raw = 1
	}
	return raw, nil
}
