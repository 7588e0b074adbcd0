package scoring

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/vigilstack/vigil-agent/internal/models"
)

// scriptedModel returns queued scores in order, then repeats the last one.
type scriptedModel struct {
	scores []float64
	errs   []error
	calls  int
}

func (m *scriptedModel) fn(ctx context.Context, vec models.FeatureVector) (float64, error) {
	idx := m.calls
	if idx >= len(m.scores) {
		idx = len(m.scores) - 1
	}
	m.calls++
	if idx < len(m.errs) && m.errs[idx] != nil {
		return 0, m.errs[idx]
	}
	return m.scores[idx], nil
}

func vectorAt(ts time.Time) models.FeatureVector {
	return models.FeatureVector{Start: ts.Add(-time.Minute), End: ts}
}

func feed(t *testing.T, s *Scorer, raws ...float64) []models.AnomalyScore {
	t.Helper()
	model := &scriptedModel{scores: raws}
	s.fn = model.fn

	out := make([]models.AnomalyScore, 0, len(raws))
	now := time.Now()
	for i := range raws {
		out = append(out, s.Score(context.Background(), vectorAt(now.Add(time.Duration(i)*time.Minute))))
	}
	return out
}

func TestConsecutiveWindowsRequiredBeforeReporting(t *testing.T) {
	s := New(Config{Cutoff: 0.8, HysteresisMargin: 0.1, ConsecutiveK: 2}, nil, nil)

	scores := feed(t, s, 0.9, 0.9, 0.9)
	if scores[0].Anomalous {
		t.Fatalf("first anomalous window must be suppressed with k=2")
	}
	if !scores[1].Anomalous || !scores[2].Anomalous {
		t.Fatalf("second consecutive window must report anomalous")
	}
}

func TestSingleWindowSpikeSuppressed(t *testing.T) {
	s := New(Config{Cutoff: 0.8, HysteresisMargin: 0.1, ConsecutiveK: 2}, nil, nil)

	for _, score := range feed(t, s, 0.9, 0.5, 0.5, 0.9, 0.5) {
		if score.Anomalous {
			t.Fatalf("isolated one-window spikes must never report anomalous")
		}
	}
}

func TestHysteresisHoldsInsideBand(t *testing.T) {
	s := New(Config{Cutoff: 0.8, HysteresisMargin: 0.1, ConsecutiveK: 2}, nil, nil)

	// Enter the anomalous state, then feed scores inside (cutoff-margin, cutoff).
	scores := feed(t, s, 0.9, 0.9, 0.75, 0.71, 0.79, 0.69)
	if !scores[2].Anomalous || !scores[3].Anomalous || !scores[4].Anomalous {
		t.Fatalf("scores inside the hysteresis band must not release the signal")
	}
	if scores[5].Anomalous {
		t.Fatalf("score below cutoff-margin must release the signal")
	}
}

func TestConstantStreamIsStable(t *testing.T) {
	s := New(Config{Cutoff: 0.8, HysteresisMargin: 0.1, ConsecutiveK: 2}, nil, nil)

	scores := feed(t, s, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9)
	for i, score := range scores[1:] {
		if !score.Anomalous {
			t.Fatalf("window %d flapped on a constant anomalous stream", i+1)
		}
	}

	s2 := New(Config{Cutoff: 0.8, HysteresisMargin: 0.1, ConsecutiveK: 2}, nil, nil)
	for i, score := range feed(t, s2, 0.3, 0.3, 0.3, 0.3, 0.3) {
		if score.Anomalous {
			t.Fatalf("window %d flapped on a constant quiet stream", i)
		}
	}
}

func TestScoringUnavailableFailsOpen(t *testing.T) {
	model := &scriptedModel{
		scores: []float64{0.9, 0.9, 0, 0.9},
		errs:   []error{nil, nil, fmt.Errorf("model offline"), nil},
	}
	s := New(Config{Cutoff: 0.8, HysteresisMargin: 0.1, ConsecutiveK: 2}, model.fn, nil)

	now := time.Now()
	var last models.AnomalyScore
	for i := 0; i < 4; i++ {
		last = s.Score(context.Background(), vectorAt(now.Add(time.Duration(i)*time.Minute)))
		switch i {
		case 1:
			if !last.Anomalous {
				t.Fatalf("expected anomalous before the outage")
			}
		case 2:
			if !last.Unavailable {
				t.Fatalf("expected Unavailable during the outage")
			}
			if last.Anomalous {
				t.Fatalf("fail-open: outage windows must read non-anomalous")
			}
		}
	}

	// One good window after recovery: streak restarted, still suppressed.
	if last.Unavailable {
		t.Fatalf("expected recovery on the next successful call")
	}
	if last.Anomalous {
		t.Fatalf("streak must restart from zero after an outage")
	}
}

func TestDegradedFlagPropagates(t *testing.T) {
	s := New(Config{Cutoff: 0.8, HysteresisMargin: 0.1, ConsecutiveK: 1}, func(ctx context.Context, vec models.FeatureVector) (float64, error) {
		return 0.9, nil
	}, nil)

	vec := vectorAt(time.Now())
	vec.Degraded = true
	score := s.Score(context.Background(), vec)
	if !score.Degraded {
		t.Fatalf("degraded vectors must produce degraded scores")
	}
	if !score.Anomalous {
		t.Fatalf("degraded vectors are still scored")
	}
}

func TestRawScoreClamped(t *testing.T) {
	s := New(Config{Cutoff: 0.8, HysteresisMargin: 0.1, ConsecutiveK: 1}, func(ctx context.Context, vec models.FeatureVector) (float64, error) {
		return 3.7, nil
	}, nil)

	score := s.Score(context.Background(), vectorAt(time.Now()))
	if score.Raw != 1 {
		t.Fatalf("raw score = %v, want clamped to 1", score.Raw)
	}
}
