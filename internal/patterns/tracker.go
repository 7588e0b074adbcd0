// Package patterns aggregates alert history into recurring per-category
// patterns: how often a category fires and which processes keep showing up.
package patterns

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vigilstack/vigil-agent/internal/models"
)

// AlertPattern summarises the history of one alert category.
type AlertPattern struct {
	Category    models.Category `json:"category"`
	Label       string          `json:"label,omitempty"`
	Occurrences int             `json:"occurrences"`
	Prevalence  float64         `json:"prevalence"`
	PeakScore   float64         `json:"peak_score"`
	LastSeen    time.Time       `json:"last_seen"`
	TopCulprits []CulpritStat   `json:"top_culprits,omitempty"`
}

// CulpritStat counts attributions of one process within a category.
type CulpritStat struct {
	Process string `json:"process"`
	Count   int    `json:"count"`
}

// Tracker accumulates alert transitions into category aggregates. It
// implements the alert subscriber interface and is safe for concurrent
// reads from the API while the pipeline notifies it.
type Tracker struct {
	mu     sync.Mutex
	logger *slog.Logger

	totalOpens int
	categories map[models.Category]*categoryAggregate
}

// NewTracker constructs an empty Tracker.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		logger:     logger,
		categories: make(map[models.Category]*categoryAggregate),
	}
}

// Notify records one alert transition. Open transitions count as
// occurrences; Active transitions contribute culprit attributions.
func (t *Tracker) Notify(snap models.AlertSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	agg := t.ensure(snap.Category)
	if snap.Label != "" {
		agg.label = snap.Label
	}
	if snap.LastSeen.After(agg.lastSeen) {
		agg.lastSeen = snap.LastSeen
	}
	if snap.PeakScore > agg.peakScore {
		agg.peakScore = snap.PeakScore
	}

	switch snap.State {
	case models.AlertStateOpen:
		agg.opens++
		t.totalOpens++
	case models.AlertStateActive:
		if snap.Culprit != nil {
			agg.culpritCounts[snap.Culprit.Process]++
		}
	}
}

// Patterns returns per-category aggregates ranked by prevalence.
func (t *Tracker) Patterns() []AlertPattern {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]AlertPattern, 0, len(t.categories))
	for category, agg := range t.categories {
		if agg.opens == 0 {
			continue
		}
		pattern := AlertPattern{
			Category:    category,
			Label:       agg.label,
			Occurrences: agg.opens,
			Prevalence:  float64(agg.opens) / float64(t.totalOpens),
			PeakScore:   agg.peakScore,
			LastSeen:    agg.lastSeen,
			TopCulprits: agg.topCulprits(3),
		}
		out = append(out, pattern)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Prevalence != out[j].Prevalence {
			return out[i].Prevalence > out[j].Prevalence
		}
		return out[i].Category < out[j].Category
	})
	return out
}

type categoryAggregate struct {
	label         string
	opens         int
	peakScore     float64
	lastSeen      time.Time
	culpritCounts map[string]int
}

func (t *Tracker) ensure(category models.Category) *categoryAggregate {
	agg, ok := t.categories[category]
	if !ok {
		agg = &categoryAggregate{culpritCounts: make(map[string]int)}
		t.categories[category] = agg
	}
	return agg
}

func (agg *categoryAggregate) topCulprits(limit int) []CulpritStat {
	stats := make([]CulpritStat, 0, len(agg.culpritCounts))
	for process, count := range agg.culpritCounts {
		stats = append(stats, CulpritStat{Process: process, Count: count})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Process < stats[j].Process
	})
	if len(stats) > limit {
		stats = stats[:limit]
	}
	return stats
}
