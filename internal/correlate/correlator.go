// Package correlate maintains a bounded index of recent log events and ranks
// candidate culprit processes for an anomaly window. Correlation is a
// best-effort hint, never a certainty claim.
package correlate

import (
	"log/slog"
	"sort"
	"time"

	"github.com/vigilstack/vigil-agent/internal/models"
	"github.com/vigilstack/vigil-agent/internal/utils"
)

// Config tunes the index and the ranking policy.
type Config struct {
	// Lookback extends the query window backwards: events in
	// [window.start-Lookback, window.end] are considered.
	Lookback time.Duration
	// Capacity bounds the ring; oldest events are evicted first.
	Capacity int
	// RelevanceThreshold is the minimum group score for a culprit verdict.
	RelevanceThreshold float64
}

// Correlator is a capacity-bounded, time-ordered ring of recent log events.
// Not safe for concurrent use; the orchestrator owns indexing and queries.
type Correlator struct {
	cfg    Config
	logger *slog.Logger

	ring  []models.LogEvent
	head  int
	count int
}

// New constructs a Correlator.
func New(cfg Config, logger *slog.Logger) *Correlator {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 5 * time.Minute
	}
	if cfg.Capacity < 1 {
		cfg.Capacity = 4096
	}
	if cfg.RelevanceThreshold <= 0 {
		cfg.RelevanceThreshold = 2.0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{
		cfg:    cfg,
		logger: logger,
		ring:   make([]models.LogEvent, cfg.Capacity),
	}
}

// Index ingests one log event, evicting the oldest when full. Ordering is
// assumed monotonic by timestamp; out-of-order events are accepted but may
// reduce correlation accuracy. Events without a timestamp or process are
// discarded.
func (c *Correlator) Index(ev models.LogEvent) {
	if ev.Timestamp.IsZero() || ev.Process == "" {
		return
	}
	c.ring[c.head] = ev
	c.head = (c.head + 1) % c.cfg.Capacity
	if c.count < c.cfg.Capacity {
		c.count++
	}
}

// Len returns the number of indexed events.
func (c *Correlator) Len() int { return c.count }

// Correlate ranks processes whose events fall within
// [start-lookback, end] and returns the top candidate, or nil when no group
// clears the relevance threshold. ErrCorrelationUnavailable signals an empty
// index or a window with no events at all.
func (c *Correlator) Correlate(start, end time.Time) (*models.CandidateCulprit, error) {
	if c.count == 0 {
		return nil, utils.ErrCorrelationUnavailable
	}

	from := start.Add(-c.cfg.Lookback)
	span := end.Sub(from)
	if span <= 0 {
		return nil, utils.ErrCorrelationUnavailable
	}

	groups := make(map[string]*processGroup)
	inWindow := 0
	for _, ev := range c.events() {
		if ev.Timestamp.Before(from) || ev.Timestamp.After(end) {
			continue
		}
		inWindow++
		g, ok := groups[ev.Process]
		if !ok {
			g = &processGroup{}
			groups[ev.Process] = g
		}
		g.add(ev, from, span)
	}
	if inWindow == 0 {
		return nil, utils.ErrCorrelationUnavailable
	}

	type ranked struct {
		process string
		score   float64
		g       *processGroup
	}
	candidates := make([]ranked, 0, len(groups))
	for process, g := range groups {
		burst := c.burstFactor(process, g.count, from, end)
		candidates = append(candidates, ranked{process: process, score: g.base * burst, g: g})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].process < candidates[j].process
	})

	top := candidates[0]
	if top.score < c.cfg.RelevanceThreshold {
		c.logger.Debug("no process above relevance threshold",
			slog.String("top", top.process), slog.Float64("score", top.score))
		return nil, nil
	}

	return &models.CandidateCulprit{
		Process:  top.process,
		Score:    top.score,
		Evidence: top.g.evidence,
	}, nil
}

// processGroup accumulates severity- and recency-weighted mass for one
// source process within the query window.
type processGroup struct {
	count    int
	base     float64
	evidence models.LogEvent
}

func (g *processGroup) add(ev models.LogEvent, from time.Time, span time.Duration) {
	age := ev.Timestamp.Sub(from)
	recency := 0.5 + 0.5*(float64(age)/float64(span))
	if recency < 0.5 {
		recency = 0.5
	}
	if recency > 1 {
		recency = 1
	}
	g.count++
	g.base += ev.Severity.Weight() * recency

	if g.evidence.Timestamp.IsZero() ||
		ev.Severity.Weight() > g.evidence.Severity.Weight() ||
		(ev.Severity.Weight() == g.evidence.Severity.Weight() && ev.Timestamp.After(g.evidence.Timestamp)) {
		g.evidence = ev
	}
}

// burstFactor compares a process's event rate inside the query window to its
// background rate across the rest of the ring. A sudden spike scores up to
// twice as high as steady background noise.
func (c *Correlator) burstFactor(process string, inWindow int, from, end time.Time) float64 {
	outside := 0
	var oldest, newest time.Time
	for _, ev := range c.events() {
		if ev.Process != process {
			continue
		}
		if oldest.IsZero() || ev.Timestamp.Before(oldest) {
			oldest = ev.Timestamp
		}
		if ev.Timestamp.After(newest) {
			newest = ev.Timestamp
		}
		if ev.Timestamp.Before(from) || ev.Timestamp.After(end) {
			outside++
		}
	}
	if outside == 0 {
		// Everything this process logged landed inside the window.
		return 2
	}

	windowSpan := end.Sub(from).Seconds()
	totalSpan := newest.Sub(oldest).Seconds()
	outsideSpan := totalSpan - windowSpan
	if windowSpan <= 0 || outsideSpan <= 0 {
		return 1
	}

	inRate := float64(inWindow) / windowSpan
	outRate := float64(outside) / outsideSpan
	if outRate <= 0 {
		return 2
	}
	ratio := inRate / outRate
	if ratio > 5 {
		ratio = 5
	}
	if ratio < 0 {
		ratio = 0
	}
	return 1 + ratio/5
}

func (c *Correlator) events() []models.LogEvent {
	out := make([]models.LogEvent, 0, c.count)
	start := (c.head - c.count + c.cfg.Capacity) % c.cfg.Capacity
	for i := 0; i < c.count; i++ {
		out = append(out, c.ring[(start+i)%c.cfg.Capacity])
	}
	return out
}
