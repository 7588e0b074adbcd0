// Package alerts turns debounced anomaly signals into durable, deduplicated
// alerts with lifecycle state and culprit attribution.
package alerts

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/vigilstack/vigil-agent/internal/metrics"
	"github.com/vigilstack/vigil-agent/internal/models"
	"github.com/vigilstack/vigil-agent/internal/utils"
)

// Subscriber receives an immutable alert snapshot on every state transition.
// Implementations must not block; slow consumers buffer internally.
type Subscriber interface {
	Notify(snap models.AlertSnapshot)
}

// CulpritSource is the correlation query used once per Open -> Active
// promotion. The correlator implements it.
type CulpritSource interface {
	Correlate(start, end time.Time) (*models.CandidateCulprit, error)
}

// CategoryMeta carries the rule-pack annotations attached to new alerts.
type CategoryMeta struct {
	Label   string
	Actions []string
}

// Config tunes lifecycle timing.
type Config struct {
	// ReopenWindow: a recurrence in the same category within this span of
	// resolution reuses the alert id instead of opening a new one.
	ReopenWindow time.Duration
	// Retention keeps resolved alerts visible before eviction.
	Retention time.Duration
}

// Manager owns the alert table. All mutation happens here, driven from the
// orchestrator's single consumer goroutine.
type Manager struct {
	cfg      Config
	logger   *slog.Logger
	culprits CulpritSource
	subs     []Subscriber

	open     map[models.Category]*models.Alert
	resolved map[models.Category]*models.Alert

	now func() time.Time
}

// New constructs a Manager. culprits may be nil; alerts then promote without
// attribution.
func New(cfg Config, culprits CulpritSource, logger *slog.Logger) *Manager {
	if cfg.ReopenWindow <= 0 {
		cfg.ReopenWindow = 10 * time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger,
		culprits: culprits,
		open:     make(map[models.Category]*models.Alert),
		resolved: make(map[models.Category]*models.Alert),
		now:      time.Now,
	}
}

// Subscribe attaches a transition subscriber. Not safe to call once the
// pipeline is running.
func (m *Manager) Subscribe(sub Subscriber) {
	if sub != nil {
		m.subs = append(m.subs, sub)
	}
}

// Observe drives the state machine with one scored window for one category.
func (m *Manager) Observe(category models.Category, meta CategoryMeta, score models.AnomalyScore) {
	if score.Anomalous {
		m.observeAnomalous(category, meta, score)
		return
	}
	m.observeClear(category, score)
}

func (m *Manager) observeAnomalous(category models.Category, meta CategoryMeta, score models.AnomalyScore) {
	if alert, ok := m.open[category]; ok {
		m.touch(alert, score)
		if alert.State == models.AlertStateOpen && alert.PendingConfirm && !score.Degraded {
			m.promote(alert, score)
		}
		return
	}

	if prior, ok := m.resolved[category]; ok && m.now().Sub(prior.ResolvedAt) <= m.cfg.ReopenWindow {
		// Recurrence within the re-open window: same id, one more occurrence,
		// no alert storm.
		delete(m.resolved, category)
		prior.State = models.AlertStateOpen
		prior.OccurrenceCount++
		prior.ResolvedAt = time.Time{}
		prior.PendingConfirm = score.Degraded
		m.open[category] = prior
		m.touch(prior, score)
		m.transition(prior)
		if !score.Degraded {
			m.promote(prior, score)
		}
		return
	}

	alert := &models.Alert{
		ID:              alertID(category, score.WindowStart),
		Category:        category,
		State:           models.AlertStateOpen,
		FirstSeen:       score.WindowEnd,
		LastSeen:        score.WindowEnd,
		PeakScore:       score.Raw,
		OccurrenceCount: 1,
		Label:           meta.Label,
		Actions:         append([]string(nil), meta.Actions...),
		PendingConfirm:  score.Degraded,
	}
	m.open[category] = alert
	m.logger.Info("alert opened",
		slog.String("id", alert.ID),
		slog.String("category", string(category)),
		slog.Float64("score", score.Raw))
	m.transition(alert)

	if !score.Degraded {
		m.promote(alert, score)
	}
}

func (m *Manager) observeClear(category models.Category, score models.AnomalyScore) {
	alert, ok := m.open[category]
	if !ok {
		return
	}
	alert.State = models.AlertStateResolved
	alert.ResolvedAt = m.now()
	if score.WindowEnd.After(alert.LastSeen) {
		alert.LastSeen = score.WindowEnd
	}
	delete(m.open, category)
	m.resolved[category] = alert
	m.logger.Info("alert resolved",
		slog.String("id", alert.ID),
		slog.String("category", string(category)))
	m.transition(alert)
}

// promote moves an Open alert to Active and queries the correlator exactly
// once for the triggering window. Subsequent windows of the same open alert
// do not re-query.
func (m *Manager) promote(alert *models.Alert, score models.AnomalyScore) {
	alert.State = models.AlertStateActive
	alert.PendingConfirm = false

	if m.culprits != nil {
		culprit, err := m.culprits.Correlate(score.WindowStart, score.WindowEnd)
		if err != nil || culprit == nil {
			metrics.IncCorrelationMiss()
			m.logger.Debug("no culprit for alert", slog.String("id", alert.ID))
		} else {
			alert.Culprit = culprit
			m.logger.Info("culprit attributed",
				slog.String("id", alert.ID),
				slog.String("process", culprit.Process),
				slog.Float64("relevance", culprit.Score))
		}
	}

	m.transition(alert)
}

// touch applies monotone bookkeeping for a window observed on an existing
// alert. Not a transition: subscribers are not notified.
func (m *Manager) touch(alert *models.Alert, score models.AnomalyScore) {
	if score.WindowEnd.After(alert.LastSeen) {
		alert.LastSeen = score.WindowEnd
	}
	if score.Raw > alert.PeakScore {
		alert.PeakScore = score.Raw
	}
}

// ResolveAll resolves every open alert. The orchestrator calls it when the
// debounced anomaly signal clears: hysteresis is already applied upstream,
// so a clear window means the condition is gone for all categories.
func (m *Manager) ResolveAll(score models.AnomalyScore) {
	for category := range m.open {
		m.observeClear(category, score)
	}
}

// Acknowledge marks an Active alert as seen by an external actor. Annotation
// only; detection behaviour is unchanged.
func (m *Manager) Acknowledge(id string) (models.AlertSnapshot, error) {
	for _, alert := range m.open {
		if alert.ID != id {
			continue
		}
		if alert.State != models.AlertStateActive {
			return models.AlertSnapshot{}, fmt.Errorf("alert %s is %s, only active alerts can be acknowledged", id, alert.State)
		}
		alert.State = models.AlertStateAcknowledged
		m.transition(alert)
		return alert.Snapshot(), nil
	}
	return models.AlertSnapshot{}, utils.NewAppError("alerts.Acknowledge", "alert not found", fmt.Errorf("id %s", id))
}

// Sweep evicts resolved alerts whose retention elapsed, freeing the category
// slot for a fresh alert id.
func (m *Manager) Sweep() int {
	now := m.now()
	evicted := 0
	for category, alert := range m.resolved {
		if now.Sub(alert.ResolvedAt) >= m.cfg.Retention {
			delete(m.resolved, category)
			evicted++
			m.logger.Debug("alert evicted",
				slog.String("id", alert.ID),
				slog.String("category", string(category)))
		}
	}
	return evicted
}

// List returns snapshots of all retained alerts, most recently seen first.
func (m *Manager) List() []models.AlertSnapshot {
	out := make([]models.AlertSnapshot, 0, len(m.open)+len(m.resolved))
	for _, alert := range m.open {
		out = append(out, alert.Snapshot())
	}
	for _, alert := range m.resolved {
		out = append(out, alert.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out
}

func (m *Manager) transition(alert *models.Alert) {
	metrics.IncAlertTransition(string(alert.State))
	snap := alert.Snapshot()
	for _, sub := range m.subs {
		sub.Notify(snap)
	}
}

// alertID derives a stable id from the category and the first-trigger window
// start.
func alertID(category models.Category, windowStart time.Time) string {
	h := xxhash.New()
	_, _ = h.WriteString(string(category))
	_, _ = fmt.Fprintf(h, "|%d", windowStart.UnixNano())
	return fmt.Sprintf("%016x", h.Sum64())
}
