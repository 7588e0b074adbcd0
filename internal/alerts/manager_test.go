package alerts

import (
	"testing"
	"time"

	"github.com/vigilstack/vigil-agent/internal/models"
)

type fakeCulprits struct {
	queries int
	culprit *models.CandidateCulprit
	err     error
}

func (f *fakeCulprits) Correlate(start, end time.Time) (*models.CandidateCulprit, error) {
	f.queries++
	return f.culprit, f.err
}

type recordingSubscriber struct {
	transitions []models.AlertSnapshot
}

func (r *recordingSubscriber) Notify(snap models.AlertSnapshot) {
	r.transitions = append(r.transitions, snap)
}

func anomalousAt(ts time.Time, raw float64) models.AnomalyScore {
	return models.AnomalyScore{
		Raw:         raw,
		WindowStart: ts.Add(-time.Minute),
		WindowEnd:   ts,
		Anomalous:   true,
	}
}

func clearAt(ts time.Time) models.AnomalyScore {
	return models.AnomalyScore{
		WindowStart: ts.Add(-time.Minute),
		WindowEnd:   ts,
		Raw:         0.3,
	}
}

func newTestManager(culprits CulpritSource) (*Manager, *recordingSubscriber) {
	m := New(Config{ReopenWindow: 10 * time.Minute, Retention: 24 * time.Hour}, culprits, nil)
	sub := &recordingSubscriber{}
	m.Subscribe(sub)
	return m, sub
}

func TestOpenPromotesToActiveWithCulprit(t *testing.T) {
	culprits := &fakeCulprits{culprit: &models.CandidateCulprit{
		Process: "com.social.media.app",
		Score:   14,
	}}
	m, sub := newTestManager(culprits)

	now := time.Now()
	m.Observe(models.CategoryCPU, CategoryMeta{Label: "Sustained CPU pressure"}, anomalousAt(now, 0.95))

	if len(sub.transitions) != 2 {
		t.Fatalf("expected open + active transitions, got %d", len(sub.transitions))
	}
	if sub.transitions[0].State != models.AlertStateOpen || sub.transitions[1].State != models.AlertStateActive {
		t.Fatalf("transition order = %v, %v", sub.transitions[0].State, sub.transitions[1].State)
	}

	active := sub.transitions[1]
	if active.Culprit == nil || active.Culprit.Process != "com.social.media.app" {
		t.Fatalf("expected culprit attribution on promotion, got %+v", active.Culprit)
	}
	if culprits.queries != 1 {
		t.Fatalf("correlator queried %d times, want exactly 1", culprits.queries)
	}

	// Subsequent anomalous windows must not re-query.
	m.Observe(models.CategoryCPU, CategoryMeta{}, anomalousAt(now.Add(time.Minute), 0.97))
	if culprits.queries != 1 {
		t.Fatalf("correlator re-queried on an open alert")
	}
}

func TestDegradedTriggerNeedsConfirmation(t *testing.T) {
	culprits := &fakeCulprits{}
	m, sub := newTestManager(culprits)

	now := time.Now()
	degraded := anomalousAt(now, 0.9)
	degraded.Degraded = true
	m.Observe(models.CategoryMemory, CategoryMeta{}, degraded)

	if len(sub.transitions) != 1 || sub.transitions[0].State != models.AlertStateOpen {
		t.Fatalf("degraded trigger must stay in Open, got %v", sub.transitions)
	}

	// A second degraded window still does not promote.
	degraded2 := anomalousAt(now.Add(time.Minute), 0.9)
	degraded2.Degraded = true
	m.Observe(models.CategoryMemory, CategoryMeta{}, degraded2)
	if len(sub.transitions) != 1 {
		t.Fatalf("degraded windows must not promote, got %d transitions", len(sub.transitions))
	}

	// One non-degraded anomalous window promotes.
	m.Observe(models.CategoryMemory, CategoryMeta{}, anomalousAt(now.Add(2*time.Minute), 0.92))
	if len(sub.transitions) != 2 || sub.transitions[1].State != models.AlertStateActive {
		t.Fatalf("expected promotion after a clean window, got %v", sub.transitions)
	}
}

func TestPeakScoreAndLastSeenMonotone(t *testing.T) {
	m, _ := newTestManager(nil)

	now := time.Now()
	m.Observe(models.CategoryCPU, CategoryMeta{}, anomalousAt(now, 0.85))
	m.Observe(models.CategoryCPU, CategoryMeta{}, anomalousAt(now.Add(time.Minute), 0.97))
	m.Observe(models.CategoryCPU, CategoryMeta{}, anomalousAt(now.Add(2*time.Minute), 0.9))

	snaps := m.List()
	if len(snaps) != 1 {
		t.Fatalf("expected one alert, got %d", len(snaps))
	}
	if snaps[0].PeakScore != 0.97 {
		t.Fatalf("peak score = %v, want 0.97", snaps[0].PeakScore)
	}
	if !snaps[0].LastSeen.Equal(now.Add(2 * time.Minute)) {
		t.Fatalf("last seen = %v, want the newest window end", snaps[0].LastSeen)
	}
}

func TestReopenWithinWindowReusesAlertID(t *testing.T) {
	m, _ := newTestManager(nil)

	base := time.Now()
	clock := base
	m.now = func() time.Time { return clock }

	m.Observe(models.CategoryCPU, CategoryMeta{}, anomalousAt(base, 0.9))
	firstID := m.List()[0].ID

	clock = base.Add(time.Minute)
	m.Observe(models.CategoryCPU, CategoryMeta{}, clearAt(base.Add(time.Minute)))

	// Recurrence five minutes later: same id, one more occurrence.
	clock = base.Add(6 * time.Minute)
	m.Observe(models.CategoryCPU, CategoryMeta{}, anomalousAt(base.Add(6*time.Minute), 0.9))

	snaps := m.List()
	if len(snaps) != 1 {
		t.Fatalf("expected one deduplicated alert, got %d", len(snaps))
	}
	if snaps[0].ID != firstID {
		t.Fatalf("reopen created a new alert id")
	}
	if snaps[0].OccurrenceCount != 2 {
		t.Fatalf("occurrence count = %d, want 2", snaps[0].OccurrenceCount)
	}
	if snaps[0].State != models.AlertStateActive {
		t.Fatalf("reopened alert state = %v, want active", snaps[0].State)
	}
}

func TestRecurrenceAfterReopenWindowIsNewAlert(t *testing.T) {
	m, _ := newTestManager(nil)

	base := time.Now()
	clock := base
	m.now = func() time.Time { return clock }

	m.Observe(models.CategoryCPU, CategoryMeta{}, anomalousAt(base, 0.9))
	firstID := m.List()[0].ID

	clock = base.Add(time.Minute)
	m.Observe(models.CategoryCPU, CategoryMeta{}, clearAt(base.Add(time.Minute)))

	clock = base.Add(30 * time.Minute)
	m.Observe(models.CategoryCPU, CategoryMeta{}, anomalousAt(base.Add(30*time.Minute), 0.9))

	var openID string
	for _, snap := range m.List() {
		if snap.State == models.AlertStateActive {
			openID = snap.ID
		}
	}
	if openID == "" {
		t.Fatalf("expected a new active alert")
	}
	if openID == firstID {
		t.Fatalf("recurrence outside the re-open window must mint a new alert id")
	}
}

func TestRetentionEvictsExactlyAfterPeriod(t *testing.T) {
	m, _ := newTestManager(nil)

	base := time.Now()
	clock := base
	m.now = func() time.Time { return clock }

	m.Observe(models.CategoryCPU, CategoryMeta{}, anomalousAt(base, 0.9))
	clock = base.Add(time.Minute)
	m.Observe(models.CategoryCPU, CategoryMeta{}, clearAt(base.Add(time.Minute)))

	resolvedAt := clock

	// Just before retention elapses: still retained.
	clock = resolvedAt.Add(24*time.Hour - time.Second)
	if evicted := m.Sweep(); evicted != 0 {
		t.Fatalf("alert evicted %d before retention elapsed", evicted)
	}
	if len(m.List()) != 1 {
		t.Fatalf("resolved alert leaked early")
	}

	// At the retention boundary: evicted.
	clock = resolvedAt.Add(24 * time.Hour)
	if evicted := m.Sweep(); evicted != 1 {
		t.Fatalf("expected eviction at retention boundary, got %d", evicted)
	}
	if len(m.List()) != 0 {
		t.Fatalf("alert leaked past retention")
	}
}

func TestAcknowledgeActiveAlertOnly(t *testing.T) {
	m, sub := newTestManager(nil)

	now := time.Now()
	m.Observe(models.CategoryCPU, CategoryMeta{}, anomalousAt(now, 0.9))
	id := m.List()[0].ID

	snap, err := m.Acknowledge(id)
	if err != nil {
		t.Fatalf("acknowledge failed: %v", err)
	}
	if snap.State != models.AlertStateAcknowledged {
		t.Fatalf("state = %v, want acknowledged", snap.State)
	}

	if _, err := m.Acknowledge(id); err == nil {
		t.Fatalf("double acknowledge must fail")
	}
	if _, err := m.Acknowledge("no-such-id"); err == nil {
		t.Fatalf("unknown id must fail")
	}

	// Acknowledged alerts still resolve when the condition clears.
	m.Observe(models.CategoryCPU, CategoryMeta{}, clearAt(now.Add(time.Minute)))
	last := sub.transitions[len(sub.transitions)-1]
	if last.State != models.AlertStateResolved {
		t.Fatalf("acknowledged alert did not resolve, last transition %v", last.State)
	}
}

func TestResolveAllClearsEveryOpenCategory(t *testing.T) {
	m, _ := newTestManager(nil)

	now := time.Now()
	m.Observe(models.CategoryCPU, CategoryMeta{}, anomalousAt(now, 0.9))
	m.Observe(models.CategoryMemory, CategoryMeta{}, anomalousAt(now.Add(time.Second), 0.85))

	m.ResolveAll(clearAt(now.Add(time.Minute)))

	for _, snap := range m.List() {
		if snap.State != models.AlertStateResolved {
			t.Fatalf("category %s not resolved, state %v", snap.Category, snap.State)
		}
	}
}

func TestCorrelationUnavailableStillPromotes(t *testing.T) {
	culprits := &fakeCulprits{err: errUnavailable{}}
	m, sub := newTestManager(culprits)

	m.Observe(models.CategoryCPU, CategoryMeta{}, anomalousAt(time.Now(), 0.9))

	active := sub.transitions[len(sub.transitions)-1]
	if active.State != models.AlertStateActive {
		t.Fatalf("alert must promote even without correlation, got %v", active.State)
	}
	if active.Culprit != nil {
		t.Fatalf("expected no culprit when correlation is unavailable")
	}
}

type errUnavailable struct{}

func (errUnavailable) Error() string { return "log index empty" }
