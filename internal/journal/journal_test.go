package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/vigilstack/vigil-agent/internal/models"
)

func transition(id string, state models.AlertState, seen time.Time) models.AlertSnapshot {
	return models.AlertSnapshot{
		ID:              id,
		Category:        models.CategoryCPU,
		State:           state,
		PeakScore:       0.91,
		OccurrenceCount: 1,
		LastSeen:        seen,
		Culprit:         &models.CandidateCulprit{Process: "com.social.media.app", Score: 3.2},
	}
}

func TestJournalPersistsTransitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.db")
	j, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	j.Notify(transition("a1", models.AlertStateOpen, base))
	j.Notify(transition("a1", models.AlertStateActive, base.Add(15*time.Second)))
	j.Notify(transition("a1", models.AlertStateResolved, base.Add(5*time.Minute)))

	// Close drains the buffer before the read-back.
	if err := j.Close(); err != nil {
		t.Fatalf("close journal: %v", err)
	}

	j, err = Open(path, nil)
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	defer j.Close()

	recent, err := j.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("got %d transitions, want 3", len(recent))
	}
	if recent[0].State != models.AlertStateResolved {
		t.Fatalf("newest transition = %v, want resolved", recent[0].State)
	}
	if recent[0].Culprit == nil || recent[0].Culprit.Process != "com.social.media.app" {
		t.Fatalf("culprit round trip failed: %+v", recent[0].Culprit)
	}
}

func TestJournalNotifyAfterCloseDropsSafely(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.db")
	j, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}

	if err := j.Close(); err != nil {
		t.Fatalf("close journal: %v", err)
	}

	// A transition landing after shutdown must be dropped, not panic, and
	// Close must stay idempotent.
	j.Notify(transition("late", models.AlertStateResolved, time.Now()))
	if err := j.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestJournalRecentLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.db")
	j, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}

	base := time.Now().UTC()
	for i := 0; i < 10; i++ {
		j.Notify(transition("a1", models.AlertStateOpen, base.Add(time.Duration(i)*time.Second)))
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close journal: %v", err)
	}

	j, err = Open(path, nil)
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	defer j.Close()

	recent, err := j.Recent(4)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 4 {
		t.Fatalf("got %d transitions, want 4", len(recent))
	}
}
