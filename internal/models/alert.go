package models

import "time"

// AlertState enumerates lifecycle states. Idle is implicit (no alert).
type AlertState string

const (
	AlertStateOpen         AlertState = "open"
	AlertStateActive       AlertState = "active"
	AlertStateAcknowledged AlertState = "acknowledged"
	AlertStateResolved     AlertState = "resolved"
)

// Category keys an alert to one logical anomaly class. At most one
// non-resolved alert exists per category at any time.
type Category string

const (
	CategoryCPU     Category = "cpu_pressure"
	CategoryMemory  Category = "memory_pressure"
	CategoryBattery Category = "battery_drain"
	CategoryThermal Category = "thermal"
	CategoryGeneric Category = "anomaly"
)

// CandidateCulprit attributes an anomaly to the most plausible process based
// on co-occurring log activity. Best-effort hint, never a certainty claim.
type CandidateCulprit struct {
	Process  string   `json:"process"`
	Score    float64  `json:"score"`
	Evidence LogEvent `json:"evidence"`
}

// Alert is the lifecycle manager's mutable record for one anomaly category.
// Only the manager mutates it; everyone else sees AlertSnapshot copies.
type Alert struct {
	ID              string
	Category        Category
	State           AlertState
	FirstSeen       time.Time
	LastSeen        time.Time
	PeakScore       float64
	Culprit         *CandidateCulprit
	OccurrenceCount int
	ResolvedAt      time.Time

	// Label and Actions come from the category rule pack.
	Label   string
	Actions []string

	// PendingConfirm marks an Open alert whose trigger was degraded: it
	// needs one non-degraded anomalous window before promotion to Active.
	PendingConfirm bool
}

// Snapshot returns an immutable copy suitable for subscribers.
func (a *Alert) Snapshot() AlertSnapshot {
	snap := AlertSnapshot{
		ID:              a.ID,
		Category:        a.Category,
		State:           a.State,
		FirstSeen:       a.FirstSeen,
		LastSeen:        a.LastSeen,
		PeakScore:       a.PeakScore,
		OccurrenceCount: a.OccurrenceCount,
		Label:           a.Label,
		Actions:         append([]string(nil), a.Actions...),
	}
	if a.Culprit != nil {
		c := *a.Culprit
		snap.Culprit = &c
	}
	return snap
}

// AlertSnapshot is the immutable view delivered to subscribers on every
// state transition.
type AlertSnapshot struct {
	ID              string            `json:"id"`
	Category        Category          `json:"category"`
	State           AlertState        `json:"state"`
	FirstSeen       time.Time         `json:"first_seen"`
	LastSeen        time.Time         `json:"last_seen"`
	PeakScore       float64           `json:"peak_score"`
	Culprit         *CandidateCulprit `json:"candidate_culprit,omitempty"`
	OccurrenceCount int               `json:"occurrence_count"`
	Label           string            `json:"label,omitempty"`
	Actions         []string          `json:"actions,omitempty"`
}
