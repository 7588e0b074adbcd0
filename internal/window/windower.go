// Package window converts the raw snapshot stream into fixed-size normalized
// feature vectors over a sliding time window.
package window

import (
	"fmt"
	"math"
	"time"

	"github.com/vigilstack/vigil-agent/internal/models"
	"github.com/vigilstack/vigil-agent/internal/utils"
)

// Mode selects the emission cadence.
type Mode string

const (
	// ModeSliding emits one vector per accepted snapshot once the buffer
	// spans a full window. Default, minimises detection latency.
	ModeSliding Mode = "sliding"
	// ModeTumbling emits one vector per full window of snapshots.
	ModeTumbling Mode = "tumbling"
)

// Config sizes the windower.
type Config struct {
	// Duration is the span of one feature window.
	Duration time.Duration
	// SamplingInterval is the expected snapshot cadence. Gaps larger than
	// twice this mark the next vector degraded.
	SamplingInterval time.Duration
	Mode             Mode
}

// Windower maintains a bounded ring of recent snapshots and derives
// normalized feature vectors. Not safe for concurrent use; the orchestrator
// owns it from a single goroutine.
type Windower struct {
	cfg  Config
	size int

	ring  []models.Snapshot
	head  int
	count int

	lastAccepted time.Time
	gapFlag      bool
	sinceEmit    int
}

// New constructs a Windower. The ring holds Duration / SamplingInterval
// snapshots, never fewer than two.
func New(cfg Config) *Windower {
	if cfg.Mode == "" {
		cfg.Mode = ModeSliding
	}
	size := utils.WindowSamples(cfg.Duration, cfg.SamplingInterval)
	return &Windower{
		cfg:  cfg,
		size: size,
		ring: make([]models.Snapshot, size),
	}
}

// Size returns the number of snapshots spanning one window.
func (w *Windower) Size() int { return w.size }

// Push accepts one snapshot and returns a feature vector when the buffer
// spans a full window. Snapshots with a zero timestamp or a timestamp not
// after the newest accepted one are rejected with ErrInvalidSnapshot; window
// boundaries stay monotonic in time.
func (w *Windower) Push(snap models.Snapshot) (models.FeatureVector, bool, error) {
	if snap.Timestamp.IsZero() {
		return models.FeatureVector{}, false, fmt.Errorf("%w: zero timestamp", utils.ErrInvalidSnapshot)
	}
	if !w.lastAccepted.IsZero() && !snap.Timestamp.After(w.lastAccepted) {
		return models.FeatureVector{}, false, fmt.Errorf("%w: timestamp %s not after %s",
			utils.ErrInvalidSnapshot, snap.Timestamp.Format(time.RFC3339Nano), w.lastAccepted.Format(time.RFC3339Nano))
	}

	if !w.lastAccepted.IsZero() && w.cfg.SamplingInterval > 0 {
		if snap.Timestamp.Sub(w.lastAccepted) > 2*w.cfg.SamplingInterval {
			w.gapFlag = true
		}
	}
	w.lastAccepted = snap.Timestamp

	w.ring[w.head] = snap
	w.head = (w.head + 1) % w.size
	if w.count < w.size {
		w.count++
	}
	w.sinceEmit++

	if w.count < w.size {
		return models.FeatureVector{}, false, nil
	}
	if w.cfg.Mode == ModeTumbling && w.sinceEmit < w.size {
		return models.FeatureVector{}, false, nil
	}
	w.sinceEmit = 0

	vec := w.buildVector()
	if w.gapFlag {
		vec.Degraded = true
		w.gapFlag = false
	}
	return vec, true, nil
}

// buildVector derives the normalized feature vector from the current ring
// contents, newest snapshot last. Invalid fields are imputed from the most
// recent valid value in the window; if none exists the dimension is clamped
// to 0 and the vector flagged degraded.
func (w *Windower) buildVector() models.FeatureVector {
	ordered := w.snapshotsOldestFirst()
	newest := ordered[len(ordered)-1]

	vec := models.FeatureVector{
		Start: ordered[0].Timestamp,
		End:   newest.Timestamp,
	}

	vec.Values[models.FeatureCPU] = w.resolve(ordered, rawCPU, &vec.Degraded)
	vec.Values[models.FeatureMemory] = w.resolve(ordered, rawMemory, &vec.Degraded)
	vec.Values[models.FeatureBattery] = w.resolve(ordered, rawBattery, &vec.Degraded)

	// Thermal is optional in the snapshot contract. A window that never saw
	// a reading gets a 0 dimension without degrading the vector; a window
	// where readings exist but the newest is invalid imputes like any other
	// dimension.
	if windowHasThermal(ordered) {
		vec.Values[models.FeatureThermal] = w.resolve(ordered, rawThermal, &vec.Degraded)
	}

	// Charging is a bool and cannot be invalid.
	if newest.BatteryCharging {
		vec.Values[models.FeatureCharging] = 1
	}

	return vec
}

// resolve walks the window newest-first looking for a valid reading of one
// dimension and returns its normalized value.
func (w *Windower) resolve(ordered []models.Snapshot, field func(models.Snapshot) (float64, bool), degraded *bool) float64 {
	for i := len(ordered) - 1; i >= 0; i-- {
		if v, ok := field(ordered[i]); ok {
			return v
		}
	}
	*degraded = true
	return 0
}

func (w *Windower) snapshotsOldestFirst() []models.Snapshot {
	out := make([]models.Snapshot, 0, w.count)
	start := (w.head - w.count + w.size) % w.size
	for i := 0; i < w.count; i++ {
		out = append(out, w.ring[(start+i)%w.size])
	}
	return out
}

// Normalization ranges are fixed and documented: cpu_load and mem_used_ratio
// arrive in [0,1]; battery_level arrives in [0,100] and is scaled to [0,1];
// thermal arrives in °C and is scaled /100 then clamped to [0,1].

func rawCPU(s models.Snapshot) (float64, bool) {
	if math.IsNaN(s.CPULoad) || s.CPULoad < 0 || s.CPULoad > 1 {
		return 0, false
	}
	return s.CPULoad, true
}

func rawMemory(s models.Snapshot) (float64, bool) {
	if math.IsNaN(s.MemUsedRatio) || s.MemUsedRatio < 0 || s.MemUsedRatio > 1 {
		return 0, false
	}
	return s.MemUsedRatio, true
}

func rawBattery(s models.Snapshot) (float64, bool) {
	if math.IsNaN(s.BatteryLevel) || s.BatteryLevel < 0 || s.BatteryLevel > 100 {
		return 0, false
	}
	return s.BatteryLevel / 100, true
}

func windowHasThermal(ordered []models.Snapshot) bool {
	for _, s := range ordered {
		if s.ThermalC != nil {
			return true
		}
	}
	return false
}

func rawThermal(s models.Snapshot) (float64, bool) {
	if s.ThermalC == nil || math.IsNaN(*s.ThermalC) {
		return 0, false
	}
	v := *s.ThermalC / 100
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return v, true
}
