package models

import "time"

// Snapshot is a single timestamped reading of device health signals.
// Snapshots are immutable once created; the collector owns production.
type Snapshot struct {
	Timestamp       time.Time `json:"timestamp"`
	CPULoad         float64   `json:"cpu_load"`
	MemUsedRatio    float64   `json:"mem_used_ratio"`
	BatteryLevel    float64   `json:"battery_level"`
	BatteryCharging bool      `json:"battery_charging"`
	ThermalC        *float64  `json:"thermal_c,omitempty"`
}

// Feature dimension indices within a FeatureVector.
const (
	FeatureCPU = iota
	FeatureMemory
	FeatureBattery
	FeatureCharging
	FeatureThermal

	FeatureDims = 5
)

// FeatureVector is a fixed-length normalized view of one window of snapshots.
// All dimensions are scaled into [0,1]. Degraded marks vectors built from
// imputed or gap-spanning data; they are still scored but excluded from
// confidence-sensitive promotion decisions.
type FeatureVector struct {
	Values   [FeatureDims]float64
	Start    time.Time
	End      time.Time
	Degraded bool
}

// AnomalyScore is the scorer's verdict for one feature vector. Anomalous is
// computed once by the scorer (threshold + hysteresis + debounce) and never
// recomputed downstream.
type AnomalyScore struct {
	Raw         float64
	WindowStart time.Time
	WindowEnd   time.Time
	Anomalous   bool
	Degraded    bool
	Unavailable bool
}

// LogSeverity orders log levels for correlation weighting.
type LogSeverity string

const (
	LogSeverityDebug LogSeverity = "debug"
	LogSeverityInfo  LogSeverity = "info"
	LogSeverityWarn  LogSeverity = "warn"
	LogSeverityError LogSeverity = "error"
)

// Weight returns the correlation weight for the severity. Unknown levels
// weigh the same as info.
func (s LogSeverity) Weight() float64 {
	switch s {
	case LogSeverityError:
		return 3
	case LogSeverityWarn:
		return 2
	case LogSeverityDebug:
		return 0.5
	default:
		return 1
	}
}

// LogEvent is one parsed log line from the external log source. The core
// holds events read-only inside the correlator's bounded index.
type LogEvent struct {
	Timestamp time.Time   `json:"timestamp"`
	Process   string      `json:"process"`
	Severity  LogSeverity `json:"severity"`
	Message   string      `json:"message"`
}
