// mock-device feeds a running vigil-agent with synthetic telemetry: a calm
// baseline, then a CPU spike accompanied by an error burst from a noisy app,
// then recovery. Useful for exercising the full alert lifecycle locally.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"time"
)

type snapshot struct {
	Timestamp       time.Time `json:"timestamp"`
	CPULoad         float64   `json:"cpu_load"`
	MemUsedRatio    float64   `json:"mem_used_ratio"`
	BatteryLevel    float64   `json:"battery_level"`
	BatteryCharging bool      `json:"battery_charging"`
	ThermalC        *float64  `json:"thermal_c,omitempty"`
}

type logEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Process   string    `json:"process"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
}

func main() {
	var (
		agentURL = flag.String("agent", "http://localhost:8650", "vigil-agent base URL")
		interval = flag.Duration("interval", time.Second, "snapshot cadence")
	)
	flag.Parse()

	client := &http.Client{Timeout: 2 * time.Second}
	battery := 87.0
	tick := 0

	log.Printf("feeding %s every %s", *agentURL, *interval)
	for range time.Tick(*interval) {
		tick++
		battery -= 0.02

		// Ticks 30-60 simulate a runaway app: CPU climbs, errors burst.
		spiking := tick >= 30 && tick < 60

		cpu := 0.15 + rand.Float64()*0.1
		if spiking {
			cpu = 0.9 + rand.Float64()*0.08
		}
		thermal := 32.0 + cpu*18

		snap := snapshot{
			Timestamp:    time.Now(),
			CPULoad:      cpu,
			MemUsedRatio: 0.45 + rand.Float64()*0.05,
			BatteryLevel: battery,
			ThermalC:     &thermal,
		}
		post(client, *agentURL+"/api/v1/ingest/snapshots", snap)

		events := []logEvent{{
			Timestamp: time.Now(),
			Process:   "com.system.daemon",
			Severity:  "info",
			Message:   "periodic sync complete",
		}}
		if spiking {
			for i := 0; i < 3; i++ {
				events = append(events, logEvent{
					Timestamp: time.Now(),
					Process:   "com.social.media.app",
					Severity:  "error",
					Message:   "render loop stalled, retrying",
				})
			}
		}
		post(client, *agentURL+"/api/v1/ingest/logs", events)
	}
}

func post(client *http.Client, url string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("marshal: %v", err)
		return
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("post %s: %v", url, err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("post %s: %s", url, resp.Status)
	}
}
