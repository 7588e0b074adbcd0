package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/vigilstack/vigil-agent/internal/models"
	"github.com/vigilstack/vigil-agent/internal/patterns"
	"github.com/vigilstack/vigil-agent/internal/utils"
)

// PipelineAPI is the orchestrator surface the handlers consume.
type PipelineAPI interface {
	ListAlerts(ctx context.Context) ([]models.AlertSnapshot, error)
	AcknowledgeAlert(ctx context.Context, id string) (models.AlertSnapshot, error)
	PushSnapshot(snap models.Snapshot)
	PushLog(ev models.LogEvent)
	DroppedSnapshots() uint64
	DroppedLogs() uint64
}

// PatternSource provides aggregated alert history.
type PatternSource interface {
	Patterns() []patterns.AlertPattern
}

// Handlers binds the local API routes to the pipeline.
type Handlers struct {
	logger   *slog.Logger
	pipeline PipelineAPI
	patterns PatternSource
	hub      *Hub
}

// NewHandlers constructs the handler set.
func NewHandlers(logger *slog.Logger, pipeline PipelineAPI, patternSource PatternSource, hub *Hub) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		logger:   logger,
		pipeline: pipeline,
		patterns: patternSource,
		hub:      hub,
	}
}

// Router assembles the route table with CORS for a local UI.
func (h *Handlers) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/alerts", h.handleListAlerts).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/alerts/{id}/ack", h.handleAcknowledge).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/patterns", h.handlePatterns).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/ingest/snapshots", h.handleIngestSnapshot).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/ingest/logs", h.handleIngestLogs).Methods(http.MethodPost)
	if h.hub != nil {
		r.HandleFunc("/ws/alerts", h.hub.HandleAlerts).Methods(http.MethodGet)
	}

	return cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(r)
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"dropped_snapshots": h.pipeline.DroppedSnapshots(),
		"dropped_logs":      h.pipeline.DroppedLogs(),
	})
}

func (h *Handlers) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.pipeline.ListAlerts(r.Context())
	if err != nil {
		h.logger.Error("list alerts failed", slog.Any("error", err))
		writeError(w, http.StatusServiceUnavailable, "pipeline not available")
		return
	}

	if since := r.URL.Query().Get("since"); since != "" {
		cutoff, err := utils.ParseRFC3339(since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since parameter, expected RFC3339")
			return
		}
		filtered := snaps[:0]
		for _, snap := range snaps {
			if snap.LastSeen.After(cutoff) {
				filtered = append(filtered, snap)
			}
		}
		snaps = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{"alerts": snaps})
}

func (h *Handlers) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		writeError(w, http.StatusBadRequest, "alert id is required")
		return
	}

	snap, err := h.pipeline.AcknowledgeAlert(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handlers) handlePatterns(w http.ResponseWriter, r *http.Request) {
	if h.patterns == nil {
		writeJSON(w, http.StatusOK, map[string]any{"patterns": []patterns.AlertPattern{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patterns": h.patterns.Patterns()})
}

func (h *Handlers) handleIngestSnapshot(w http.ResponseWriter, r *http.Request) {
	var snap models.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		writeError(w, http.StatusBadRequest, "invalid snapshot payload")
		return
	}
	h.pipeline.PushSnapshot(snap)
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handlers) handleIngestLogs(w http.ResponseWriter, r *http.Request) {
	var events []models.LogEvent
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		writeError(w, http.StatusBadRequest, "invalid log payload, expected an array of events")
		return
	}
	for _, ev := range events {
		h.pipeline.PushLog(ev)
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
