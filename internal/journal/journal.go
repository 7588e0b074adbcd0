// Package journal persists alert state transitions to a local SQLite file.
// Writes are asynchronous so the pipeline's transition fan-out never blocks
// on disk.
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vigilstack/vigil-agent/internal/models"
)

// Schema for the alert_transitions table, applied on Open.
const Schema = `
CREATE TABLE IF NOT EXISTS alert_transitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	alert_id TEXT NOT NULL,
	category TEXT NOT NULL,
	state TEXT NOT NULL,
	peak_score REAL NOT NULL,
	occurrence_count INTEGER NOT NULL,
	culprit TEXT,
	snapshot TEXT NOT NULL,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alert_transitions_alert ON alert_transitions(alert_id);
CREATE INDEX IF NOT EXISTS idx_alert_transitions_ts ON alert_transitions(recorded_at);
`

// Journal is an append-only transition log implementing the alert subscriber
// interface. Notify is non-blocking; entries are dropped when the buffer is
// full rather than stalling the pipeline.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
	ch     chan models.AlertSnapshot
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// Open creates or opens the journal database at path and starts the flush
// goroutine.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}

	j := &Journal{
		db:     db,
		logger: logger,
		ch:     make(chan models.AlertSnapshot, 256),
		done:   make(chan struct{}),
	}
	go j.flushLoop()
	return j, nil
}

// Notify queues one transition for persistence. Never blocks; transitions
// arriving after Close are dropped.
func (j *Journal) Notify(snap models.AlertSnapshot) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		j.logger.Warn("journal closed, dropping transition", slog.String("id", snap.ID))
		return
	}
	select {
	case j.ch <- snap:
	default:
		j.logger.Warn("journal buffer full, dropping transition", slog.String("id", snap.ID))
	}
}

// Close drains the buffer and closes the database. Idempotent.
func (j *Journal) Close() error {
	j.mu.Lock()
	alreadyClosed := j.closed
	j.closed = true
	j.mu.Unlock()

	if !alreadyClosed {
		close(j.ch)
		<-j.done
	}
	return j.db.Close()
}

func (j *Journal) flushLoop() {
	defer close(j.done)

	batch := make([]models.AlertSnapshot, 0, 32)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-j.ch:
			if !ok {
				j.flushBatch(batch)
				return
			}
			batch = append(batch, snap)
			if len(batch) >= 32 {
				j.flushBatch(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				j.flushBatch(batch)
				batch = batch[:0]
			}
		}
	}
}

func (j *Journal) flushBatch(batch []models.AlertSnapshot) {
	if len(batch) == 0 {
		return
	}

	tx, err := j.db.Begin()
	if err != nil {
		j.logger.Error("journal begin tx", slog.Any("error", err))
		return
	}

	stmt, err := tx.Prepare(`INSERT INTO alert_transitions
		(alert_id, category, state, peak_score, occurrence_count, culprit, snapshot, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		j.logger.Error("journal prepare", slog.Any("error", err))
		return
	}
	defer stmt.Close()

	for _, snap := range batch {
		culprit := ""
		if snap.Culprit != nil {
			culprit = snap.Culprit.Process
		}
		payload, err := json.Marshal(snap)
		if err != nil {
			j.logger.Error("journal marshal", slog.Any("error", err))
			continue
		}
		if _, err := stmt.Exec(
			snap.ID,
			string(snap.Category),
			string(snap.State),
			snap.PeakScore,
			snap.OccurrenceCount,
			culprit,
			string(payload),
			time.Now().UnixMicro(),
		); err != nil {
			j.logger.Error("journal insert", slog.Any("error", err))
		}
	}

	if err := tx.Commit(); err != nil {
		j.logger.Error("journal commit", slog.Any("error", err))
	}
}

// Recent returns the most recent transitions, newest first, up to limit.
func (j *Journal) Recent(limit int) ([]models.AlertSnapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.Query(
		`SELECT snapshot FROM alert_transitions ORDER BY recorded_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	out := make([]models.AlertSnapshot, 0, limit)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		var snap models.AlertSnapshot
		if err := json.Unmarshal([]byte(payload), &snap); err != nil {
			j.logger.Warn("journal row unmarshal", slog.Any("error", err))
			continue
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
