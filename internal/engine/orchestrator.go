// Package engine wires the pipeline: snapshot -> window -> score -> alert ->
// correlate, on a single consumer goroutine that owns all mutable state.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vigilstack/vigil-agent/internal/alerts"
	"github.com/vigilstack/vigil-agent/internal/correlate"
	"github.com/vigilstack/vigil-agent/internal/metrics"
	"github.com/vigilstack/vigil-agent/internal/models"
	"github.com/vigilstack/vigil-agent/internal/scoring"
	"github.com/vigilstack/vigil-agent/internal/utils"
	"github.com/vigilstack/vigil-agent/internal/window"
)

// Config sizes the ingestion queues and the retention sweep cadence.
type Config struct {
	SnapshotQueueCapacity int
	LogQueueCapacity      int
	SweepInterval         time.Duration
}

// Pipeline is the orchestrator. Producers enqueue through PushSnapshot and
// PushLog from any goroutine; Run consumes from exactly one, so the ring
// buffers, scorer state, and alert table need no locks.
type Pipeline struct {
	logger *slog.Logger
	cfg    Config

	windower    *window.Windower
	scorer      *scoring.Scorer
	correlator  *correlate.Correlator
	alerts      *alerts.Manager
	categorizer *Categorizer
	latencies   *utils.LatencyTracker

	snapshots chan models.Snapshot
	logs      chan models.LogEvent
	control   chan func(*Pipeline)

	droppedSnapshots atomic.Uint64
	droppedLogs      atomic.Uint64
	processed        atomic.Uint64
}

// NewPipeline constructs the orchestrator around its components.
func NewPipeline(
	logger *slog.Logger,
	cfg Config,
	windower *window.Windower,
	scorer *scoring.Scorer,
	correlator *correlate.Correlator,
	alertManager *alerts.Manager,
	categorizer *Categorizer,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SnapshotQueueCapacity < 1 {
		cfg.SnapshotQueueCapacity = 256
	}
	if cfg.LogQueueCapacity < 1 {
		cfg.LogQueueCapacity = 1024
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}

	return &Pipeline{
		logger:      logger,
		cfg:         cfg,
		windower:    windower,
		scorer:      scorer,
		correlator:  correlator,
		alerts:      alertManager,
		categorizer: categorizer,
		latencies:   utils.NewLatencyTracker(1024),
		snapshots:   make(chan models.Snapshot, cfg.SnapshotQueueCapacity),
		logs:        make(chan models.LogEvent, cfg.LogQueueCapacity),
		control:     make(chan func(*Pipeline)),
	}
}

// PushSnapshot enqueues a snapshot without ever blocking the producer. When
// the queue is full the oldest unconsumed snapshot is dropped and counted.
func (p *Pipeline) PushSnapshot(snap models.Snapshot) {
	for {
		select {
		case p.snapshots <- snap:
			return
		default:
			select {
			case <-p.snapshots:
				p.droppedSnapshots.Add(1)
				metrics.IncDropped(metrics.QueueSnapshots)
			default:
			}
		}
	}
}

// PushLog enqueues a log event with the same drop-oldest backpressure.
func (p *Pipeline) PushLog(ev models.LogEvent) {
	for {
		select {
		case p.logs <- ev:
			return
		default:
			select {
			case <-p.logs:
				p.droppedLogs.Add(1)
				metrics.IncDropped(metrics.QueueLogs)
			default:
			}
		}
	}
}

// DroppedSnapshots returns the backpressure drop count for the snapshot queue.
func (p *Pipeline) DroppedSnapshots() uint64 { return p.droppedSnapshots.Load() }

// DroppedLogs returns the backpressure drop count for the log queue.
func (p *Pipeline) DroppedLogs() uint64 { return p.droppedLogs.Load() }

// Alerts exposes the lifecycle manager so subscribers can be attached before
// Run starts. Once running, reads and acknowledgements go through ListAlerts
// and AcknowledgeAlert, which execute on the consumer goroutine.
func (p *Pipeline) Alerts() *alerts.Manager { return p.alerts }

// ListAlerts returns snapshots of all retained alerts. The read executes on
// the consumer goroutine; it blocks until the pipeline services it or the
// context is cancelled.
func (p *Pipeline) ListAlerts(ctx context.Context) ([]models.AlertSnapshot, error) {
	done := make(chan []models.AlertSnapshot, 1)
	select {
	case p.control <- func(p *Pipeline) { done <- p.alerts.List() }:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case snaps := <-done:
		return snaps, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AcknowledgeAlert marks an active alert as seen, executed on the consumer
// goroutine so only the pipeline ever mutates the alert table.
func (p *Pipeline) AcknowledgeAlert(ctx context.Context, id string) (models.AlertSnapshot, error) {
	type ackResult struct {
		snap models.AlertSnapshot
		err  error
	}
	done := make(chan ackResult, 1)
	select {
	case p.control <- func(p *Pipeline) {
		snap, err := p.alerts.Acknowledge(id)
		done <- ackResult{snap: snap, err: err}
	}:
	case <-ctx.Done():
		return models.AlertSnapshot{}, ctx.Err()
	}
	select {
	case res := <-done:
		return res.snap, res.err
	case <-ctx.Done():
		return models.AlertSnapshot{}, ctx.Err()
	}
}

// Run consumes both queues until the context is cancelled. In-flight queue
// contents are discarded on shutdown; unprocessed events carry no
// durability guarantee.
func (p *Pipeline) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	p.logger.Info("pipeline started",
		slog.Int("snapshot_queue", p.cfg.SnapshotQueueCapacity),
		slog.Int("log_queue", p.cfg.LogQueueCapacity))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopped",
				slog.Uint64("processed", p.processed.Load()),
				slog.Uint64("dropped_snapshots", p.droppedSnapshots.Load()),
				slog.Uint64("dropped_logs", p.droppedLogs.Load()))
			return nil
		case req := <-p.control:
			req(p)
		case ev := <-p.logs:
			p.correlator.Index(ev)
		case snap := <-p.snapshots:
			p.processSnapshot(ctx, snap)
		case <-ticker.C:
			p.alerts.Sweep()
		}
	}
}

// processSnapshot runs one snapshot through the full chain.
func (p *Pipeline) processSnapshot(ctx context.Context, snap models.Snapshot) {
	start := time.Now()

	vec, ok, err := p.windower.Push(snap)
	if err != nil {
		if errors.Is(err, utils.ErrInvalidSnapshot) {
			metrics.IncInvalidSnapshot()
			p.logger.Debug("snapshot rejected", slog.Any("error", err))
			return
		}
		p.logger.Warn("windower push failed", slog.Any("error", err))
		return
	}
	if !ok {
		p.observe(start)
		return
	}

	score := p.scorer.Score(ctx, vec)
	if score.Unavailable {
		metrics.IncScoringFailure()
	}

	if score.Anomalous {
		category, meta := p.categorizer.Categorize(vec)
		p.alerts.Observe(category, meta, score)
	} else {
		p.alerts.ResolveAll(score)
	}

	p.observe(start)
}

func (p *Pipeline) observe(start time.Time) {
	duration := time.Since(start)
	p.latencies.Observe(duration)
	metrics.ObserveSnapshot(duration)

	if count := p.processed.Add(1); count >= 100 && count%100 == 0 {
		p.logger.Debug("pipeline latency",
			slog.Duration("p95", p.latencies.P95()),
			slog.Uint64("samples", count))
	}
}
