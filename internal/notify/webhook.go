// Package notify delivers alert snapshots to an external HTTP endpoint, the
// typical attachment point for a notification daemon or UI backend.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vigilstack/vigil-agent/internal/models"
)

// Webhook POSTs each alert transition as JSON. Delivery is asynchronous and
// best-effort: the pipeline never blocks on a slow or unreachable endpoint.
type Webhook struct {
	url        string
	logger     *slog.Logger
	httpClient *http.Client
	ch         chan models.AlertSnapshot
	done       chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewWebhook constructs a webhook subscriber targeting url and starts its
// delivery goroutine.
func NewWebhook(url string, timeout time.Duration, logger *slog.Logger) *Webhook {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Webhook{
		url:    strings.TrimRight(url, "/"),
		logger: logger,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		ch:   make(chan models.AlertSnapshot, 64),
		done: make(chan struct{}),
	}
	go w.deliverLoop()
	return w
}

// Notify queues one transition for delivery. Never blocks; transitions are
// dropped when the buffer is full or the webhook is closed.
func (w *Webhook) Notify(snap models.AlertSnapshot) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.logger.Warn("webhook closed, dropping transition", slog.String("id", snap.ID))
		return
	}
	select {
	case w.ch <- snap:
	default:
		w.logger.Warn("webhook buffer full, dropping transition", slog.String("id", snap.ID))
	}
}

// Close stops the delivery goroutine after draining queued transitions.
// Idempotent.
func (w *Webhook) Close() {
	w.mu.Lock()
	alreadyClosed := w.closed
	w.closed = true
	w.mu.Unlock()

	if alreadyClosed {
		return
	}
	close(w.ch)
	<-w.done
}

func (w *Webhook) deliverLoop() {
	defer close(w.done)
	for snap := range w.ch {
		if err := w.post(snap); err != nil {
			w.logger.Warn("webhook delivery failed",
				slog.String("id", snap.ID),
				slog.Any("error", err))
		}
	}
}

func (w *Webhook) post(snap models.AlertSnapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
