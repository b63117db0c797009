package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bull/rag-builder/internal/loader"
	"github.com/bull/rag-builder/internal/queue"
)

// Ingester runs one ingestion attempt.
type Ingester interface {
	Ingest(ctx context.Context, attemptID string, source loader.Source, url string) error
}

// LoadWorker feeds LoadMessages to the ingestion pipeline.
type LoadWorker struct {
	queue       queue.Queue
	ingester    Ingester
	concurrency int
	logger      *slog.Logger
}

// NewLoadWorker creates a load worker running concurrency ingestions at a time.
func NewLoadWorker(q queue.Queue, ingester Ingester, concurrency int, logger *slog.Logger) *LoadWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoadWorker{
		queue:       q,
		ingester:    ingester,
		concurrency: concurrency,
		logger:      logger.With("component", "LoadWorker"),
	}
}

// Run consumes load messages until ctx is cancelled or the queue is closed.
func (w *LoadWorker) Run(ctx context.Context) error {
	w.logger.Info("Load worker started", "concurrency", max(w.concurrency, 1))
	defer w.logger.Info("Load worker stopped")
	return consume(ctx, w.queue, w.concurrency, w.logger, w.Handle)
}

// Handle processes one delivery. Malformed messages and unsupported sources
// are dropped: redelivering them cannot succeed.
func (w *LoadWorker) Handle(ctx context.Context, d queue.Delivery) error {
	var msg queue.LoadMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		w.logger.Error("Dropping malformed load message", "error", err)
		return nil
	}
	if msg.LoadID == "" || msg.Spec.URL == "" {
		w.logger.Error("Dropping incomplete load message", "load_id", msg.LoadID)
		return nil
	}

	w.logger.Info("Processing load request", "load_id", msg.LoadID, "source", msg.Spec.Source, "url", msg.Spec.URL)
	err := w.ingester.Ingest(ctx, msg.LoadID, loader.Source(msg.Spec.Source), msg.Spec.URL)
	if errors.Is(err, loader.ErrUnsupportedSource) {
		w.logger.Error("Configuration error: unsupported source", "load_id", msg.LoadID, "source", msg.Spec.Source)
		return nil
	}
	if err != nil {
		return fmt.Errorf("ingest %s: %w", msg.LoadID, err)
	}
	return nil
}
