package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/bull/rag-builder/internal/queue"
)

// PrefixDeleter removes every chunk whose id starts with a prefix.
type PrefixDeleter interface {
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// DeletionWorker removes the chunks of deleted documents.
type DeletionWorker struct {
	queue  queue.Queue
	store  PrefixDeleter
	logger *slog.Logger
}

// NewDeletionWorker creates a deletion worker.
func NewDeletionWorker(q queue.Queue, store PrefixDeleter, logger *slog.Logger) *DeletionWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeletionWorker{
		queue:  q,
		store:  store,
		logger: logger.With("component", "DeletionWorker"),
	}
}

// Run consumes deletion messages until ctx is cancelled or the queue is closed.
func (w *DeletionWorker) Run(ctx context.Context) error {
	w.logger.Info("Deletion worker started")
	defer w.logger.Info("Deletion worker stopped")
	return consume(ctx, w.queue, 1, w.logger, w.Handle)
}

// Handle deletes the chunks of one document.
func (w *DeletionWorker) Handle(ctx context.Context, d queue.Delivery) error {
	var msg queue.DeletionMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		w.logger.Error("Dropping malformed deletion message", "error", err)
		return nil
	}
	if msg.DocumentID == "" {
		// An empty prefix would match every chunk.
		w.logger.Error("Dropping deletion message without document_id")
		return nil
	}

	if err := w.store.DeleteByPrefix(ctx, msg.DocumentID); err != nil {
		return fmt.Errorf("delete chunks of %s: %w", msg.DocumentID, err)
	}
	w.logger.Info("Deleted document chunks", "document_id", msg.DocumentID)
	return nil
}
