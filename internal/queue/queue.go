// Package queue carries load and deletion requests from the backend API to
// the workers. Delivery is at-most-once: a received message is gone from
// the queue.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("queue closed")

// Default queue names.
const (
	DefaultLoadQueue     = "document-load"
	DefaultDeletionQueue = "document-deletion"
)

// Delivery is one received message.
type Delivery struct {
	Queue string
	Body  []byte
}

// Queue is a named FIFO of opaque messages.
type Queue interface {
	Publish(ctx context.Context, body []byte) error
	// Receive blocks until a message arrives, ctx is done, or the queue is closed.
	Receive(ctx context.Context) (Delivery, error)
	Close() error
}

// LoadSpec describes the document to load.
type LoadSpec struct {
	Source string `json:"source"`
	URL    string `json:"url"`
}

// LoadMessage asks a load worker to ingest a document.
type LoadMessage struct {
	LoadID string   `json:"load_id"`
	Spec   LoadSpec `json:"spec"`
}

// DeletionMessage asks a deletion worker to remove a document's chunks.
type DeletionMessage struct {
	DocumentID string `json:"document_id"`
}

// PublishJSON encodes v and publishes it on q.
func PublishJSON(ctx context.Context, q Queue, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return q.Publish(ctx, body)
}
