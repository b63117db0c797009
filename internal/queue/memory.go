package queue

import (
	"context"
	"sync"
)

// MemoryQueue is an in-process queue backed by a buffered channel.
type MemoryQueue struct {
	name   string
	ch     chan []byte
	done   chan struct{}
	closed sync.Once
}

// NewMemoryQueue returns a queue holding up to capacity pending messages.
// Publish blocks while the queue is full.
func NewMemoryQueue(name string, capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 64
	}
	return &MemoryQueue{
		name: name,
		ch:   make(chan []byte, capacity),
		done: make(chan struct{}),
	}
}

func (q *MemoryQueue) Publish(ctx context.Context, body []byte) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- append([]byte(nil), body...):
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Receive(ctx context.Context) (Delivery, error) {
	select {
	case body := <-q.ch:
		return Delivery{Queue: q.name, Body: body}, nil
	case <-q.done:
		return Delivery{}, ErrClosed
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	}
}

// Len returns the number of pending messages.
func (q *MemoryQueue) Len() int { return len(q.ch) }

// Close stops the queue. Pending messages are dropped.
func (q *MemoryQueue) Close() error {
	q.closed.Do(func() { close(q.done) })
	return nil
}
