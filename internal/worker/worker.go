// Package worker consumes the load and deletion queues.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bull/rag-builder/internal/queue"
)

// receiveRetryDelay is the pause after a failed receive.
const receiveRetryDelay = time.Second

// handler processes one delivery. Errors are logged by the caller.
type handler func(ctx context.Context, d queue.Delivery) error

// consume receives from q with concurrency goroutines until ctx is done or q
// is closed. Handler panics are recovered and logged.
func consume(ctx context.Context, q queue.Queue, concurrency int, logger *slog.Logger, handle handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for range concurrency {
		g.Go(func() error {
			for {
				d, err := q.Receive(ctx)
				switch {
				case err == nil:
				case errors.Is(err, queue.ErrClosed), ctx.Err() != nil:
					return nil
				default:
					logger.Warn("Receive failed", "error", err)
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(receiveRetryDelay):
					}
					continue
				}

				if err := safeHandle(ctx, handle, d); err != nil {
					logger.Error("Message handling failed", "queue", d.Queue, "error", err)
				}
			}
		})
	}
	return g.Wait()
}

func safeHandle(ctx context.Context, handle handler, d queue.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handle(ctx, d)
}
