package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bull/rag-builder/internal/history"
	"github.com/bull/rag-builder/internal/queue"
	"github.com/bull/rag-builder/internal/storage"
	"github.com/bull/rag-builder/internal/worker"
)

func newWorkerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume load and deletion queues",
		Long: `Runs the load worker (ingestion pipeline) and the deletion worker.

Status is reported to the backend API at backend.url. Requires a shared
queue backend (queue.backend: redis).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.work(cmd.Context())
		},
	}
}

func (a *app) work(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	if cfg.Queue.Backend != "redis" {
		return errors.New(`worker needs queue.backend "redis"; use "rag serve --with-workers" for the memory queue`)
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	loads, deletions, err := openQueues(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer loads.Close()
	defer deletions.Close()

	pipeline, err := newPipeline(cfg, store, history.NewClient(cfg.Backend.URL, nil, logger), logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	runWorkers(ctx, g, cfg.Ingest.Concurrency, loads, deletions, pipeline, store, logger)
	return g.Wait()
}

func runWorkers(ctx context.Context, g *errgroup.Group, concurrency int, loads, deletions queue.Queue,
	ingester worker.Ingester, store storage.Store, logger *slog.Logger,
) {
	lw := worker.NewLoadWorker(loads, ingester, concurrency, logger)
	dw := worker.NewDeletionWorker(deletions, store, logger)
	g.Go(func() error { return ignoreCancel(lw.Run(ctx)) })
	g.Go(func() error { return ignoreCancel(dw.Run(ctx)) })
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrClosed) {
		return nil
	}
	return err
}
