package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bull/rag-builder/internal/history"
	"github.com/bull/rag-builder/internal/httpapi"
	"github.com/bull/rag-builder/internal/registry"
)

const purgeInterval = time.Hour

func newServeCmd(a *app) *cobra.Command {
	var withWorkers bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the backend API",
		Long: `Serves load requests, load history and the document registry over HTTP.

With --with-workers the load and deletion workers run in the same process,
which is required when the queue backend is "memory".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context(), withWorkers)
		},
	}
	cmd.Flags().BoolVar(&withWorkers, "with-workers", false, "also run load and deletion workers in-process")
	return cmd
}

func (a *app) serve(ctx context.Context, withWorkers bool) error {
	cfg, logger := a.cfg, a.logger

	repo, err := openRepository(cfg, logger)
	if err != nil {
		return err
	}
	loads, deletions, err := openQueues(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer loads.Close()
	defer deletions.Close()

	loaders, err := newLoaders(cfg, logger)
	if err != nil {
		return err
	}
	handler := httpapi.NewHandler(httpapi.Config{
		Repository:    repo,
		LoadQueue:     loads,
		DeletionQueue: deletions,
		Sources:       sourceNames(loaders),
		Logger:        logger,
	})
	srv := &http.Server{
		Addr:              cfg.Backend.ListenAddr,
		Handler:           httpapi.NewRouter(handler, "rag-backend"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var startWorkers func(context.Context, *errgroup.Group)
	if withWorkers {
		store, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		pipeline, err := newPipeline(cfg, store, history.NewClient(cfg.Backend.URL, nil, logger), logger)
		if err != nil {
			return err
		}
		startWorkers = func(ctx context.Context, g *errgroup.Group) {
			runWorkers(ctx, g, cfg.Ingest.Concurrency, loads, deletions, pipeline, store, logger)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting backend API", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		purgeLoop(ctx, repo, a)
		return nil
	})
	if startWorkers != nil {
		startWorkers(ctx, g)
	}

	return g.Wait()
}

func purgeLoop(ctx context.Context, repo *registry.Repository, a *app) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		n, err := repo.PurgeExpired(ctx)
		if err != nil && ctx.Err() == nil {
			a.logger.Warn("Failed to purge expired load history", "error", err)
		} else if n > 0 {
			a.logger.Info("Purged expired load history", "rows", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
