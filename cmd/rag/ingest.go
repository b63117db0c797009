package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bull/rag-builder/internal/loader"
	"github.com/bull/rag-builder/internal/registry"
)

func newIngestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <source> <url>",
		Short: "Ingest one document synchronously",
		Long: `Loads, splits, embeds and stores one document, recording the attempt
in the registry database directly (no backend API or queue involved).

Sources: pdf, markdown, github`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.ingest(cmd, loader.Source(args[0]), args[1])
		},
	}
}

func (a *app) ingest(cmd *cobra.Command, source loader.Source, url string) error {
	ctx := cmd.Context()
	cfg, logger := a.cfg, a.logger

	repo, err := openRepository(cfg, logger)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	pipeline, err := newPipeline(cfg, store, registryReporter{repo: repo}, logger)
	if err != nil {
		return err
	}

	loadID := uuid.NewString()
	if _, err := repo.CreateAttempt(ctx, loadID, string(source), url); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}

	out, err := pipeline.IngestOutcome(ctx, loadID, source, url)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if out.Status != registry.StatusCompleted {
		fmt.Fprintf(w, "Load %s failed: %v\n", loadID, out.Err)
		return fmt.Errorf("ingestion failed")
	}
	fmt.Fprintf(w, "Load %s completed\n", loadID)
	fmt.Fprintf(w, "  Title:  %s\n", out.Title)
	fmt.Fprintf(w, "  Chunks: %d\n", out.Chunks)
	return nil
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Delete a document and its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.deleteDocument(cmd.Context(), args[0])
		},
	}
}

func (a *app) deleteDocument(ctx context.Context, id string) error {
	repo, err := openRepository(a.cfg, a.logger)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := repo.DeleteDocument(ctx, id); err != nil {
		return err
	}
	if err := store.DeleteByPrefix(ctx, id); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	a.logger.Info("Document deleted", "document_id", id)
	return nil
}

func newOptimizeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "optimize",
		Short: "Compact the document store and its full-text index",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Optimize(ctx)
		},
	}
}
