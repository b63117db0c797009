package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/bull/rag-builder/internal/agent"
	"github.com/bull/rag-builder/internal/config"
	"github.com/bull/rag-builder/internal/embedding"
	"github.com/bull/rag-builder/internal/github"
	"github.com/bull/rag-builder/internal/history"
	"github.com/bull/rag-builder/internal/indexer"
	"github.com/bull/rag-builder/internal/loader"
	"github.com/bull/rag-builder/internal/metadata"
	"github.com/bull/rag-builder/internal/queue"
	"github.com/bull/rag-builder/internal/registry"
	"github.com/bull/rag-builder/internal/retriever"
	"github.com/bull/rag-builder/internal/splitter"
	"github.com/bull/rag-builder/internal/storage"
)

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	sc := cfg.Store
	switch sc.Backend {
	case "qdrant":
		collection := sc.Qdrant.Collection
		if collection == "" {
			collection = sc.Table
		}
		return storage.NewQdrantStore(ctx, storage.QdrantOptions{
			Host:       sc.Qdrant.Host,
			Port:       sc.Qdrant.Port,
			APIKey:     sc.Qdrant.APIKey,
			UseTLS:     sc.Qdrant.UseTLS,
			Collection: collection,
			TextField:  sc.TextColumn,
			Dimension:  sc.Dimension,
			Logger:     logger,
		})
	case "sqlite", "":
		return storage.NewSQLiteStore(storage.SQLiteOptions{
			Path:       sc.SQLite.Path,
			Table:      sc.Table,
			TextColumn: sc.TextColumn,
			Dimension:  sc.Dimension,
			Logger:     logger,
		})
	}
	return nil, fmt.Errorf("unknown store backend %q", sc.Backend)
}

func openRepository(cfg *config.Config, logger *slog.Logger) (*registry.Repository, error) {
	bc := cfg.Backend
	if bc.Driver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(bc.DatabaseDSN), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := registry.Open(bc.Driver, bc.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	return registry.NewRepository(db, bc.HistoryTTL, logger)
}

// openQueues returns the load and deletion queues.
func openQueues(ctx context.Context, cfg *config.Config, logger *slog.Logger) (load, deletion queue.Queue, err error) {
	qc := cfg.Queue
	switch qc.Backend {
	case "redis":
		rdb, err := queue.NewRedisClient(ctx, qc.RedisAddr)
		if err != nil {
			return nil, nil, err
		}
		return queue.NewRedisQueue(rdb, qc.LoadQueue, logger), queue.NewRedisQueue(rdb, qc.DeletionQueue, logger), nil
	case "memory", "":
		return queue.NewMemoryQueue(qc.LoadQueue, 0), queue.NewMemoryQueue(qc.DeletionQueue, 0), nil
	}
	return nil, nil, fmt.Errorf("unknown queue backend %q", qc.Backend)
}

func newOpenAI(cfg *config.Config) (*embedding.Client, error) {
	return embedding.NewClient(embedding.ClientOptions{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
	})
}

func newEmbedder(client *embedding.Client, cfg *config.Config, logger *slog.Logger) *embedding.Embedder {
	return embedding.NewEmbedder(client, embedding.Options{
		Model:             cfg.OpenAI.EmbeddingModel,
		BatchSize:         cfg.OpenAI.BatchSize,
		RequestsPerSecond: cfg.OpenAI.RequestsPerSecond,
		Logger:            logger,
	})
}

func newLoaders(cfg *config.Config, logger *slog.Logger) (*loader.Registry, error) {
	httpClient := &http.Client{Timeout: cfg.Ingest.HTTPTimeout}
	gh, err := github.NewClient(cfg.Ingest.GitHubToken)
	if err != nil {
		return nil, fmt.Errorf("github client: %w", err)
	}
	return loader.NewRegistry(map[loader.Source]loader.Loader{
		loader.SourcePDF:      loader.NewPDFLoader(httpClient, cfg.Ingest.ScratchDir, logger),
		loader.SourceMarkdown: loader.NewMarkdownLoader(httpClient, logger),
		loader.SourceGitHub:   loader.NewGitHubLoader(github.NewFetcher(gh), logger),
	}), nil
}

// reporter is what the pipeline reports to: the backend API or the registry.
type reporter interface {
	indexer.StatusReporter
	indexer.DocumentRegistrar
}

func newPipeline(cfg *config.Config, store storage.Store, rep reporter, logger *slog.Logger) (*indexer.Pipeline, error) {
	client, err := newOpenAI(cfg)
	if err != nil {
		return nil, err
	}
	loaders, err := newLoaders(cfg, logger)
	if err != nil {
		return nil, err
	}
	deps := indexer.Deps{
		Loaders:   loaders,
		Splitter:  splitter.New(cfg.Splitter.ChunkSize, cfg.Splitter.ChunkOverlap),
		Embedder:  newEmbedder(client, cfg, logger),
		Store:     store,
		Status:    rep,
		Documents: rep,
	}
	if cfg.Ingest.GenerateTitles {
		deps.Titler = metadata.NewGenerator(client.Client(), cfg.OpenAI.TitleModel, 0, logger)
	}
	return indexer.NewPipeline(deps, indexer.Options{
		TextColumn:         cfg.Store.TextColumn,
		AbortOnStatusError: cfg.Ingest.AbortOnStatusError,
		Logger:             logger,
	}), nil
}

func newRetriever(cfg *config.Config, store storage.Store, logger *slog.Logger) (*retriever.Retriever, error) {
	client, err := newOpenAI(cfg)
	if err != nil {
		return nil, err
	}
	return retriever.New(store, newEmbedder(client, cfg, logger), retriever.Options{
		Timeout: cfg.Agent.RetrievalTimeout,
		Logger:  logger,
	}), nil
}

func newAgent(cfg *config.Config, r *retriever.Retriever, memory agent.Memory, logger *slog.Logger) (*agent.Agent, error) {
	client, err := newOpenAI(cfg)
	if err != nil {
		return nil, err
	}
	model := agent.NewOpenAIModel(client.Client(), cfg.OpenAI.ChatModel)
	return agent.New(model, memory, []agent.Tool{agent.RetrieverTool(r)}, agent.Options{
		SystemPrompt:  cfg.Agent.SystemPrompt,
		Window:        cfg.Agent.MaxMemoryWindow,
		MaxToolRounds: cfg.Agent.MaxToolRounds,
		Temperature:   cfg.Agent.Temperature,
		Logger:        logger,
	}), nil
}

// registryReporter records pipeline progress straight into the registry,
// for processes that own the database.
type registryReporter struct {
	repo *registry.Repository
}

func (r registryReporter) UpdateStatus(ctx context.Context, loadID string, u history.StatusUpdate) error {
	_, err := r.repo.UpdateAttempt(ctx, loadID, registry.AttemptUpdate{
		Status:       u.Status,
		StartedAt:    u.StartedAt,
		CompletedAt:  u.CompletedAt,
		ErrorDetails: u.ErrorDetails,
	})
	return translateRegistryErr(err)
}

func (r registryReporter) CreateDocument(ctx context.Context, d history.NewDocument) error {
	return translateRegistryErr(r.repo.CreateDocument(ctx, &registry.Document{
		DocumentID: d.DocumentID,
		Title:      d.Title,
		URL:        d.URL,
	}))
}

// translateRegistryErr maps registry errors onto the history client's, so
// both reporters fail the same way.
func translateRegistryErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, registry.ErrNotFound):
		return fmt.Errorf("%w: %v", history.ErrNotFound, err)
	case errors.Is(err, registry.ErrInvalidTransition), errors.Is(err, registry.ErrAlreadyExists):
		return fmt.Errorf("%w: %v", history.ErrConflict, err)
	}
	return err
}

func sourceNames(r *loader.Registry) []string {
	sources := r.Sources()
	out := make([]string, len(sources))
	for i, s := range sources {
		out[i] = string(s)
	}
	return out
}
