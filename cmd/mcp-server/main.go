// Package main provides the MCP server entry point for the knowledge base.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bull/rag-builder/internal/config"
	"github.com/bull/rag-builder/internal/embedding"
	mcpserver "github.com/bull/rag-builder/internal/mcp"
	"github.com/bull/rag-builder/internal/registry"
	"github.com/bull/rag-builder/internal/retriever"
	"github.com/bull/rag-builder/internal/storage"
	"github.com/bull/rag-builder/internal/telemetry"
)

// indexedStore is a chunk store that can also report its index state.
type indexedStore interface {
	storage.Store
	mcpserver.IndexInspector
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := run(ctx); err != nil {
		slog.Error("MCP server failed", "error", err)
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(getEnv("RAG_CONFIG", "config.yaml"))
	if err != nil {
		return err
	}
	// stdout carries the stdio transport, so logs go to stderr.
	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: "rag-mcp-server",
	}, logger)
	if err != nil {
		return err
	}
	defer shutdown(context.WithoutCancel(ctx))

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	client, err := embedding.NewClient(embedding.ClientOptions{APIKey: cfg.OpenAI.APIKey, BaseURL: cfg.OpenAI.BaseURL})
	if err != nil {
		return fmt.Errorf("failed to create embedding client: %w", err)
	}
	embedder := embedding.NewEmbedder(client, embedding.Options{
		Model:             cfg.OpenAI.EmbeddingModel,
		BatchSize:         cfg.OpenAI.BatchSize,
		RequestsPerSecond: cfg.OpenAI.RequestsPerSecond,
		Logger:            logger,
	})

	serverCfg := &mcpserver.Config{
		Retriever: retriever.New(store, embedder, retriever.Options{Timeout: cfg.Agent.RetrievalTimeout, Logger: logger}),
		Index:     store,
		Logger:    logger,
	}
	// The document registry is optional; status falls back to store state.
	if db, err := registry.Open(cfg.Backend.Driver, cfg.Backend.DatabaseDSN); err != nil {
		logger.Warn("Document registry unavailable", "error", err)
	} else if repo, err := registry.NewRepository(db, cfg.Backend.HistoryTTL, logger); err != nil {
		logger.Warn("Document registry unavailable", "error", err)
	} else {
		serverCfg.Documents = repo
	}
	server := mcpserver.NewServer(serverCfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", mcpserver.NewHealthHandler(store))
	mux.Handle("/mcp", mcpserver.NewHTTPHandler(server, nil))

	addr := "0.0.0.0:" + getEnv("PORT", "8081")
	httpServer := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	if getEnv("SERVER_MODE", "false") == "true" {
		logger.Info("Starting HTTP server", "addr", addr, "mcp", "/mcp", "health", "/health")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	}

	// Stdio mode, with the HTTP endpoints in the background for local testing.
	go func() {
		logger.Info("Starting health server", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("Health server error", "error", err)
		}
	}()
	return server.Run(ctx)
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (indexedStore, error) {
	sc := cfg.Store
	if sc.Backend == "qdrant" {
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
	}
	return storage.NewSQLiteStore(storage.SQLiteOptions{
		Path:       sc.SQLite.Path,
		Table:      sc.Table,
		TextColumn: sc.TextColumn,
		Dimension:  sc.Dimension,
		Logger:     logger,
	})
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
