package mcp

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/rag-builder/internal/registry"
	"github.com/bull/rag-builder/internal/storage"
)

// Retriever answers queries against the knowledge base.
type Retriever interface {
	Retrieve(ctx context.Context, query string) (string, error)
	Search(ctx context.Context, query string, k int) ([]storage.Hit, error)
}

// IndexInspector reports the state of the chunk store.
type IndexInspector interface {
	TableExists(ctx context.Context) (bool, error)
	HasFullTextIndex(ctx context.Context) (bool, error)
}

// DocumentLister pages through registered documents.
type DocumentLister interface {
	ListDocuments(ctx context.Context, after string, limit int) ([]registry.Document, string, error)
}

// Server wraps the MCP server with its dependencies.
type Server struct {
	server *mcp.Server
	logger *slog.Logger
}

// Config holds server dependencies. Documents may be nil.
type Config struct {
	Retriever Retriever
	Index     IndexInspector
	Documents DocumentLister
	Version   string
	Logger    *slog.Logger
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Version == "" {
		cfg.Version = "v0.1.0"
	}
	impl := &mcp.Implementation{
		Name:    "rag-knowledge-base",
		Version: cfg.Version,
	}

	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "retrieve_context",
		Description: "Retrieve passages relevant to a query from the knowledge base, formatted as 'Source: ...' / 'Content: ...' blocks.",
	}, makeRetrieveHandler(cfg.Retriever, cfg.Logger))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_knowledge_base",
		Description: "Hybrid (vector + keyword) search over the knowledge base. Returns scored passages with their source document.",
	}, makeSearchHandler(cfg.Retriever, cfg.Logger))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_index_status",
		Description: "Report whether the knowledge base holds data, whether its full-text index is built, and which documents are registered.",
	}, makeStatusHandler(cfg.Index, cfg.Documents))

	return &Server{server: server, logger: cfg.Logger}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Serving MCP over stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
