package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/rag-builder/internal/registry"
	"github.com/bull/rag-builder/internal/retriever"
	"github.com/bull/rag-builder/internal/storage"
)

const (
	defaultMaxResults = 5
	maxMaxResults     = 20
	// maxListedDocuments caps the documents returned by get_index_status.
	maxListedDocuments = 200
)

func makeRetrieveHandler(r Retriever, logger *slog.Logger) func(
	context.Context, *mcp.CallToolRequest, RetrieveContextInput,
) (*mcp.CallToolResult, RetrieveContextOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input RetrieveContextInput) (
		*mcp.CallToolResult, RetrieveContextOutput, error,
	) {
		if input.Query == "" {
			return nil, RetrieveContextOutput{}, errors.New("query is required")
		}
		block, err := r.Retrieve(ctx, input.Query)
		if err != nil {
			logger.Error("retrieve_context failed", "query", input.Query, "error", err)
			return nil, RetrieveContextOutput{}, fmt.Errorf("retrieval failed: %w", err)
		}
		return nil, RetrieveContextOutput{Context: block}, nil
	}
}

// makeSearchHandler returns fused hits with the document each came from.
func makeSearchHandler(r Retriever, logger *slog.Logger) func(
	context.Context, *mcp.CallToolRequest, SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchInput) (
		*mcp.CallToolResult, SearchOutput, error,
	) {
		if input.Query == "" {
			return nil, SearchOutput{}, errors.New("query is required")
		}
		k := input.MaxResults
		if k <= 0 {
			k = defaultMaxResults
		}
		k = min(k, maxMaxResults)

		hits, err := r.Search(ctx, input.Query, k)
		if errors.Is(err, retriever.ErrEmpty) {
			return nil, SearchOutput{Results: []SearchResult{}, Message: retriever.EmptyKnowledgeBase}, nil
		}
		if err != nil {
			logger.Error("search_knowledge_base failed", "query", input.Query, "error", err)
			return nil, SearchOutput{}, fmt.Errorf("search failed: %w", err)
		}

		results := make([]SearchResult, 0, len(hits))
		for _, h := range hits {
			results = append(results, SearchResult{
				ChunkID:    h.ID,
				DocumentID: storage.DocumentIDOf(h.ID),
				Title:      h.Metadata["title"],
				URL:        h.Metadata["url"],
				Score:      h.Score,
				Text:       h.Text,
			})
		}
		if len(results) == 0 {
			return nil, SearchOutput{
				Results: results,
				Message: "No matching passages found. Try broader search terms.",
			}, nil
		}
		return nil, SearchOutput{Results: results}, nil
	}
}

// makeStatusHandler reports store state and, when a lister is configured,
// the registered documents.
func makeStatusHandler(index IndexInspector, docs DocumentLister) func(
	context.Context, *mcp.CallToolRequest, StatusInput,
) (*mcp.CallToolResult, StatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input StatusInput) (
		*mcp.CallToolResult, StatusOutput, error,
	) {
		out := StatusOutput{Documents: []DocumentInfo{}}

		exists, err := index.TableExists(ctx)
		if err != nil {
			return nil, StatusOutput{}, fmt.Errorf("store_error: %w", err)
		}
		out.TableExists = exists
		if exists {
			if out.FullTextIndex, err = index.HasFullTextIndex(ctx); err != nil {
				return nil, StatusOutput{}, fmt.Errorf("store_error: %w", err)
			}
		}

		if docs == nil {
			return nil, out, nil
		}
		var last time.Time
		after := ""
		for {
			page, next, err := docs.ListDocuments(ctx, after, registry.DefaultPageSize)
			if err != nil {
				return nil, StatusOutput{}, fmt.Errorf("registry_error: %w", err)
			}
			for _, d := range page {
				out.TotalDocs++
				if d.AddedAt.After(last) {
					last = d.AddedAt
				}
				if len(out.Documents) < maxListedDocuments {
					out.Documents = append(out.Documents, DocumentInfo{
						DocumentID: d.DocumentID,
						Title:      d.Title,
						URL:        d.URL,
					})
				}
			}
			if next == "" {
				break
			}
			after = next
		}
		if !last.IsZero() {
			out.LastAddedAt = last.UTC().Format(time.RFC3339)
		}
		return nil, out, nil
	}
}
