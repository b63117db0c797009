// Package retriever answers a query with a formatted block of the most
// relevant stored passages, for consumption by a language model.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bull/rag-builder/internal/embedding"
	"github.com/bull/rag-builder/internal/storage"
)

const (
	// EmptyKnowledgeBase is returned in place of passages when nothing is stored.
	EmptyKnowledgeBase = "the knowledge base is empty"

	// Delimiter separates passages in a formatted block.
	Delimiter = "\n--\n"

	// DefaultTimeout bounds a single retrieval.
	DefaultTimeout = 30 * time.Second
)

// ErrEmpty means the knowledge base holds nothing searchable.
var ErrEmpty = errors.New(EmptyKnowledgeBase)

// Options tune a Retriever.
type Options struct {
	K       int           // Hits per query; defaults to storage.DefaultK
	Timeout time.Duration // Defaults to DefaultTimeout
	Logger  *slog.Logger
}

// Retriever runs hybrid queries against a store.
type Retriever struct {
	store    storage.Store
	embedder embedding.Embedding
	k        int
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates a retriever over store.
func New(store storage.Store, embedder embedding.Embedding, opts Options) *Retriever {
	if opts.K <= 0 {
		opts.K = storage.DefaultK
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Retriever{
		store:    store,
		embedder: embedder,
		k:        opts.K,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
	}
}

// Retrieve returns the passages relevant to query as one formatted block,
// or EmptyKnowledgeBase when nothing has been ingested yet.
func (r *Retriever) Retrieve(ctx context.Context, query string) (string, error) {
	hits, err := r.Search(ctx, query, r.k)
	if errors.Is(err, ErrEmpty) {
		return EmptyKnowledgeBase, nil
	}
	if err != nil {
		return "", err
	}
	return Format(hits), nil
}

// Search returns up to k fused hits for query. It fails with ErrEmpty when
// the knowledge base holds nothing searchable.
func (r *Retriever) Search(ctx context.Context, query string, k int) ([]storage.Hit, error) {
	if k <= 0 {
		k = r.k
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	exists, err := r.store.TableExists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check table: %w", err)
	}
	if !exists {
		r.logger.Info("Knowledge base is empty", "query", query)
		return nil, ErrEmpty
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := r.store.HybridQuery(ctx, query, vector, k)
	if storage.IsEmptyKnowledgeBase(err) {
		r.logger.Info("Knowledge base is empty", "query", query, "reason", err)
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("hybrid query: %w", err)
	}
	r.logger.Debug("Retrieved passages", "query", query, "hits", len(hits))
	return hits, nil
}

// Format renders hits as "Source: {metadata}\nContent: {text}" passages
// joined by Delimiter.
func Format(hits []storage.Hit) string {
	passages := make([]string, len(hits))
	for i, h := range hits {
		passages[i] = "Source: " + FormatMetadata(h.Metadata) + "\nContent: " + h.Text
	}
	return strings.Join(passages, Delimiter)
}

// FormatMetadata renders metadata as a map literal with sorted keys.
func FormatMetadata(metadata map[string]string) string {
	return storage.MetadataString(metadata)
}

// SplitPassages recovers the individual passages of a formatted block.
func SplitPassages(block string) []string {
	if block == "" || block == EmptyKnowledgeBase {
		return nil
	}
	return strings.Split(block, Delimiter)
}
