// Package storage holds chunk records in a vector + full-text searchable table.
//
// Two backends implement Store: SQLiteStore (modernc.org/sqlite with an FTS5
// index, used locally and in tests) and QdrantStore (remote Qdrant collection).
// Both treat the chunk id as primary key, so re-inserting the same id overwrites.
package storage

import "context"

// Store is the capability interface of the document store.
// Implementations are safe for concurrent use.
type Store interface {
	// Insert writes records keyed by ID. It is not transactional across records:
	// on error some records may already be stored.
	Insert(ctx context.Context, records []ChunkRecord) error

	// HybridQuery runs a vector leg and a keyword leg and fuses them with RRF.
	// Returns ErrTableNotFound when nothing was ever inserted and ErrIndexMissing
	// when the full-text index has not been built.
	HybridQuery(ctx context.Context, text string, vector []float32, k int) ([]Hit, error)

	// DeleteByPrefix removes every record whose ID starts with prefix.
	DeleteByPrefix(ctx context.Context, prefix string) error

	// CreateFullTextIndexIfAbsent builds the index over column unless it exists,
	// and returns only once the build is complete.
	CreateFullTextIndexIfAbsent(ctx context.Context, column string) error

	// TableExists reports whether the backing table has been created.
	TableExists(ctx context.Context) (bool, error)

	// Optimize compacts the table and its index.
	Optimize(ctx context.Context) error

	Health(ctx context.Context) error
	Close() error
}
