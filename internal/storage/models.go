package storage

import (
	"fmt"
	"strings"
)

// ChunkRecord is a unit of stored, retrievable text.
// Records are created during ingestion and never mutated afterwards.
type ChunkRecord struct {
	ID       string            // "{attempt_id}-{sequence:04d}"
	Text     string            // Chunk text content
	Vector   []float32         // Embedding of Text
	Metadata map[string]string // Always carries "url", optionally "title"
}

// Hit is a single retrieval result.
type Hit struct {
	ID       string
	Text     string
	Metadata map[string]string
	Score    float64 // Leg-specific score, or the fused score after Fuse
}

const (
	// DefaultTable is the table (or collection) holding chunk records.
	DefaultTable = "vectorstore"

	// DefaultTextColumn is the column the full-text index is built over.
	DefaultTextColumn = "text"

	// DefaultK is the number of hits returned by a hybrid query.
	DefaultK = 10

	// DefaultRankConstant is the RRF rank constant.
	DefaultRankConstant = 60

	// VectorDimension is the embedding size for text-embedding-3-small.
	VectorDimension = 1536
)

// ChunkID returns the deterministic identifier of the seq-th chunk of an attempt.
func ChunkID(attemptID string, seq int) string {
	return fmt.Sprintf("%s-%04d", attemptID, seq)
}

// DocumentIDOf returns the attempt id a chunk id was derived from.
func DocumentIDOf(chunkID string) string {
	if i := strings.LastIndexByte(chunkID, '-'); i > 0 {
		return chunkID[:i]
	}
	return chunkID
}

// IndexName returns the name of the full-text index over column.
func IndexName(column string) string {
	return column + "_idx"
}
