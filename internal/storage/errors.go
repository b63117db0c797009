package storage

import "errors"

var (
	ErrQdrantUnreachable = errors.New("qdrant server unreachable")
	ErrTableNotFound     = errors.New("table not found")
	ErrIndexMissing      = errors.New("full-text index missing")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrUnknownColumn     = errors.New("unknown column")
)

// IsEmptyKnowledgeBase reports whether err means nothing is searchable yet:
// no chunks were ever stored, or no ingestion got as far as the index build.
func IsEmptyKnowledgeBase(err error) bool {
	return errors.Is(err, ErrTableNotFound) || errors.Is(err, ErrIndexMissing)
}
