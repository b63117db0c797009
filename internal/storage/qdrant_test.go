//go:build integration

package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a store on a throwaway collection.
// Skips test if Qdrant is not running.
func setupTestStore(t *testing.T) *QdrantStore {
	store, err := NewQdrantStore(context.Background(), QdrantOptions{
		Host:       "localhost",
		Port:       6334,
		Collection: "test_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Dimension:  4,
	})
	if err != nil {
		t.Skipf("Qdrant not available: %v", err)
	}
	t.Cleanup(func() {
		_ = store.client.DeleteCollection(context.Background(), store.collection)
		store.Close()
	})
	return store
}

func qrecord(attempt string, seq int, text string, vec ...float32) ChunkRecord {
	return ChunkRecord{
		ID:       ChunkID(attempt, seq),
		Text:     text,
		Vector:   vec,
		Metadata: map[string]string{"url": "https://example.com/" + attempt, "title": attempt},
	}
}

func TestQdrantMissingCollection(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	exists, err := store.TableExists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.HybridQuery(ctx, "x", []float32{1, 0, 0, 0}, 10)
	assert.ErrorIs(t, err, ErrTableNotFound)
	assert.NoError(t, store.DeleteByPrefix(ctx, "nothing"))
}

func TestQdrantHybridRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, []ChunkRecord{
		qrecord("aaaa", 0, "goroutines are lightweight threads", 1, 0, 0, 0),
		qrecord("aaaa", 1, "channels connect goroutines", 0.9, 0.1, 0, 0),
		qrecord("bbbb", 0, "qdrant stores points in segments", 0, 1, 0, 0),
	}))

	_, err := store.HybridQuery(ctx, "goroutines", []float32{1, 0, 0, 0}, 10)
	assert.ErrorIs(t, err, ErrIndexMissing)

	require.NoError(t, store.CreateFullTextIndexIfAbsent(ctx, DefaultTextColumn))
	require.NoError(t, store.CreateFullTextIndexIfAbsent(ctx, DefaultTextColumn))

	got, err := store.HybridQuery(ctx, "goroutines", []float32{1, 0, 0, 0}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "aaaa-0000", got[0].ID)
	assert.Equal(t, "aaaa", got[0].Metadata["title"])

	require.NoError(t, store.DeleteByPrefix(ctx, "aaaa"))

	got, err = store.HybridQuery(ctx, "goroutines", []float32{1, 0, 0, 0}, 10)
	require.NoError(t, err)
	for _, h := range got {
		assert.False(t, strings.HasPrefix(h.ID, "aaaa"))
	}
	assert.Equal(t, []string{"bbbb-0000"}, ids(got))

	require.NoError(t, store.Optimize(ctx))
}

func TestQdrantDimensionMismatch(t *testing.T) {
	store := setupTestStore(t)
	err := store.Insert(context.Background(), []ChunkRecord{qrecord("aaaa", 0, "x", 1, 2)})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestPointIDIsStable(t *testing.T) {
	assert.Equal(t, pointID("aaaa-0000").GetUuid(), pointID("aaaa-0000").GetUuid())
	assert.NotEqual(t, pointID("aaaa-0000").GetUuid(), pointID("aaaa-0001").GetUuid())
}

func TestQdrantKeywordSearchReadsEveryPage(t *testing.T) {
	store := setupTestStore(t)
	store.pageSize = 2
	ctx := context.Background()

	records := []ChunkRecord{
		qrecord("cccc", 0, "walrus on ice", 0, 0, 1, 0),
		qrecord("cccc", 1, "a walrus swims", 0, 0, 1, 0),
		qrecord("cccc", 2, "one walrus dives", 0, 0, 1, 0),
		qrecord("cccc", 3, "walrus walrus walrus herd", 0, 0, 1, 0),
		qrecord("cccc", 4, "the walrus sleeps", 0, 0, 1, 0),
		qrecord("cccc", 5, "seals only", 0, 0, 1, 0),
	}
	require.NoError(t, store.Insert(ctx, records))
	require.NoError(t, store.CreateFullTextIndexIfAbsent(ctx, DefaultTextColumn))

	got, err := store.keywordSearch(ctx, "walrus", 10)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, "cccc-0003", got[0].ID)

	store.scanLimit = 3
	capped, err := store.keywordSearch(ctx, "walrus", 10)
	require.NoError(t, err)
	assert.Len(t, capped, 3)
}
