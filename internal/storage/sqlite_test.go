package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(SQLiteOptions{
		Path:      filepath.Join(t.TempDir(), "rag.db"),
		Dimension: 3,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func record(attempt string, seq int, text string, vec ...float32) ChunkRecord {
	return ChunkRecord{
		ID:       ChunkID(attempt, seq),
		Text:     text,
		Vector:   vec,
		Metadata: map[string]string{"url": "https://example.com/" + attempt + ".pdf"},
	}
}

func seed(t *testing.T, store *SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, []ChunkRecord{
		record("aaaa", 0, "goroutines are lightweight threads", 1, 0, 0),
		record("aaaa", 1, "channels connect goroutines", 0.9, 0.1, 0),
		record("bbbb", 0, "sqlite stores rows in pages", 0, 1, 0),
		record("bbbb", 1, "full text search uses an inverted index", 0, 0.9, 0.1),
	}))
	require.NoError(t, store.CreateFullTextIndexIfAbsent(ctx, DefaultTextColumn))
}

func TestSQLiteCreatesDataDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data", "nested")
	store, err := NewSQLiteStore(SQLiteOptions{Path: filepath.Join(dir, "rag.db"), Dimension: 3})
	require.NoError(t, err)
	defer store.Close()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}

func TestSQLiteQueryMissingTable(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	exists, err := store.TableExists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.HybridQuery(ctx, "anything", []float32{1, 0, 0}, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTableNotFound)
	assert.True(t, IsEmptyKnowledgeBase(err))
}

func TestSQLiteQueryWithoutIndex(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, []ChunkRecord{record("aaaa", 0, "hello", 1, 0, 0)}))

	_, err := store.HybridQuery(ctx, "hello", []float32{1, 0, 0}, 10)
	assert.ErrorIs(t, err, ErrIndexMissing)
	assert.True(t, IsEmptyKnowledgeBase(err))
}

func TestSQLiteHybridQuery(t *testing.T) {
	store := newTestSQLiteStore(t)
	seed(t, store)

	got, err := store.HybridQuery(context.Background(), "goroutines", []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, got)

	// aaaa-0000 leads both legs.
	assert.Equal(t, "aaaa-0000", got[0].ID)
	assert.Equal(t, "https://example.com/aaaa.pdf", got[0].Metadata["url"])
	assert.Len(t, got, 4)

	limited, err := store.HybridQuery(context.Background(), "goroutines", []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSQLiteKeywordVisibleAfterIndexBuild(t *testing.T) {
	store := newTestSQLiteStore(t)
	seed(t, store)
	ctx := context.Background()

	// Rows inserted after the build are picked up by the triggers.
	require.NoError(t, store.Insert(ctx, []ChunkRecord{record("cccc", 0, "zebra crossings", 0, 0, 1)}))

	got, err := store.keywordSearch(ctx, "zebra", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cccc-0000", got[0].ID)
}

func TestSQLiteInsertIsUpsert(t *testing.T) {
	store := newTestSQLiteStore(t)
	seed(t, store)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, []ChunkRecord{record("aaaa", 0, "rewritten walrus text", 1, 0, 0)}))

	got, err := store.keywordSearch(ctx, "walrus", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "aaaa-0000", got[0].ID)

	stale, err := store.keywordSearch(ctx, "lightweight", 10)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestSQLiteInsertDimensionMismatch(t *testing.T) {
	store := newTestSQLiteStore(t)
	err := store.Insert(context.Background(), []ChunkRecord{record("aaaa", 0, "x", 1, 0)})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSQLiteDeleteByPrefix(t *testing.T) {
	store := newTestSQLiteStore(t)
	seed(t, store)
	ctx := context.Background()

	require.NoError(t, store.DeleteByPrefix(ctx, "aaaa"))

	for _, q := range []string{"goroutines", "sqlite", "index"} {
		got, err := store.HybridQuery(ctx, q, []float32{1, 0, 0}, 10)
		require.NoError(t, err)
		for _, h := range got {
			assert.False(t, strings.HasPrefix(h.ID, "aaaa"), "deleted chunk %s returned", h.ID)
		}
		assert.ElementsMatch(t, []string{"bbbb-0000", "bbbb-0001"}, ids(got))
	}

	kw, err := store.keywordSearch(ctx, "goroutines channels", 10)
	require.NoError(t, err)
	assert.Empty(t, kw)
}

func TestSQLiteDeleteByPrefixEscapesWildcards(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, []ChunkRecord{
		record("a_b", 0, "one", 1, 0, 0),
		record("axb", 0, "two", 0, 1, 0),
	}))
	require.NoError(t, store.CreateFullTextIndexIfAbsent(ctx, DefaultTextColumn))

	require.NoError(t, store.DeleteByPrefix(ctx, "a_b"))

	got, err := store.HybridQuery(ctx, "one two", []float32{1, 1, 0}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"axb-0000"}, ids(got))
}

func TestSQLiteDeleteByPrefixMissingTable(t *testing.T) {
	store := newTestSQLiteStore(t)
	assert.NoError(t, store.DeleteByPrefix(context.Background(), "anything"))
	assert.Error(t, store.DeleteByPrefix(context.Background(), ""))
}

func TestSQLiteIndexBuiltOnce(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	var mu sync.Mutex
	builds := 0
	store.OnIndexBuild = func(string) {
		mu.Lock()
		builds++
		mu.Unlock()
	}

	require.NoError(t, store.Insert(ctx, []ChunkRecord{record("aaaa", 0, "hello", 1, 0, 0)}))
	require.NoError(t, store.CreateFullTextIndexIfAbsent(ctx, DefaultTextColumn))
	require.NoError(t, store.CreateFullTextIndexIfAbsent(ctx, DefaultTextColumn))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.CreateFullTextIndexIfAbsent(ctx, DefaultTextColumn))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, builds)
}

func TestSQLiteIndexUnknownColumn(t *testing.T) {
	store := newTestSQLiteStore(t)
	err := store.CreateFullTextIndexIfAbsent(context.Background(), "body")
	assert.ErrorIs(t, err, ErrUnknownColumn)
}

func TestSQLiteOptimize(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, store.Optimize(ctx))

	seed(t, store)
	require.NoError(t, store.DeleteByPrefix(ctx, "bbbb"))
	require.NoError(t, store.Optimize(ctx))

	got, err := store.HybridQuery(ctx, "goroutines", []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"aaaa-0000", "aaaa-0001"}, ids(got))
}

func TestSQLiteRejectsBadIdentifiers(t *testing.T) {
	_, err := NewSQLiteStore(SQLiteOptions{Path: filepath.Join(t.TempDir(), "x.db"), Table: "drop table;"})
	assert.Error(t, err)
}

func TestFTSQuery(t *testing.T) {
	assert.Equal(t, `"what" OR "is" OR "rrf"`, ftsQuery("What is RRF? what"))
	assert.Equal(t, "", ftsQuery("  ?! "))
}

func TestFloat32Roundtrip(t *testing.T) {
	in := []float32{0.5, -1.25, 3}
	assert.Equal(t, in, bytesToFloat32Slice(float32SliceToBytes(in)))
}
