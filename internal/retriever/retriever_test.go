package retriever

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/rag-builder/internal/storage"
)

// keywordEmbedder maps text onto three fixed topics.
type keywordEmbedder struct {
	calls int
	err   error
}

func (e *keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	v := []float32{0.01, 0.01, 0.01}
	for i, word := range []string{"walrus", "penguin", "camel"} {
		if strings.Contains(strings.ToLower(text), word) {
			v[i] = 1
		}
	}
	return v, nil
}

func (e *keywordEmbedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func newStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(storage.SQLiteOptions{
		Path:      filepath.Join(t.TempDir(), "kb.db"),
		Dimension: 3,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seed(t *testing.T, store *storage.SQLiteStore, emb *keywordEmbedder, texts ...string) {
	t.Helper()
	ctx := context.Background()
	records := make([]storage.ChunkRecord, len(texts))
	for i, text := range texts {
		v, _ := emb.Embed(ctx, text)
		records[i] = storage.ChunkRecord{
			ID:       storage.ChunkID("doc", i),
			Text:     text,
			Vector:   v,
			Metadata: map[string]string{"url": "https://x/animals.pdf", "page": string(rune('1' + i))},
		}
	}
	require.NoError(t, store.Insert(ctx, records))
	require.NoError(t, store.CreateFullTextIndexIfAbsent(ctx, storage.DefaultTextColumn))
}

func TestRetrieveEmptyKnowledgeBase(t *testing.T) {
	emb := &keywordEmbedder{}
	r := New(newStore(t), emb, Options{})

	got, err := r.Retrieve(context.Background(), "walrus")
	require.NoError(t, err)
	assert.Equal(t, EmptyKnowledgeBase, got)
	assert.Zero(t, emb.calls, "no embedding for an empty knowledge base")

	_, err = r.Search(context.Background(), "walrus", 3)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestRetrieveWithoutIndexIsEmpty(t *testing.T) {
	store := newStore(t)
	emb := &keywordEmbedder{}
	require.NoError(t, store.Insert(context.Background(), []storage.ChunkRecord{{
		ID: "doc-0000", Text: "walrus", Vector: []float32{1, 0, 0}, Metadata: map[string]string{"url": "u"},
	}}))

	got, err := New(store, emb, Options{}).Retrieve(context.Background(), "walrus")
	require.NoError(t, err)
	assert.Equal(t, EmptyKnowledgeBase, got)
}

func TestRetrieveFormatsPassages(t *testing.T) {
	store := newStore(t)
	emb := &keywordEmbedder{}
	seed(t, store, emb,
		"The walrus lives on arctic ice.",
		"A penguin cannot fly.",
		"The camel stores fat in its hump.",
	)

	block, err := New(store, emb, Options{K: 2}).Retrieve(context.Background(), "walrus")
	require.NoError(t, err)

	passages := SplitPassages(block)
	require.Len(t, passages, 2)
	assert.Equal(t,
		"Source: {'page': '1', 'url': 'https://x/animals.pdf'}\nContent: The walrus lives on arctic ice.",
		passages[0])
	for _, p := range passages {
		assert.Regexp(t, `^Source: \{.*\}\nContent: `, p)
	}
}

func TestRetrieveEmbeddingError(t *testing.T) {
	store := newStore(t)
	emb := &keywordEmbedder{}
	seed(t, store, emb, "walrus")
	emb.err = errors.New("rate limited")

	_, err := New(store, emb, Options{}).Retrieve(context.Background(), "walrus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embed query")
}

func TestFormatAndSplit(t *testing.T) {
	hits := []storage.Hit{
		{Text: "first", Metadata: map[string]string{"url": "a", "title": "T"}},
		{Text: "second", Metadata: map[string]string{"url": "b"}},
	}
	block := Format(hits)
	assert.Equal(t,
		"Source: {'title': 'T', 'url': 'a'}\nContent: first\n--\nSource: {'url': 'b'}\nContent: second",
		block)
	assert.Equal(t, []string{
		"Source: {'title': 'T', 'url': 'a'}\nContent: first",
		"Source: {'url': 'b'}\nContent: second",
	}, SplitPassages(block))

	assert.Empty(t, Format(nil))
	assert.Nil(t, SplitPassages(""))
	assert.Nil(t, SplitPassages(EmptyKnowledgeBase))
}
