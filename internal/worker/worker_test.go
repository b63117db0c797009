package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/rag-builder/internal/loader"
	"github.com/bull/rag-builder/internal/queue"
)

type ingestCall struct {
	id, url string
	source  loader.Source
}

type fakeIngester struct {
	mu    sync.Mutex
	calls []ingestCall
	err   error
	panic bool
	done  chan struct{}
}

func (f *fakeIngester) Ingest(ctx context.Context, id string, source loader.Source, url string) error {
	f.mu.Lock()
	f.calls = append(f.calls, ingestCall{id: id, source: source, url: url})
	f.mu.Unlock()
	if f.done != nil {
		defer func() { f.done <- struct{}{} }()
	}
	if f.panic {
		panic("boom")
	}
	return f.err
}

type fakeDeleter struct {
	mu       sync.Mutex
	prefixes []string
	err      error
}

func (f *fakeDeleter) DeleteByPrefix(ctx context.Context, prefix string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefixes = append(f.prefixes, prefix)
	return f.err
}

func delivery(body string) queue.Delivery {
	return queue.Delivery{Queue: "test", Body: []byte(body)}
}

func TestLoadWorkerHandle(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		ingestErr error
		wantCalls int
		wantErr   bool
	}{
		{name: "valid", body: `{"load_id":"a1","spec":{"source":"pdf","url":"https://x/a.pdf"}}`, wantCalls: 1},
		{name: "malformed", body: `{not json`, wantCalls: 0},
		{name: "missing url", body: `{"load_id":"a1","spec":{"source":"pdf"}}`, wantCalls: 0},
		{
			name:      "unsupported source is dropped",
			body:      `{"load_id":"a1","spec":{"source":"docx","url":"https://x/a.docx"}}`,
			ingestErr: fmt.Errorf("ingest: %w", loader.ErrUnsupportedSource),
			wantCalls: 1,
		},
		{
			name:      "status error surfaces",
			body:      `{"load_id":"a1","spec":{"source":"pdf","url":"https://x/a.pdf"}}`,
			ingestErr: errors.New("history down"),
			wantCalls: 1,
			wantErr:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing := &fakeIngester{err: tt.ingestErr}
			w := NewLoadWorker(queue.NewMemoryQueue("load", 1), ing, 1, nil)

			err := w.Handle(context.Background(), delivery(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Len(t, ing.calls, tt.wantCalls)
		})
	}
}

func TestLoadWorkerRun(t *testing.T) {
	q := queue.NewMemoryQueue("load", 8)
	ing := &fakeIngester{done: make(chan struct{}, 8)}
	w := NewLoadWorker(q, ing, 2, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopped := make(chan error, 1)
	go func() { stopped <- w.Run(ctx) }()

	for i := range 3 {
		require.NoError(t, queue.PublishJSON(ctx, q, queue.LoadMessage{
			LoadID: fmt.Sprintf("load-%d", i),
			Spec:   queue.LoadSpec{Source: "pdf", URL: "https://x/a.pdf"},
		}))
	}
	for range 3 {
		select {
		case <-ing.done:
		case <-time.After(2 * time.Second):
			t.Fatal("ingestion not invoked")
		}
	}

	cancel()
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	ids := make([]string, 0, len(ing.calls))
	for _, c := range ing.calls {
		ids = append(ids, c.id)
		assert.Equal(t, loader.SourcePDF, c.source)
	}
	assert.ElementsMatch(t, []string{"load-0", "load-1", "load-2"}, ids)
}

func TestLoadWorkerRecoversPanic(t *testing.T) {
	q := queue.NewMemoryQueue("load", 2)
	ing := &fakeIngester{panic: true, done: make(chan struct{}, 2)}
	w := NewLoadWorker(q, ing, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	msg := queue.LoadMessage{LoadID: "p", Spec: queue.LoadSpec{Source: "pdf", URL: "https://x"}}
	require.NoError(t, queue.PublishJSON(ctx, q, msg))
	require.NoError(t, queue.PublishJSON(ctx, q, msg))

	for range 2 {
		select {
		case <-ing.done:
		case <-time.After(2 * time.Second):
			t.Fatal("worker stopped after panic")
		}
	}
}

func TestLoadWorkerStopsOnClose(t *testing.T) {
	q := queue.NewMemoryQueue("load", 1)
	w := NewLoadWorker(q, &fakeIngester{}, 1, nil)

	stopped := make(chan error, 1)
	go func() { stopped <- w.Run(context.Background()) }()
	require.NoError(t, q.Close())

	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestDeletionWorkerHandle(t *testing.T) {
	del := &fakeDeleter{}
	w := NewDeletionWorker(queue.NewMemoryQueue("delete", 1), del, nil)
	ctx := context.Background()

	require.NoError(t, w.Handle(ctx, delivery(`{"document_id":"doc-1"}`)))
	require.NoError(t, w.Handle(ctx, delivery(`{"document_id":""}`)))
	require.NoError(t, w.Handle(ctx, delivery(`garbage`)))
	assert.Equal(t, []string{"doc-1"}, del.prefixes)

	del.err = errors.New("store down")
	assert.Error(t, w.Handle(ctx, delivery(`{"document_id":"doc-2"}`)))
}
