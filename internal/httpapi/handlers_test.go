package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/rag-builder/internal/history"
	"github.com/bull/rag-builder/internal/queue"
	"github.com/bull/rag-builder/internal/registry"
)

type testEnv struct {
	repo    *registry.Repository
	loads   *queue.MemoryQueue
	deletes *queue.MemoryQueue
	router  *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := registry.Open("sqlite", filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	repo, err := registry.NewRepository(db, time.Hour, nil)
	require.NoError(t, err)

	env := &testEnv{
		repo:    repo,
		loads:   queue.NewMemoryQueue(queue.DefaultLoadQueue, 8),
		deletes: queue.NewMemoryQueue(queue.DefaultDeletionQueue, 8),
	}
	h := NewHandler(Config{
		Repository:    repo,
		LoadQueue:     env.loads,
		DeletionQueue: env.deletes,
		Sources:       []string{"pdf", "markdown"},
	})
	env.router = NewRouter(h, "rag-backend-test")
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestCreateLoad(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/documents/load", LoadRequest{Source: "pdf", URL: "https://example.com/a.pdf"})
	require.Equal(t, http.StatusCreated, w.Code)
	resp := decode[LoadResponse](t, w)
	require.NotEmpty(t, resp.LoadID)

	attempt, err := env.repo.GetAttempt(context.Background(), resp.LoadID)
	require.NoError(t, err)
	assert.Equal(t, registry.StatusPending, attempt.Status)
	assert.Equal(t, "pdf", attempt.Source)

	require.Equal(t, 1, env.loads.Len())
	d, err := env.loads.Receive(context.Background())
	require.NoError(t, err)
	var msg queue.LoadMessage
	require.NoError(t, json.Unmarshal(d.Body, &msg))
	assert.Equal(t, resp.LoadID, msg.LoadID)
	assert.Equal(t, "https://example.com/a.pdf", msg.Spec.URL)
}

func TestCreateLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		body any
		code string
	}{
		{"missing url", map[string]string{"source": "pdf"}, "invalid_request"},
		{"unknown source", LoadRequest{Source: "docx", URL: "https://example.com/a.docx"}, "unsupported_source"},
		{"bad scheme", LoadRequest{Source: "pdf", URL: "ftp://example.com/a.pdf"}, "invalid_url"},
		{"no host", LoadRequest{Source: "pdf", URL: "https:///a.pdf"}, "invalid_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			w := env.do(t, http.MethodPost, "/documents/load", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			got := decode[ErrorEnvelope](t, w)
			assert.Equal(t, tt.code, got.Error.Code)
			assert.NotEmpty(t, got.Error.Message)
			assert.Equal(t, 0, env.loads.Len())
		})
	}
}

func TestCreateLoadQueueClosed(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.loads.Close())

	w := env.do(t, http.MethodPost, "/documents/load", LoadRequest{Source: "pdf", URL: "https://example.com/a.pdf"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "queue_unavailable", decode[ErrorEnvelope](t, w).Error.Code)
}

func TestUpdateLoad(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.repo.CreateAttempt(ctx, "load-1", "pdf", "https://example.com/a.pdf")
	require.NoError(t, err)

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := env.do(t, http.MethodPatch, "/documents/load/load-1", history.StatusUpdate{
		Status:    registry.StatusInProgress,
		StartedAt: &started,
	})
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[registry.LoadAttempt](t, w)
	assert.Equal(t, registry.StatusInProgress, got.Status)
	require.NotNil(t, got.StartedAt)
	assert.True(t, started.Equal(*got.StartedAt))

	details := "load: boom"
	w = env.do(t, http.MethodPatch, "/documents/load/load-1", history.StatusUpdate{
		Status:       registry.StatusFailed,
		ErrorDetails: &details,
	})
	require.Equal(t, http.StatusOK, w.Code)
	got = decode[registry.LoadAttempt](t, w)
	assert.Equal(t, registry.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorDetails)
	assert.Equal(t, details, *got.ErrorDetails)

	// Terminal states are absorbing.
	w = env.do(t, http.MethodPatch, "/documents/load/load-1", history.StatusUpdate{Status: registry.StatusCompleted})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_transition", decode[ErrorEnvelope](t, w).Error.Code)
}

func TestUpdateLoadErrors(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPatch, "/documents/load/missing", history.StatusUpdate{Status: registry.StatusInProgress})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPatch, "/documents/load/missing", map[string]string{"status": "sideways"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_status", decode[ErrorEnvelope](t, w).Error.Code)
}

func TestLoadHistoryPagination(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	total := registry.DefaultPageSize + 5
	for i := 0; i < total; i++ {
		_, err := env.repo.CreateAttempt(ctx, fmt.Sprintf("load-%03d", i), "pdf", "https://example.com/a.pdf")
		require.NoError(t, err)
	}

	w := env.do(t, http.MethodGet, "/documents/load_history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	first := decode[Page[registry.LoadAttempt]](t, w)
	assert.Len(t, first.Items, registry.DefaultPageSize)
	require.NotEmpty(t, first.NextToken)

	w = env.do(t, http.MethodGet, "/documents/load_history?next_token="+first.NextToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	second := decode[Page[registry.LoadAttempt]](t, w)
	assert.Len(t, second.Items, 5)
	assert.Empty(t, second.NextToken)

	seen := map[string]bool{}
	for _, a := range append(first.Items, second.Items...) {
		assert.False(t, seen[a.LoadID], "duplicate %s", a.LoadID)
		seen[a.LoadID] = true
	}
	assert.Len(t, seen, total)
}

func TestDocumentLifecycle(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/documents", history.NewDocument{Title: "Guide", URL: "https://example.com/g.pdf"})
	require.Equal(t, http.StatusCreated, w.Code)
	doc := decode[registry.Document](t, w)
	require.NotEmpty(t, doc.DocumentID)

	w = env.do(t, http.MethodPost, "/documents", history.NewDocument{DocumentID: doc.DocumentID, Title: "Again", URL: "u"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodGet, "/documents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[Page[registry.Document]](t, w)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "Guide", list.Items[0].Title)

	w = env.do(t, http.MethodGet, "/documents/"+doc.DocumentID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodDelete, "/documents/"+doc.DocumentID, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	d, err := env.deletes.Receive(context.Background())
	require.NoError(t, err)
	var msg queue.DeletionMessage
	require.NoError(t, json.Unmarshal(d.Body, &msg))
	assert.Equal(t, doc.DocumentID, msg.DocumentID)

	w = env.do(t, http.MethodDelete, "/documents/"+doc.DocumentID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 0, env.deletes.Len())

	w = env.do(t, http.MethodGet, "/documents/"+doc.DocumentID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListDocumentsEmpty(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/documents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"items":[]}`, w.Body.String())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

// The pipeline's history client speaks the same wire format as the API.
func TestHistoryClientRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)
	ctx := context.Background()

	_, err := env.repo.CreateAttempt(ctx, "load-7", "pdf", "https://example.com/a.pdf")
	require.NoError(t, err)

	client := history.NewClient(srv.URL, srv.Client(), nil)
	started := time.Now().UTC()
	require.NoError(t, client.UpdateStatus(ctx, "load-7", history.StatusUpdate{Status: registry.StatusInProgress, StartedAt: &started}))
	require.NoError(t, client.UpdateStatus(ctx, "load-7", history.StatusUpdate{Status: registry.StatusCompleted}))
	require.NoError(t, client.CreateDocument(ctx, history.NewDocument{DocumentID: "load-7", Title: "A", URL: "https://example.com/a.pdf"}))

	err = client.UpdateStatus(ctx, "load-7", history.StatusUpdate{Status: registry.StatusInProgress})
	assert.ErrorIs(t, err, history.ErrConflict)
	err = client.UpdateStatus(ctx, "nope", history.StatusUpdate{Status: registry.StatusInProgress})
	assert.ErrorIs(t, err, history.ErrNotFound)

	attempt, err := env.repo.GetAttempt(ctx, "load-7")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusCompleted, attempt.Status)
	_, err = env.repo.GetDocument(ctx, "load-7")
	require.NoError(t, err)
}
