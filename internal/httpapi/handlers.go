// Package httpapi is the backend API: load requests, load history and the
// document registry.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bull/rag-builder/internal/history"
	"github.com/bull/rag-builder/internal/queue"
	"github.com/bull/rag-builder/internal/registry"
)

// Repository is the persistence the handlers need.
type Repository interface {
	CreateAttempt(ctx context.Context, loadID, source, url string) (*registry.LoadAttempt, error)
	UpdateAttempt(ctx context.Context, loadID string, u registry.AttemptUpdate) (*registry.LoadAttempt, error)
	ListAttempts(ctx context.Context, after string, limit int) ([]registry.LoadAttempt, string, error)
	CreateDocument(ctx context.Context, d *registry.Document) error
	GetDocument(ctx context.Context, id string) (*registry.Document, error)
	ListDocuments(ctx context.Context, after string, limit int) ([]registry.Document, string, error)
	DeleteDocument(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// Config wires a Handler.
type Config struct {
	Repository    Repository
	LoadQueue     queue.Queue
	DeletionQueue queue.Queue
	// Sources lists the accepted document sources.
	Sources []string
	Logger  *slog.Logger
}

// Handler serves the backend API.
type Handler struct {
	repo    Repository
	loads   queue.Queue
	deletes queue.Queue
	sources map[string]bool
	logger  *slog.Logger
	newID   func() string
}

// NewHandler creates a Handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	sources := make(map[string]bool, len(cfg.Sources))
	for _, s := range cfg.Sources {
		sources[s] = true
	}
	return &Handler{
		repo:    cfg.Repository,
		loads:   cfg.LoadQueue,
		deletes: cfg.DeletionQueue,
		sources: sources,
		logger:  cfg.Logger,
		newID:   uuid.NewString,
	}
}

// LoadRequest is the body of POST /documents/load.
type LoadRequest struct {
	Source string `json:"source" binding:"required"`
	URL    string `json:"url" binding:"required"`
}

// LoadResponse is returned by POST /documents/load.
type LoadResponse struct {
	LoadID string `json:"load_id"`
}

// CreateLoad records a pending attempt and queues it for ingestion.
func (h *Handler) CreateLoad(c *gin.Context) {
	var req LoadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if !h.sources[req.Source] {
		respondError(c, http.StatusBadRequest, "unsupported_source",
			fmt.Errorf("source %q is not one of %s", req.Source, strings.Join(h.sourceList(), ", ")))
		return
	}
	if err := validateURL(req.URL); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_url", err)
		return
	}

	ctx := c.Request.Context()
	loadID := h.newID()
	if _, err := h.repo.CreateAttempt(ctx, loadID, req.Source, req.URL); err != nil {
		respondRegistryError(c, err)
		return
	}
	msg := queue.LoadMessage{LoadID: loadID, Spec: queue.LoadSpec{Source: req.Source, URL: req.URL}}
	if err := queue.PublishJSON(ctx, h.loads, msg); err != nil {
		// The pending attempt stays in the history and expires with it.
		h.logger.Error("Failed to enqueue load request", "load_id", loadID, "error", err)
		respondError(c, http.StatusServiceUnavailable, "queue_unavailable", errors.New("could not enqueue load request"))
		return
	}

	h.logger.Info("Load request accepted", "load_id", loadID, "source", req.Source, "url", req.URL)
	c.JSON(http.StatusCreated, LoadResponse{LoadID: loadID})
}

// ListLoadHistory pages through unexpired load attempts.
func (h *Handler) ListLoadHistory(c *gin.Context) {
	attempts, next, err := h.repo.ListAttempts(c.Request.Context(), c.Query("next_token"), 0)
	if err != nil {
		respondRegistryError(c, err)
		return
	}
	if attempts == nil {
		attempts = []registry.LoadAttempt{}
	}
	c.JSON(http.StatusOK, Page[registry.LoadAttempt]{Items: attempts, NextToken: next})
}

// UpdateLoad applies a status transition reported by the ingestion pipeline.
func (h *Handler) UpdateLoad(c *gin.Context) {
	var req history.StatusUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	status, err := registry.ParseStatus(string(req.Status))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_status", err)
		return
	}

	attempt, err := h.repo.UpdateAttempt(c.Request.Context(), c.Param("id"), registry.AttemptUpdate{
		Status:       status,
		StartedAt:    req.StartedAt,
		CompletedAt:  req.CompletedAt,
		ErrorDetails: req.ErrorDetails,
	})
	if err != nil {
		respondRegistryError(c, err)
		return
	}
	c.JSON(http.StatusOK, attempt)
}

// CreateDocument registers a document; the id defaults to a new UUID.
func (h *Handler) CreateDocument(c *gin.Context) {
	var req history.NewDocument
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	doc := &registry.Document{DocumentID: req.DocumentID, Title: req.Title, URL: req.URL}
	if doc.DocumentID == "" {
		doc.DocumentID = h.newID()
	}
	if err := h.repo.CreateDocument(c.Request.Context(), doc); err != nil {
		respondRegistryError(c, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

// ListDocuments pages through registered documents.
func (h *Handler) ListDocuments(c *gin.Context) {
	docs, next, err := h.repo.ListDocuments(c.Request.Context(), c.Query("next_token"), 0)
	if err != nil {
		respondRegistryError(c, err)
		return
	}
	if docs == nil {
		docs = []registry.Document{}
	}
	c.JSON(http.StatusOK, Page[registry.Document]{Items: docs, NextToken: next})
}

// GetDocument returns one document.
func (h *Handler) GetDocument(c *gin.Context) {
	doc, err := h.repo.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondRegistryError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// DeleteDocument removes the document and queues deletion of its chunks.
func (h *Handler) DeleteDocument(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if err := h.repo.DeleteDocument(ctx, id); err != nil {
		respondRegistryError(c, err)
		return
	}
	if err := queue.PublishJSON(ctx, h.deletes, queue.DeletionMessage{DocumentID: id}); err != nil {
		h.logger.Error("Failed to enqueue chunk deletion", "document_id", id, "error", err)
		respondError(c, http.StatusServiceUnavailable, "queue_unavailable", errors.New("document removed but chunk deletion could not be queued"))
		return
	}
	h.logger.Info("Document deleted", "document_id", id)
	c.Status(http.StatusNoContent)
}

// Health reports whether the database is reachable.
func (h *Handler) Health(c *gin.Context) {
	if err := h.repo.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) sourceList() []string {
	out := make([]string, 0, len(h.sources))
	for s := range h.sources {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url has no host")
	}
	return nil
}
