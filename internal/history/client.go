// Package history is the client side of the backend API the ingestion
// pipeline reports to: load attempt status updates and document registration.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bull/rag-builder/internal/registry"
)

var (
	// ErrNotFound means the attempt or document does not exist (HTTP 404).
	ErrNotFound = errors.New("history record not found")
	// ErrConflict means the update was rejected, e.g. a backwards transition (HTTP 409).
	ErrConflict = errors.New("history update rejected")
)

// StatusUpdate is the body of PATCH /documents/load/{id}.
type StatusUpdate struct {
	Status       registry.Status `json:"status" binding:"required"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	ErrorDetails *string         `json:"error_details,omitempty"`
}

// NewDocument is the body of POST /documents.
type NewDocument struct {
	DocumentID string `json:"document_id,omitempty"`
	Title      string `json:"title" binding:"required"`
	URL        string `json:"url" binding:"required"`
}

// Client talks to the backend API over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger,
	}
}

// UpdateStatus sends a partial status update for a load attempt.
func (c *Client) UpdateStatus(ctx context.Context, loadID string, u StatusUpdate) error {
	return c.do(ctx, http.MethodPatch, "/documents/load/"+url.PathEscape(loadID), u)
}

// CreateDocument registers a document.
func (c *Client) CreateDocument(ctx context.Context, d NewDocument) error {
	return c.do(ctx, http.MethodPost, "/documents", d)
}

// do sends body as JSON, retrying transport errors and 5xx responses.
func (c *Client) do(ctx context.Context, method, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%w: %s %s", ErrNotFound, method, path))
		case resp.StatusCode == http.StatusConflict:
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrConflict, strings.TrimSpace(string(msg))))
		case resp.StatusCode >= 500:
			c.logger.Warn("Backend API error, retrying", "method", method, "path", path, "status", resp.StatusCode)
			return fmt.Errorf("%s %s: %s", method, path, resp.Status)
		default:
			return backoff.Permanent(fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg))))
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}
