// Package loader turns a source URL into an ordered list of pages.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrUnsupportedSource is a configuration error: no loader exists for the source.
var ErrUnsupportedSource = errors.New("unsupported document source")

// Source is the kind of document behind a URL.
type Source string

const (
	SourcePDF      Source = "pdf"
	SourceMarkdown Source = "markdown"
	SourceGitHub   Source = "github"
)

// DefaultHTTPTimeout bounds a single document download.
const DefaultHTTPTimeout = 60 * time.Second

// maxDownloadBytes caps document downloads at 100 MiB.
const maxDownloadBytes = 100 << 20

// Page is an ordered unit of loaded text with its metadata.
type Page struct {
	Content  string
	Metadata map[string]string
}

// Loader loads the pages of one document.
type Loader interface {
	Load(ctx context.Context, url string) ([]Page, error)
}

// Registry resolves a Source to its Loader.
type Registry struct {
	loaders map[Source]Loader
}

// NewRegistry returns a registry over the given loaders.
func NewRegistry(loaders map[Source]Loader) *Registry {
	return &Registry{loaders: loaders}
}

// For returns the loader for source, or ErrUnsupportedSource.
func (r *Registry) For(source Source) (Loader, error) {
	l, ok := r.loaders[source]
	if !ok || l == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, source)
	}
	return l, nil
}

// Sources lists the registered sources.
func (r *Registry) Sources() []Source {
	out := make([]Source, 0, len(r.loaders))
	for s := range r.loaders {
		out = append(out, s)
	}
	return out
}

// download streams url into w, failing on non-2xx responses.
func download(ctx context.Context, client *http.Client, url string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", url, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("downloading %s: unexpected status %s", url, resp.Status)
	}

	n, err := io.Copy(w, io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return fmt.Errorf("reading %s: %w", url, err)
	}
	if n > maxDownloadBytes {
		return fmt.Errorf("document %s exceeds %d bytes", url, maxDownloadBytes)
	}
	return nil
}

func defaultClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: DefaultHTTPTimeout}
}
