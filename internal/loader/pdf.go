package loader

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFLoader downloads a PDF to a scratch file and extracts one Page per PDF page.
type PDFLoader struct {
	client     *http.Client
	scratchDir string
	logger     *slog.Logger
}

// NewPDFLoader creates a PDF loader. An empty scratchDir uses os.TempDir.
func NewPDFLoader(client *http.Client, scratchDir string, logger *slog.Logger) *PDFLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &PDFLoader{
		client:     defaultClient(client),
		scratchDir: scratchDir,
		logger:     logger,
	}
}

// Load downloads url and extracts its pages. The scratch file lives only for this call.
func (l *PDFLoader) Load(ctx context.Context, url string) ([]Page, error) {
	l.logger.Info("Downloading PDF document", "url", url)

	f, err := os.CreateTemp(l.scratchDir, "document-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("creating scratch file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if err := download(ctx, l.client, url, f); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("writing scratch file: %w", err)
	}

	return extractPDF(path)
}

// extractPDF reads every page of the PDF at path. The parser panics on some
// malformed inputs, so panics are turned into errors.
func extractPDF(path string) (pages []Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pdf reader: %w", err)
	}
	defer f.Close()

	title := strings.TrimSpace(r.Trailer().Key("Info").Key("Title").Text())

	n := r.NumPage()
	pages = make([]Page, 0, n)
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("pdf page %d: %w", i, err)
		}

		meta := map[string]string{"page": strconv.Itoa(i)}
		if title != "" {
			meta["title"] = title
		}
		pages = append(pages, Page{Content: text, Metadata: meta})
	}
	return pages, nil
}
