package loader

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"

	"github.com/bull/rag-builder/internal/markdown"
)

// MarkdownLoader downloads a markdown file and yields one Page per H1/H2 section.
type MarkdownLoader struct {
	client   *http.Client
	sections *markdown.Splitter
	logger   *slog.Logger
}

// NewMarkdownLoader creates a markdown loader.
func NewMarkdownLoader(client *http.Client, logger *slog.Logger) *MarkdownLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarkdownLoader{
		client:   defaultClient(client),
		sections: markdown.NewSplitter(),
		logger:   logger,
	}
}

func (l *MarkdownLoader) Load(ctx context.Context, url string) ([]Page, error) {
	l.logger.Info("Downloading markdown document", "url", url)

	var buf bytes.Buffer
	if err := download(ctx, l.client, url, &buf); err != nil {
		return nil, err
	}
	return markdownPages(l.sections, buf.Bytes(), nil)
}

// markdownPages splits source into section pages. Every page carries extra,
// the section path and, when the document has an H1, its title.
func markdownPages(sections *markdown.Splitter, source []byte, extra map[string]string) ([]Page, error) {
	secs, err := sections.Split(source)
	if err != nil {
		return nil, err
	}
	title := sections.Title(source)

	pages := make([]Page, 0, len(secs))
	for _, sec := range secs {
		meta := make(map[string]string, len(extra)+2)
		for k, v := range extra {
			meta[k] = v
		}
		if title != "" {
			meta["title"] = title
		}
		if sec.HeaderPath != "" {
			meta["section"] = sec.HeaderPath
		}
		pages = append(pages, Page{Content: sec.Content, Metadata: meta})
	}
	return pages, nil
}
