package loader

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/bull/rag-builder/internal/github"
	"github.com/bull/rag-builder/internal/markdown"
)

// repoFetcher is the part of github.Fetcher the loader uses.
type repoFetcher interface {
	ListDocs(ctx context.Context, loc github.Location) ([]string, error)
	FetchDoc(ctx context.Context, loc github.Location, filePath string) (*github.FetchedDoc, error)
}

// GitHubLoader loads a file (blob URL) or every markdown file under a
// directory (tree URL) of a GitHub repository.
type GitHubLoader struct {
	fetcher  repoFetcher
	sections *markdown.Splitter
	logger   *slog.Logger
}

// NewGitHubLoader creates a loader over fetcher.
func NewGitHubLoader(fetcher *github.Fetcher, logger *slog.Logger) *GitHubLoader {
	return newGitHubLoader(fetcher, logger)
}

func newGitHubLoader(fetcher repoFetcher, logger *slog.Logger) *GitHubLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &GitHubLoader{
		fetcher:  fetcher,
		sections: markdown.NewSplitter(),
		logger:   logger,
	}
}

func (l *GitHubLoader) Load(ctx context.Context, url string) ([]Page, error) {
	loc, err := github.ParseURL(url)
	if err != nil {
		return nil, err
	}

	paths := []string{loc.Path}
	if loc.IsDir {
		paths, err = l.fetcher.ListDocs(ctx, loc)
		if err != nil {
			return nil, err
		}
		if len(paths) == 0 {
			return nil, fmt.Errorf("no markdown files under %s", url)
		}
	}
	l.logger.Info("Loading GitHub documents", "owner", loc.Owner, "repo", loc.Repo, "files", len(paths))

	var pages []Page
	for _, p := range paths {
		doc, err := l.fetcher.FetchDoc(ctx, loc, p)
		if err != nil {
			return nil, err
		}

		extra := map[string]string{
			"path":       doc.Path,
			"repository": loc.Owner + "/" + loc.Repo,
		}
		if !isMarkdownPath(doc.Path) {
			extra["title"] = path.Base(doc.Path)
			pages = append(pages, Page{Content: doc.Content, Metadata: extra})
			continue
		}

		docPages, err := markdownPages(l.sections, []byte(doc.Content), extra)
		if err != nil {
			return nil, fmt.Errorf("splitting %s: %w", doc.Path, err)
		}
		pages = append(pages, docPages...)
	}
	return pages, nil
}

func isMarkdownPath(p string) bool {
	return strings.HasSuffix(p, ".md") || strings.HasSuffix(p, ".markdown")
}
