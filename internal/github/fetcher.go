package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/google/go-github/v81/github"
)

// Location identifies a file or directory in a GitHub repository.
type Location struct {
	Owner string
	Repo  string
	Ref   string // Branch, tag or commit; empty means the default branch
	Path  string
	IsDir bool
}

// ParseURL parses github.com blob/tree URLs:
//
//	https://github.com/{owner}/{repo}/blob/{ref}/{path}
//	https://github.com/{owner}/{repo}/tree/{ref}/{path}
//	https://github.com/{owner}/{repo}
func ParseURL(raw string) (Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("invalid github url %q: %w", raw, err)
	}
	if u.Host != "github.com" && u.Host != "www.github.com" {
		return Location{}, fmt.Errorf("not a github.com url: %q", raw)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Location{}, fmt.Errorf("github url %q has no owner/repo", raw)
	}

	loc := Location{Owner: parts[0], Repo: strings.TrimSuffix(parts[1], ".git"), IsDir: true}
	if len(parts) == 2 {
		return loc, nil
	}
	if len(parts) < 4 {
		return Location{}, fmt.Errorf("github url %q has no ref", raw)
	}

	switch parts[2] {
	case "blob":
		loc.IsDir = false
	case "tree":
	default:
		return Location{}, fmt.Errorf("unsupported github url kind %q", parts[2])
	}
	loc.Ref = parts[3]
	loc.Path = path.Join(parts[4:]...)
	if !loc.IsDir && loc.Path == "" {
		return Location{}, fmt.Errorf("github blob url %q has no file path", raw)
	}
	return loc, nil
}

// FetchedDoc represents a markdown document fetched from GitHub
type FetchedDoc struct {
	Path    string // Path within the repository
	Content string // Full file content
	SHA     string // File's Git blob SHA
	URL     string // GitHub raw URL
}

// Fetcher handles fetching documents from GitHub repositories
type Fetcher struct {
	client *Client
}

// NewFetcher creates a new document fetcher
func NewFetcher(client *Client) *Fetcher {
	return &Fetcher{client: client}
}

func (loc Location) contentOptions() *github.RepositoryContentGetOptions {
	if loc.Ref == "" {
		return nil
	}
	return &github.RepositoryContentGetOptions{Ref: loc.Ref}
}

// ListDocs recursively lists all markdown files under loc.Path.
func (f *Fetcher) ListDocs(ctx context.Context, loc Location) ([]string, error) {
	return f.listDocsRecursive(ctx, loc, loc.Path)
}

// listDocsRecursive recursively traverses directories to find all .md files
func (f *Fetcher) listDocsRecursive(ctx context.Context, loc Location, dir string) ([]string, error) {
	var docs []string

	_, dirContents, _, err := f.client.Repositories.GetContents(
		ctx,
		loc.Owner,
		loc.Repo,
		dir,
		loc.contentOptions(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get contents of %s: %w", dir, err)
	}

	for _, item := range dirContents {
		if item.Type == nil || item.Name == nil {
			continue
		}

		itemPath := path.Join(dir, *item.Name)

		switch *item.Type {
		case "file":
			if isMarkdown(*item.Name) {
				docs = append(docs, itemPath)
			}

		case "dir":
			subDocs, err := f.listDocsRecursive(ctx, loc, itemPath)
			if err != nil {
				return nil, err
			}
			docs = append(docs, subDocs...)
		}
	}

	return docs, nil
}

// FetchDoc fetches the content of a single file.
func (f *Fetcher) FetchDoc(ctx context.Context, loc Location, filePath string) (*FetchedDoc, error) {
	fileContent, _, _, err := f.client.Repositories.GetContents(
		ctx,
		loc.Owner,
		loc.Repo,
		filePath,
		loc.contentOptions(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get content of %s: %w", filePath, err)
	}

	if fileContent == nil || fileContent.Content == nil {
		return nil, fmt.Errorf("no file content returned for %s", filePath)
	}

	// The API wraps base64 at 60 columns.
	encoded := strings.ReplaceAll(*fileContent.Content, "\n", "")
	content, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode content of %s: %w", filePath, err)
	}

	ref := loc.Ref
	if ref == "" {
		ref = "HEAD"
	}
	rawURL := fmt.Sprintf(
		"https://raw.githubusercontent.com/%s/%s/%s/%s",
		loc.Owner,
		loc.Repo,
		ref,
		filePath,
	)

	return &FetchedDoc{
		Path:    filePath,
		Content: string(content),
		SHA:     fileContent.GetSHA(),
		URL:     rawURL,
	}, nil
}

// GetLatestCommitSHA retrieves the SHA of the most recent commit affecting loc.Path.
func (f *Fetcher) GetLatestCommitSHA(ctx context.Context, loc Location) (string, error) {
	commits, _, err := f.client.Repositories.ListCommits(
		ctx,
		loc.Owner,
		loc.Repo,
		&github.CommitsListOptions{
			SHA:  loc.Ref,
			Path: loc.Path,
			ListOptions: github.ListOptions{
				PerPage: 1,
			},
		},
	)
	if err != nil {
		return "", fmt.Errorf("failed to get latest commit: %w", err)
	}

	if len(commits) == 0 {
		return "", fmt.Errorf("no commits found for path %s", loc.Path)
	}

	if commits[0].SHA == nil {
		return "", fmt.Errorf("commit SHA is nil")
	}

	return *commits[0].SHA, nil
}

func isMarkdown(name string) bool {
	return strings.HasSuffix(name, ".md") || strings.HasSuffix(name, ".markdown")
}
