// Package markdown splits markdown documents into header-scoped sections.
package markdown

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// Section represents a part of a markdown document with header context.
type Section struct {
	Index      int    // Position in document (0, 1, 2...)
	HeaderPath string // Hierarchy: "# Doc Title > ## Section Name"
	Content    string // Section content WITH header path prepended
	RawContent string // Original content without header prefix
}

// Splitter splits markdown documents at H1 and H2 boundaries while preserving context.
type Splitter struct {
	md goldmark.Markdown
}

// NewSplitter creates a new markdown splitter configured with goldmark parser.
func NewSplitter() *Splitter {
	return &Splitter{
		md: goldmark.New(
			goldmark.WithParserOptions(
				parser.WithAutoHeadingID(),
			),
		),
	}
}

// heading is a flattened TOC entry.
type heading struct {
	path []string
	node ast.Node
}

// Split returns the sections of source in document order. Each section runs
// from its heading to the next H1/H2, so parents do not repeat child content.
// Text before the first heading becomes a section with an empty header path.
func (s *Splitter) Split(source []byte) ([]Section, error) {
	doc := s.md.Parser().Parse(text.NewReader(source))

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(2),
		toc.Compact(true),
	)
	if err != nil {
		return nil, fmt.Errorf("inspect TOC: %w", err)
	}

	var headings []heading
	flatten(doc, tree.Items, nil, &headings)

	if len(headings) == 0 {
		return []Section{{
			Index:      0,
			Content:    string(source),
			RawContent: string(source),
		}}, nil
	}

	var sections []Section
	add := func(path string, raw string) {
		if raw == "" {
			return
		}
		content := raw
		if path != "" {
			content = path + "\n\n" + raw
		}
		sections = append(sections, Section{
			Index:      len(sections),
			HeaderPath: path,
			Content:    content,
			RawContent: raw,
		})
	}

	first := headingStart(source, headings[0].node)
	add("", strings.TrimSpace(string(source[:first])))

	for i, h := range headings {
		start := headingStart(source, h.node)
		end := len(source)
		if i+1 < len(headings) {
			end = headingStart(source, headings[i+1].node)
		}
		add(formatHeaderPath(h.path), strings.TrimSpace(string(source[start:end])))
	}

	return sections, nil
}

// Title returns the text of the first H1, or "" if there is none.
func (s *Splitter) Title(source []byte) string {
	doc := s.md.Parser().Parse(text.NewReader(source))

	var title string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if h, ok := n.(*ast.Heading); ok && h.Level == 1 {
			title = plainText(h, source)
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return title
}

// flatten walks TOC items in pre-order, resolving each to its heading node.
func flatten(doc ast.Node, items toc.Items, ancestors []string, out *[]heading) {
	for _, item := range items {
		path := ancestors
		if len(item.ID) > 0 {
			path = append(append([]string{}, ancestors...), string(item.Title))
			if node := findHeaderByID(doc, string(item.ID)); node != nil && node.Lines().Len() > 0 {
				*out = append(*out, heading{path: path, node: node})
			}
		}
		flatten(doc, item.Items, path, out)
	}
}

// headingStart returns the byte offset of the line holding the heading, so the
// section text keeps its # marker.
func headingStart(source []byte, n ast.Node) int {
	lines := n.Lines()
	if lines.Len() == 0 {
		return 0
	}
	offset := lines.At(0).Start
	for offset > 0 && source[offset-1] != '\n' {
		offset--
	}
	return offset
}

// formatHeaderPath builds a header hierarchy string.
// Example: ["Installation", "Prerequisites"] -> "# Installation > ## Prerequisites"
func formatHeaderPath(path []string) string {
	parts := make([]string, len(path))
	for i, segment := range path {
		parts[i] = strings.Repeat("#", i+1) + " " + segment
	}
	return strings.Join(parts, " > ")
}

// findHeaderByID locates a heading node by its auto-generated ID.
func findHeaderByID(node ast.Node, id string) ast.Node {
	var found ast.Node
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering && n.Kind() == ast.KindHeading {
			headingID, ok := n.AttributeString("id")
			if ok {
				if b, isBytes := headingID.([]byte); isBytes && string(b) == id {
					found = n
					return ast.WalkStop, nil
				}
			}
		}
		return ast.WalkContinue, nil
	})
	return found
}

func plainText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering {
			if t, ok := c.(*ast.Text); ok {
				b.Write(t.Segment.Value(source))
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}
