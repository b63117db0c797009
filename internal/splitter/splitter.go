// Package splitter cuts page text into overlapping, size-bounded chunks.
package splitter

import (
	"maps"
	"strings"
	"unicode/utf8"

	"github.com/bull/rag-builder/internal/loader"
)

const (
	DefaultChunkSize    = 4000
	DefaultChunkOverlap = 200
)

// DefaultSeparators are tried in order, from paragraphs down to single characters.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Chunk is a piece of page text carrying a copy of the page metadata.
type Chunk struct {
	Text     string
	Metadata map[string]string
}

// Splitter is a recursive character splitter. Lengths are counted in runes.
type Splitter struct {
	chunkSize  int
	overlap    int
	separators []string
}

// New returns a Splitter. Non-positive sizes fall back to the defaults and the
// overlap is clamped below the chunk size.
func New(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 2
	}
	return &Splitter{
		chunkSize:  chunkSize,
		overlap:    overlap,
		separators: DefaultSeparators,
	}
}

// SplitPages splits each page in order. Chunk order follows page order.
func (s *Splitter) SplitPages(pages []loader.Page) []Chunk {
	var chunks []Chunk
	for _, page := range pages {
		for _, text := range s.SplitText(page.Content) {
			metadata := maps.Clone(page.Metadata)
			if metadata == nil {
				metadata = make(map[string]string)
			}
			chunks = append(chunks, Chunk{
				Text:     text,
				Metadata: metadata,
			})
		}
	}
	return chunks
}

// SplitText splits text into chunks of at most chunkSize runes, except where a
// single piece cannot be split further.
func (s *Splitter) SplitText(text string) []string {
	return s.split(text, s.separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	// Pick the first separator present in the text; "" always matches.
	separator := separators[len(separators)-1]
	var rest []string
	for i, sep := range separators {
		if sep == "" || strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var (
		final []string
		good  []string
	)
	for _, piece := range splitKeepSeparator(text, separator) {
		if runeLen(piece) < s.chunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, s.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			final = append(final, piece)
		} else {
			final = append(final, s.split(piece, rest)...)
		}
	}
	if len(good) > 0 {
		final = append(final, s.merge(good)...)
	}
	return final
}

// merge packs pieces into chunks, carrying up to overlap runes of trailing
// pieces into the next chunk. Pieces already start with their separator.
func (s *Splitter) merge(pieces []string) []string {
	var (
		docs    []string
		current []string
		total   int
	)
	for _, piece := range pieces {
		n := runeLen(piece)
		if total+n > s.chunkSize && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
				docs = append(docs, doc)
			}
			for total > s.overlap || (total+n > s.chunkSize && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += n
	}
	if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

// splitKeepSeparator splits text on sep, keeping sep at the start of each
// following piece. An empty sep splits into runes. Empty pieces are dropped.
func splitKeepSeparator(text, sep string) []string {
	var pieces []string
	if sep == "" {
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
		return pieces
	}
	for i, part := range strings.Split(text, sep) {
		if i > 0 {
			part = sep + part
		}
		if part != "" {
			pieces = append(pieces, part)
		}
	}
	return pieces
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
