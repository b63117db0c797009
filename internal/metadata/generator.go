// Package metadata derives document metadata with a chat model when the
// source document carries none.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
)

// DefaultMaxTokens is the maximum content length before truncation (in tokens).
const DefaultMaxTokens = 4000

// DefaultModel is the chat model used for title generation.
const DefaultModel = string(openai.ChatModelGPT4oMini)

// DocumentMetadata contains LLM-generated metadata for a document.
type DocumentMetadata struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// Generator produces document metadata with an OpenAI chat model.
type Generator struct {
	client    *openai.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

// NewGenerator creates a metadata generator with the given OpenAI client.
// Empty model and non-positive maxTokens fall back to the defaults.
func NewGenerator(client *openai.Client, model string, maxTokens int, logger *slog.Logger) *Generator {
	if model == "" {
		model = DefaultModel
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

// GenerateMetadata asks the model for a short title and a one-sentence summary of content.
func (g *Generator) GenerateMetadata(ctx context.Context, url, content string) (*DocumentMetadata, error) {
	truncated := g.truncateContent(content)

	prompt := fmt.Sprintf(`Read the beginning of this document and provide:
1. A short title (at most 10 words) naming the document
2. A one-sentence summary of what it covers

Document URL: %s

Document content:
%s

Respond in JSON format:
{"title": "Document title", "summary": "Brief description"}`, url, truncated)

	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model: openai.ChatModel(g.model),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{
				Type: "json_object",
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	return parseMetadata(resp.Choices[0].Message.Content)
}

// GenerateTitle returns a model-generated title for content.
func (g *Generator) GenerateTitle(ctx context.Context, url, content string) (string, error) {
	meta, err := g.GenerateMetadata(ctx, url, content)
	if err != nil {
		return "", err
	}
	if meta.Title == "" {
		return "", fmt.Errorf("model returned an empty title")
	}
	return meta.Title, nil
}

func parseMetadata(raw string) (*DocumentMetadata, error) {
	var metadata DocumentMetadata
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	metadata.Title = strings.TrimSpace(metadata.Title)
	metadata.Summary = strings.TrimSpace(metadata.Summary)
	return &metadata, nil
}

// truncateContent truncates content to fit within token limits.
// Uses rough estimate of 4 characters per token and never splits a rune.
func (g *Generator) truncateContent(content string) string {
	maxChars := g.maxTokens * 4

	if len(content) <= maxChars {
		return content
	}

	g.logger.Warn("Truncating content for metadata generation",
		"from", len(content), "to", maxChars, "tokens", g.maxTokens)

	cut := maxChars
	for cut > 0 && !isRuneStart(content[cut]) {
		cut--
	}
	return content[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
