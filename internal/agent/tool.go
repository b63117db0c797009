package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// ToolPreviewLimit is the number of characters of tool output shown to users.
	ToolPreviewLimit = 500

	toolPreviewSuffix = "\n...\n Output truncated"
)

// Tool is a function the model may call. Call receives the raw JSON
// arguments object produced by the model.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Call        func(ctx context.Context, args json.RawMessage) (string, error)
}

// Spec returns the model-facing description of t.
func (t Tool) Spec() ToolSpec {
	return ToolSpec{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
}

// ContextRetriever returns formatted passages for a query.
type ContextRetriever interface {
	Retrieve(ctx context.Context, query string) (string, error)
}

// RetrieverTool exposes r to the model as retrieve_context(query).
func RetrieverTool(r ContextRetriever) Tool {
	return Tool{
		Name:        "retrieve_context",
		Description: "Retrieve information to help answer a query.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search query for the knowledge base",
				},
			},
			"required": []string{"query"},
		},
		Call: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				Query string `json:"query"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			if strings.TrimSpace(in.Query) == "" {
				return "", fmt.Errorf("query is required")
			}
			return r.Retrieve(ctx, in.Query)
		},
	}
}

// Preview shortens tool output for display: its first ToolPreviewLimit
// characters followed by a truncation marker.
func Preview(output string) string {
	runes := []rune(output)
	if len(runes) > ToolPreviewLimit {
		runes = runes[:ToolPreviewLimit]
	}
	return string(runes) + toolPreviewSuffix
}
