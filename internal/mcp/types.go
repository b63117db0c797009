// Package mcp exposes the knowledge base to MCP clients: formatted context
// retrieval, structured search and index status.
package mcp

// RetrieveContextInput defines the input of the retrieve_context tool.
type RetrieveContextInput struct {
	Query string `json:"query" jsonschema:"the question or keywords to find context for"`
}

// RetrieveContextOutput is the formatted passage block.
type RetrieveContextOutput struct {
	Context string `json:"context"`
}

// SearchInput defines the input of the search_knowledge_base tool.
type SearchInput struct {
	Query      string `json:"query" jsonschema:"the search query"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"maximum number of passages to return (1-20, default 5)"`
}

// SearchOutput contains the structured hits.
type SearchOutput struct {
	Results []SearchResult `json:"results"`
	// Message explains an empty result.
	Message string `json:"message,omitempty"`
}

// SearchResult is one fused hit.
type SearchResult struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title,omitempty"`
	URL        string  `json:"url"`
	Score      float64 `json:"score"`
	Text       string  `json:"text"`
}

// StatusInput takes no parameters.
type StatusInput struct{}

// StatusOutput describes the state of the index.
type StatusOutput struct {
	TableExists   bool           `json:"table_exists"`
	FullTextIndex bool           `json:"full_text_index"`
	TotalDocs     int            `json:"total_docs"`
	Documents     []DocumentInfo `json:"documents"`
	LastAddedAt   string         `json:"last_added_at,omitempty"`
}

// DocumentInfo summarizes a registered document.
type DocumentInfo struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	URL        string `json:"url"`
}
