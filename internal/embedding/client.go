package embedding

import (
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ClientOptions configures the OpenAI client.
type ClientOptions struct {
	APIKey     string
	BaseURL    string // Optional; overrides the API endpoint (proxies, tests)
	MaxRetries int    // SDK-level retries; backoff in this package handles 429s
}

// Client wraps the OpenAI client shared by embedding, chat and title generation.
type Client struct {
	client *openai.Client
}

// NewClient creates a new OpenAI client and returns an error if no API key is set.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(opts.MaxRetries),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}

	client := openai.NewClient(reqOpts...)
	return &Client{client: &client}, nil
}

// Client returns the underlying OpenAI client for use in other packages (e.g., agent, metadata).
func (c *Client) Client() *openai.Client {
	return c.client
}
