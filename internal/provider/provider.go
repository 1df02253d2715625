package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rendis/flowline/pkg/schema"
)

const (
	defaultTimeout         = 60 * time.Second
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
)

// Message is one chat message sent to the completion endpoint.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest describes one completion call.
type CompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
}

// CompletionResult is the normalized outcome of a completion call.
type CompletionResult struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client calls a model provider. Implementations must be safe for
// concurrent use.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
	Embed(ctx context.Context, model string, input []string) ([][]float64, error)
}

// HTTPClient talks to an OpenAI-compatible HTTP API.
type HTTPClient struct {
	apiBase string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a client for the given API base URL. The key may be
// empty for local providers.
func NewHTTPClient(apiBase, apiKey string) *HTTPClient {
	return &HTTPClient{
		apiBase: apiBase,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete posts a chat completion request and returns the first choice.
func (c *HTTPClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	var resp completionResponse
	if err := c.post(ctx, "/chat/completions", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, schema.NewError(schema.ErrCodeProvider, "provider returned no choices")
	}
	return &CompletionResult{
		Text:             resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}

// Embed posts an embeddings request and returns one vector per input.
func (c *HTTPClient) Embed(ctx context.Context, model string, input []string) ([][]float64, error) {
	body := map[string]any{"model": model, "input": input}
	var resp embeddingsResponse
	if err := c.post(ctx, "/embeddings", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(input) {
		return nil, schema.NewErrorf(schema.ErrCodeProvider,
			"provider returned %d embeddings for %d inputs", len(resp.Data), len(input))
	}
	out := make([][]float64, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return schema.NewError(schema.ErrCodeProvider, "marshal request body").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+path, bytes.NewReader(payload))
	if err != nil {
		return schema.NewError(schema.ErrCodeProvider, "build request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeProvider, "provider request failed: %s", err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, defaultMaxResponseBody))
	if err != nil {
		return schema.NewError(schema.ErrCodeProvider, "read provider response").WithCause(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Surface the provider's own error message when the body carries one.
		var apiErr apiErrorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return schema.NewErrorf(schema.ErrCodeProvider, "provider error: %s", apiErr.Error.Message)
		}
		return schema.NewErrorf(schema.ErrCodeProvider, "provider returned status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return schema.NewErrorf(schema.ErrCodeProvider,
			"decode provider response: %s", err.Error()).WithCause(err)
	}
	return nil
}

var _ Client = (*HTTPClient)(nil)

// String renders a prompt preview for logs, truncated to keep records small.
func (m Message) String() string {
	const max = 120
	if len(m.Content) <= max {
		return fmt.Sprintf("%s: %s", m.Role, m.Content)
	}
	return fmt.Sprintf("%s: %s...", m.Role, m.Content[:max])
}
