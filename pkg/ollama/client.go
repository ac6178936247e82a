package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// DefaultURL is the address of a local Ollama server
const DefaultURL = "http://localhost:11434"

// Client wraps the Ollama API client
type Client struct {
	client   *api.Client
	jsonMode bool
}

// Option configures a Client
type Option func(*Client)

// WithJSONMode asks the server to constrain replies to JSON
func WithJSONMode(enabled bool) Option {
	return func(c *Client) { c.jsonMode = enabled }
}

// NewClient creates a new Ollama client
func NewClient(ollamaURL string, opts ...Option) (*Client, error) {
	if ollamaURL == "" {
		ollamaURL = DefaultURL
	}
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL: %q needs a scheme and host", ollamaURL)
	}

	// Create base URL from the provided URL (removing path like /api/chat)
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	c := &Client{client: api.NewClient(baseURL, http.DefaultClient)}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Query sends a prompt and one image and returns the reply text
func (c *Client) Query(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 300*time.Second)
		defer cancel()
	}

	imgBytes, err := base64.StdEncoding.DecodeString(imgB64)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64 image: %w", err)
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model: model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: prompt,
				Images:  []api.ImageData{api.ImageData(imgBytes)},
			},
		},
		Stream:  &streamFalse,
		Options: modelOptions(model),
	}
	if c.jsonMode {
		req.Format = json.RawMessage(`"json"`)
	}

	var reply strings.Builder
	err = c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		reply.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat error: %w", err)
	}
	if reply.Len() == 0 {
		return "", fmt.Errorf("empty response from ollama")
	}
	return reply.String(), nil
}

// HasModel reports whether the server has pulled the named model
func (c *Client) HasModel(ctx context.Context, model string) (bool, error) {
	resp, err := c.client.List(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list ollama models: %w", err)
	}
	for _, m := range resp.Models {
		if m.Name == model || m.Model == model || strings.TrimSuffix(m.Name, ":latest") == model {
			return true, nil
		}
	}
	return false, nil
}

// modelOptions lowers sampling randomness for box output; MiniCPM-V 4.x
// additionally needs a larger context window for image tokens
func modelOptions(model string) map[string]any {
	options := map[string]any{"temperature": 0.2}
	modelLower := strings.ToLower(model)
	if strings.Contains(modelLower, "minicpm-v4") ||
		strings.Contains(modelLower, "minicpm-v-4") ||
		strings.Contains(modelLower, "minicpmv4") {
		options["top_p"] = 0.8
		options["num_ctx"] = 4096
	}
	return options
}
