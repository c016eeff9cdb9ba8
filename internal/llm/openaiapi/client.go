// Package openaiapi wraps the OpenAI Responses API for the one-shot review
// calls made by the change gate.
package openaiapi

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

// Client sends review prompts to a fixed model.
type Client struct {
	cfg    Config
	client openai.Client
}

// ResolveAPIKey returns the explicit key or the one read from the key env var.
func ResolveAPIKey(apiKey, apiKeyEnv string) string {
	if key := strings.TrimSpace(apiKey); key != "" {
		return key
	}
	envKey := strings.TrimSpace(apiKeyEnv)
	if envKey == "" {
		envKey = defaultAPIKeyEnv
	}
	return strings.TrimSpace(os.Getenv(envKey))
}

// ResolveBaseURL returns the explicit base URL, OPENAI_BASE_URL, or the public endpoint.
func ResolveBaseURL(baseURL string) string {
	if u := strings.TrimSpace(baseURL); u != "" {
		return u
	}
	if u := strings.TrimSpace(os.Getenv(baseURLEnv)); u != "" {
		return u
	}
	return defaultBaseURL
}

// NewClient constructs a new review client.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("review model is required")
	}

	apiKey := ResolveAPIKey(cfg.APIKey, cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required (set openai.api_key or %s)", defaultAPIKeyEnv)
	}
	baseURL := ResolveBaseURL(cfg.BaseURL)

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}

	return &Client{
		cfg: Config{
			Model:   model,
			BaseURL: baseURL,
			Timeout: cfg.Timeout,
		},
		client: openai.NewClient(opts...),
	}, nil
}

// Model returns the review model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Review executes a single Responses API request and returns the output text.
func (c *Client) Review(ctx context.Context, req ReviewRequest) (ReviewResponse, error) {
	params := responses.ResponseNewParams{
		Model: c.cfg.Model,
		Input: responses.ResponseNewParamsInputUnion{
			OfString: openai.String(req.Prompt),
		},
	}
	if req.Instructions != "" {
		params.Instructions = openai.String(req.Instructions)
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return ReviewResponse{}, fmt.Errorf("openai responses.create: %w", err)
	}
	if msg := strings.TrimSpace(resp.Error.Message); msg != "" {
		return ReviewResponse{}, fmt.Errorf("openai response failed: %s", msg)
	}

	output := strings.TrimSpace(resp.OutputText())
	if output == "" {
		return ReviewResponse{}, fmt.Errorf("openai response did not contain output text")
	}

	return ReviewResponse{OutputText: output}, nil
}
