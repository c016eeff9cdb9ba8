// Package chat provides the tool-calling chat completion client that drives
// the remediation agent.
package chat

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/metalagman/stanfix/internal/llm/openaiapi"
	"github.com/metalagman/stanfix/internal/tools"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

// Config is chat client configuration.
type Config struct {
	Model     string
	BaseURL   string
	APIKey    string
	APIKeyEnv string
	// Timeout bounds each request. Zero means no timeout.
	Timeout time.Duration
}

// Client issues chat completions against an OpenAI-compatible endpoint.
type Client struct {
	model  string
	client *openai.Client
}

// NewClient constructs a chat client.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("agent model is required")
	}
	apiKey := openaiapi.ResolveAPIKey(cfg.APIKey, cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required (set openai.api_key or OPENAI_API_KEY)")
	}

	oc := openai.DefaultConfig(apiKey)
	oc.BaseURL = openaiapi.ResolveBaseURL(cfg.BaseURL)
	switch {
	case httpClient != nil:
		oc.HTTPClient = httpClient
	case cfg.Timeout > 0:
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		model:  model,
		client: openai.NewClientWithConfig(oc),
	}, nil
}

// Model returns the agent model name.
func (c *Client) Model() string {
	return c.model
}

// Complete sends the conversation and tool definitions and returns the
// assistant message of the first choice.
func (c *Client) Complete(ctx context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool) (openai.ChatCompletionMessage, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
		Tools:    tools,
	})
	if err != nil {
		return openai.ChatCompletionMessage{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return openai.ChatCompletionMessage{}, fmt.Errorf("chat completion returned no choices")
	}
	choice := resp.Choices[0]
	log.Debug().
		Str("model", c.model).
		Str("finish_reason", string(choice.FinishReason)).
		Int("tool_calls", len(choice.Message.ToolCalls)).
		Int("total_tokens", resp.Usage.TotalTokens).
		Msg("chat completion")
	return choice.Message, nil
}

// ToolDefinitions maps capabilities to function tools.
func ToolDefinitions(caps []tools.Capability) []openai.Tool {
	out := make([]openai.Tool, 0, len(caps))
	for _, c := range caps {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        c.Name,
				Description: c.Description,
				Parameters:  c.Parameters,
			},
		})
	}
	return out
}
