package openaiapi

import "time"

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultAPIKeyEnv = "OPENAI_API_KEY"
	baseURLEnv       = "OPENAI_BASE_URL"
)

// Config is OpenAI API client configuration.
type Config struct {
	Model     string
	BaseURL   string
	APIKey    string
	APIKeyEnv string
	// Timeout bounds each request. Zero means no timeout.
	Timeout time.Duration
}

// ReviewRequest is a single review prompt.
type ReviewRequest struct {
	Instructions string
	Prompt       string
}

// ReviewResponse carries the raw model text; callers decode it.
type ReviewResponse struct {
	OutputText string
}
