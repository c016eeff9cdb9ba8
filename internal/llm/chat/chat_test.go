package chat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/metalagman/stanfix/internal/gate"
	"github.com/metalagman/stanfix/internal/tools"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientComplete_SendsToolsAndParsesToolCalls(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
			return
		}
		if err := json.Unmarshal(body, &gotBody); err != nil {
			t.Errorf("unmarshal body: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "o4-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "run_phpstan", "arguments": "{\"level\":0}"}
					}]
				}
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{Model: "o4-mini", BaseURL: srv.URL, APIKey: "k"}, srv.Client())
	require.NoError(t, err)

	msg, err := client.Complete(context.Background(),
		[]openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "fix it"}},
		[]openai.Tool{{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:       "run_phpstan",
				Parameters: json.RawMessage(`{"type":"object","properties":{}}`),
			},
		}},
	)
	require.NoError(t, err)

	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "o4-mini", gotBody["model"])
	tools, ok := gotBody["tools"].([]any)
	require.True(t, ok)
	assert.Len(t, tools, 1)

	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "call_1", msg.ToolCalls[0].ID)
	assert.Equal(t, "run_phpstan", msg.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"level":0}`, msg.ToolCalls[0].Function.Arguments)
}

func TestClientComplete_NoChoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[]}`))
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{Model: "o4-mini", BaseURL: srv.URL, APIKey: "k"}, srv.Client())
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestNewClient_RequiresModel(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{APIKey: "k"}, nil)
	require.Error(t, err)
}

type allowGate struct{}

func (allowGate) Evaluate(_ context.Context, _, _ string) (gate.Decision, error) {
	return gate.Decision{Allowed: true}, nil
}

type cleanAnalyzer struct{}

func (cleanAnalyzer) Run(_ context.Context, _ int, _ string) ([]string, error) {
	return nil, nil
}

func TestClientComplete_EncodesSurfaceTools(t *testing.T) {
	t.Parallel()

	type sentTool struct {
		Type     string `json:"type"`
		Function struct {
			Name       string         `json:"name"`
			Parameters map[string]any `json:"parameters"`
		} `json:"function"`
	}
	var sent []sentTool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Tools []sentTool `json:"tools"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
			return
		}
		sent = body.Tools
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-2",
			"object": "chat.completion",
			"model": "o4-mini",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "done"}}]
		}`))
	}))
	t.Cleanup(srv.Close)

	surface, err := tools.NewSurface(tools.Config{Root: t.TempDir(), Directories: "app src", MaxErrors: 5}, allowGate{}, cleanAnalyzer{})
	require.NoError(t, err)

	client, err := NewClient(Config{Model: "o4-mini", BaseURL: srv.URL, APIKey: "k"}, srv.Client())
	require.NoError(t, err)

	msg, err := client.Complete(context.Background(),
		[]openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "fix it"}},
		ToolDefinitions(surface.Capabilities()),
	)
	require.NoError(t, err)
	assert.Equal(t, "done", msg.Content)

	require.Len(t, sent, 3)
	names := make([]string, 0, len(sent))
	for _, tool := range sent {
		assert.Equal(t, "function", tool.Type)
		assert.Equal(t, "object", tool.Function.Parameters["type"], tool.Function.Name)
		names = append(names, tool.Function.Name)
	}
	assert.Equal(t, []string{tools.ReadFileName, tools.WriteFileName, tools.RunPHPStanName}, names)
}
