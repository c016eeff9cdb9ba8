// Package mcpserver exposes the agent capabilities to external MCP clients.
package mcpserver

import (
	"context"
	"fmt"
	"sync"

	"github.com/metalagman/stanfix/internal/tools"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
)

// Config configures the server identity.
type Config struct {
	Name    string
	Version string
}

// Server serves a tools.Surface over MCP. Calls are serialized so writes
// never interleave.
type Server struct {
	mcp     *mcp.Server
	surface *tools.Surface
	mu      sync.Mutex
}

type readFileInput struct {
	Path string `json:"path" jsonschema:"File path relative to the project root"`
}

type writeFileInput struct {
	Path    string `json:"path" jsonschema:"File path relative to the project root"`
	Content string `json:"content" jsonschema:"The complete new file content"`
}

type runPHPStanInput struct {
	Level       *int   `json:"level,omitempty" jsonschema:"Strictness level to analyse at"`
	Directories string `json:"directories,omitempty" jsonschema:"Space separated directories to analyse"`
	MaxErrors   int    `json:"max_errors,omitempty" jsonschema:"Maximum number of diagnostic lines to return"`
}

type toolOutput struct {
	Output string `json:"output" jsonschema:"Tool result text"`
}

// New registers the capabilities of surface on a new MCP server.
func New(cfg Config, surface *tools.Surface) (*Server, error) {
	if surface == nil {
		return nil, fmt.Errorf("tool surface is required")
	}
	if cfg.Name == "" {
		cfg.Name = "stanfix"
	}
	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		surface: surface,
	}
	s.registerTools()
	return s, nil
}

// MCP returns the underlying server, e.g. to connect custom transports.
func (s *Server) MCP() *mcp.Server {
	return s.mcp
}

// Run serves over stdio until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	log.Info().Msg("mcp server listening on stdio")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        tools.ReadFileName,
		Description: "Read the full contents of a file.",
	}, func(_ context.Context, _ *mcp.CallToolRequest, args readFileInput) (*mcp.CallToolResult, toolOutput, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return textResult(s.surface.ReadFile(args.Path))
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        tools.WriteFileName,
		Description: "Overwrite a file with the given full content. The change is reviewed before it is written and may be refused.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args writeFileInput) (*mcp.CallToolResult, toolOutput, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		out, err := s.surface.WriteFile(ctx, args.Path, args.Content)
		if err != nil {
			return nil, toolOutput{}, err
		}
		return textResult(out)
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        tools.RunPHPStanName,
		Description: "Run PHPStan at a strictness level and return the first max_errors diagnostic lines.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args runPHPStanInput) (*mcp.CallToolResult, toolOutput, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		out, err := s.surface.RunPHPStan(ctx, args.Level, args.Directories, args.MaxErrors)
		if err != nil {
			return nil, toolOutput{}, err
		}
		return textResult(out)
	})
}

func textResult(text string) (*mcp.CallToolResult, toolOutput, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, toolOutput{Output: text}, nil
}
