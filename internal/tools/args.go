package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

var readFileSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "path": { "type": "string", "description": "File path relative to the project root." }
  },
  "required": ["path"]
}`)

var writeFileSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "path": { "type": "string", "description": "File path relative to the project root." },
    "content": { "type": "string", "description": "The complete new file content." }
  },
  "required": ["path", "content"]
}`)

func runPHPStanSchema(directories string, maxErrors int) json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"level": map[string]any{
				"type":        "integer",
				"minimum":     0,
				"description": "Strictness level to analyse at.",
			},
			"directories": map[string]any{
				"type":        "string",
				"description": fmt.Sprintf("Space separated directories to analyse (default %q).", directories),
			},
			"max_errors": map[string]any{
				"type":        "integer",
				"minimum":     1,
				"description": fmt.Sprintf("Maximum number of diagnostic lines to return (default %d).", maxErrors),
			},
		},
	}
	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("marshal run_phpstan schema: %v", err))
	}
	return data
}

type readFileArgs struct {
	Path string `json:"path"`
}

type writeFileArgs struct {
	Path    string  `json:"path"`
	Content *string `json:"content"`
}

type runPHPStanArgs struct {
	Level       *int   `json:"level"`
	Directories string `json:"directories"`
	MaxErrors   int    `json:"max_errors"`
}

// decodeArgs decodes loosely typed model arguments, so "3" is accepted for 3.
func decodeArgs(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		TagName:          "json",
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

func (s *Surface) handleReadFile(_ context.Context, raw map[string]any) (string, error) {
	var args readFileArgs
	if err := decodeArgs(raw, &args); err != nil {
		return invalidArgs(ReadFileName, err), nil
	}
	if strings.TrimSpace(args.Path) == "" {
		return missingArg(ReadFileName, "path"), nil
	}
	return s.ReadFile(args.Path), nil
}

func (s *Surface) handleWriteFile(ctx context.Context, raw map[string]any) (string, error) {
	var args writeFileArgs
	if err := decodeArgs(raw, &args); err != nil {
		return invalidArgs(WriteFileName, err), nil
	}
	if strings.TrimSpace(args.Path) == "" {
		return missingArg(WriteFileName, "path"), nil
	}
	if args.Content == nil {
		return missingArg(WriteFileName, "content"), nil
	}
	return s.WriteFile(ctx, args.Path, *args.Content)
}

func (s *Surface) handleRunPHPStan(ctx context.Context, raw map[string]any) (string, error) {
	var args runPHPStanArgs
	if err := decodeArgs(raw, &args); err != nil {
		return invalidArgs(RunPHPStanName, err), nil
	}
	return s.RunPHPStan(ctx, args.Level, args.Directories, args.MaxErrors)
}

func invalidArgs(name string, err error) string {
	return fmt.Sprintf("Invalid arguments for %s: %v", name, err)
}

func missingArg(name, arg string) string {
	return fmt.Sprintf("Invalid arguments for %s: %s is required", name, arg)
}
