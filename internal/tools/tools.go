// Package tools defines the capabilities the remediation agent may call:
// reading files, writing files through the change gate, and running PHPStan.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/metalagman/stanfix/internal/analysis"
	"github.com/metalagman/stanfix/internal/gate"
	"github.com/rs/zerolog/log"
)

// Capability names.
const (
	ReadFileName   = "read_file"
	WriteFileName  = "write_file"
	RunPHPStanName = "run_phpstan"
)

const (
	defaultDirectories = "app"
	defaultMaxErrors   = 10
)

// Analyzer runs static analysis at a level.
type Analyzer interface {
	Run(ctx context.Context, level int, directories string) ([]string, error)
}

// Evaluator decides whether a proposed write may land.
type Evaluator interface {
	Evaluate(ctx context.Context, path, proposed string) (gate.Decision, error)
}

// LevelGuard owns the session's strictness level. Admit returns a non-empty
// refusal when analysis at level is not permitted.
type LevelGuard interface {
	Current() int
	Admit(ctx context.Context, level int) (refusal string, err error)
	Observe(level int, diagnostics []string)
}

// Handler executes a capability with decoded JSON arguments.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Capability is one entry of the closed capability table.
type Capability struct {
	Name        string
	Description string
	// Parameters is the JSON schema of the arguments object.
	Parameters json.RawMessage
	Handler    Handler
}

// Config configures a Surface.
type Config struct {
	// Root resolves relative paths.
	Root         string
	Directories  string
	MaxErrors    int
	// DefaultLevel is analysed when a call names no level and no guard is set.
	DefaultLevel int
}

// Option configures a Surface.
type Option func(*Surface)

// WithLevelGuard routes every run_phpstan call through g.
func WithLevelGuard(g LevelGuard) Option {
	return func(s *Surface) { s.guard = g }
}

// Surface is the set of capabilities exposed to the agent. Tool failures are
// reported back as text; only context cancellation is returned as an error.
type Surface struct {
	cfg      Config
	gate     Evaluator
	analyzer Analyzer
	guard    LevelGuard
	caps     []Capability
	byName   map[string]Capability
	writes   int
}

// NewSurface builds the capability table.
func NewSurface(cfg Config, g Evaluator, a Analyzer, opts ...Option) (*Surface, error) {
	if g == nil {
		return nil, fmt.Errorf("change gate is required")
	}
	if a == nil {
		return nil, fmt.Errorf("analyzer is required")
	}
	if strings.TrimSpace(cfg.Directories) == "" {
		cfg.Directories = defaultDirectories
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = defaultMaxErrors
	}

	s := &Surface{cfg: cfg, gate: g, analyzer: a}
	for _, opt := range opts {
		opt(s)
	}
	s.caps = []Capability{
		{
			Name:        ReadFileName,
			Description: "Read the full contents of a file.",
			Parameters:  readFileSchema,
			Handler:     s.handleReadFile,
		},
		{
			Name:        WriteFileName,
			Description: "Overwrite a file with the given full content. The change is reviewed before it is written and may be refused.",
			Parameters:  writeFileSchema,
			Handler:     s.handleWriteFile,
		},
		{
			Name:        RunPHPStanName,
			Description: "Run PHPStan at a strictness level and return the first max_errors diagnostic lines. An empty result means the level is clean.",
			Parameters:  runPHPStanSchema(cfg.Directories, cfg.MaxErrors),
			Handler:     s.handleRunPHPStan,
		},
	}
	s.byName = make(map[string]Capability, len(s.caps))
	for _, c := range s.caps {
		s.byName[c.Name] = c
	}
	return s, nil
}

// Capabilities returns the capability table in registration order.
func (s *Surface) Capabilities() []Capability {
	out := make([]Capability, len(s.caps))
	copy(out, s.caps)
	return out
}

// Writes returns how many writes were applied.
func (s *Surface) Writes() int {
	return s.writes
}

// Call dispatches a capability by name with JSON-encoded arguments.
func (s *Surface) Call(ctx context.Context, name, argsJSON string) (string, error) {
	c, ok := s.byName[name]
	if !ok {
		return fmt.Sprintf("Unknown tool %q", name), nil
	}
	args := map[string]any{}
	if strings.TrimSpace(argsJSON) != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return fmt.Sprintf("Invalid arguments for %s: %v", name, err), nil
		}
	}
	return c.Handler(ctx, args)
}

// ReadFile returns the file contents or a not-found message.
func (s *Surface) ReadFile(path string) string {
	data, err := os.ReadFile(s.resolve(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return notFound(path)
		}
		return fmt.Sprintf("Failed to read %s: %v", path, err)
	}
	return string(data)
}

// WriteFile overwrites path with content once the gate allows it.
func (s *Surface) WriteFile(ctx context.Context, path, content string) (string, error) {
	decision, err := s.gate.Evaluate(ctx, path, content)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Warn().Err(err).Str("path", path).Msg("write refused: review failed")
		return "Write forbidden: " + err.Error(), nil
	}
	if !decision.Allowed {
		log.Info().Str("path", path).Str("reason", decision.Reason).Msg("write refused")
		return "Write forbidden: " + decision.Reason, nil
	}

	full := s.resolve(path)
	perm := fs.FileMode(0o644)
	if info, err := os.Stat(full); err == nil {
		perm = info.Mode().Perm()
	}
	if err := os.WriteFile(full, []byte(content), perm); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return notFound(path), nil
		}
		return fmt.Sprintf("Failed to write %s: %v", path, err), nil
	}
	s.writes++
	log.Info().Str("path", path).Int("bytes", len(content)).Msg("file written")
	return fmt.Sprintf("File %s written successfully", path), nil
}

// RunPHPStan analyses directories at level and returns at most maxErrors lines.
// A nil level means the guard's current level, or DefaultLevel without a guard.
func (s *Surface) RunPHPStan(ctx context.Context, level *int, directories string, maxErrors int) (string, error) {
	lvl := s.cfg.DefaultLevel
	if s.guard != nil {
		lvl = s.guard.Current()
	}
	if level != nil {
		lvl = *level
	}
	if strings.TrimSpace(directories) == "" {
		directories = s.cfg.Directories
	}
	if maxErrors <= 0 {
		maxErrors = s.cfg.MaxErrors
	}

	if s.guard != nil {
		refusal, err := s.guard.Admit(ctx, lvl)
		if err != nil {
			return "", err
		}
		if refusal != "" {
			return refusal, nil
		}
	}

	lines, err := s.analyzer.Run(ctx, lvl, directories)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return fmt.Sprintf("Failed to run phpstan: %v", err), nil
	}
	if s.guard != nil {
		s.guard.Observe(lvl, lines)
	}
	if len(lines) == 0 {
		return fmt.Sprintf("No errors found at level %d.", lvl), nil
	}
	return analysis.Join(analysis.Truncate(lines, maxErrors)), nil
}

func (s *Surface) resolve(path string) string {
	if s.cfg.Root == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.cfg.Root, path)
}

func notFound(path string) string {
	return fmt.Sprintf("File %s not found", path)
}
