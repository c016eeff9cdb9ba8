// Package cliagent runs change reviews through a local agent CLI such as
// codex or claude, using the ainvoke input/output file contract.
package cliagent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/metalagman/ainvoke"
	"github.com/metalagman/stanfix/internal/gate"
	"github.com/metalagman/stanfix/internal/llm/openaiapi"
	"github.com/metalagman/stanfix/internal/logging"
	"github.com/rs/zerolog/log"
)

// Exec runs Config.Cmd verbatim.
const Exec = "exec"

type agentSpec struct {
	subcommand string
	extraFlags []string
}

var agentSpecs = map[string]agentSpec{
	"codex": {
		subcommand: "exec",
		extraFlags: []string{"--sandbox", "read-only", "--skip-git-repo-check"},
	},
	"opencode": {
		subcommand: "run",
	},
	"gemini": {
		extraFlags: []string{"--output-format", "text", "--approval-mode", "yolo"},
	},
	"claude": {
		extraFlags: []string{"--output-format", "text", "--print", "--dangerously-skip-permissions"},
	},
}

// Config selects the agent CLI.
type Config struct {
	Backend string
	Model   string
	Cmd     []string
	UseTTY  bool
}

// Reviewer implements gate.Reviewer on top of an agent CLI.
type Reviewer struct {
	backend string
	cmd     []string
	runner  ainvoke.Runner
}

// NewReviewer constructs a reviewer for a known backend or an exec command.
func NewReviewer(cfg Config) (*Reviewer, error) {
	cmd, err := commandFor(cfg)
	if err != nil {
		return nil, err
	}
	runner, err := ainvoke.NewRunner(ainvoke.AgentConfig{
		Cmd:    cmd,
		UseTTY: cfg.UseTTY,
	})
	if err != nil {
		return nil, fmt.Errorf("init %s reviewer: %w", cfg.Backend, err)
	}
	return &Reviewer{backend: cfg.Backend, cmd: cmd, runner: runner}, nil
}

func commandFor(cfg Config) ([]string, error) {
	if cfg.Backend == Exec {
		if len(cfg.Cmd) == 0 {
			return nil, fmt.Errorf("exec reviewer requires cmd")
		}
		return cfg.Cmd, nil
	}
	spec, ok := agentSpecs[cfg.Backend]
	if !ok {
		return nil, fmt.Errorf("unknown reviewer backend %q", cfg.Backend)
	}
	cmd := []string{cfg.Backend}
	if spec.subcommand != "" {
		cmd = append(cmd, spec.subcommand)
	}
	if m := strings.TrimSpace(cfg.Model); m != "" {
		cmd = append(cmd, "--model", m)
	}
	return append(cmd, spec.extraFlags...), nil
}

// Command returns the resolved command line.
func (r *Reviewer) Command() []string {
	return r.cmd
}

type reviewInput struct {
	Instructions string `json:"instructions,omitempty"`
	Prompt       string `json:"prompt"`
}

const inputSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "instructions": { "type": "string" },
    "prompt": { "type": "string", "minLength": 1 }
  },
  "required": ["prompt"]
}`

const systemPrompt = `You review a single file change proposed by another agent.
- The change and the review rules are in the "prompt" field of the input.
- Do not modify any file in the project. Only write your verdict.
- The verdict must be a JSON object with a boolean "allowed" and a short "reason".`

// Review runs the agent in a scratch directory and returns its output document.
func (r *Reviewer) Review(ctx context.Context, req openaiapi.ReviewRequest) (openaiapi.ReviewResponse, error) {
	runDir, err := os.MkdirTemp("", "stanfix-review-*")
	if err != nil {
		return openaiapi.ReviewResponse{}, fmt.Errorf("create review dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(runDir) }()

	inv := ainvoke.Invocation{
		RunDir:       runDir,
		SystemPrompt: systemPrompt,
		Input:        reviewInput{Instructions: req.Instructions, Prompt: req.Prompt},
		InputSchema:  inputSchema,
		OutputSchema: gate.DecisionSchema,
	}

	var stderr bytes.Buffer
	stdoutW, stderrW := agentOutputWriters(logging.VerboseEnabled(), &stderr)
	out, _, exitCode, err := r.runner.Run(ctx, inv, ainvoke.WithStdout(stdoutW), ainvoke.WithStderr(stderrW))
	if err != nil {
		log.Debug().Str("backend", r.backend).Str("stderr", stderr.String()).Msg("review agent failed")
		return openaiapi.ReviewResponse{}, fmt.Errorf("run %s reviewer (exit code %d): %w", r.backend, exitCode, err)
	}
	return openaiapi.ReviewResponse{OutputText: string(out)}, nil
}

// agentOutputWriters mirrors the agent's output to the terminal in verbose mode.
func agentOutputWriters(verbose bool, stderr io.Writer) (io.Writer, io.Writer) {
	if !verbose {
		return io.Discard, stderr
	}
	return os.Stderr, io.MultiWriter(stderr, os.Stderr)
}
