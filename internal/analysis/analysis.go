// Package analysis runs the PHPStan binary and collects its raw diagnostics.
package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	defaultMemoryLimit = "2G"
	defaultMaxLines    = 500
)

// Config configures a Runner.
type Config struct {
	// Binary is the analysis executable. Relative paths resolve against WorkDir.
	Binary      string
	WorkDir     string
	MemoryLimit string
	// MaxLines caps how many diagnostic lines a single run returns.
	MaxLines int
}

// Runner invokes the analysis binary synchronously.
type Runner struct {
	cfg Config
}

// NewRunner constructs a runner.
func NewRunner(cfg Config) (*Runner, error) {
	if strings.TrimSpace(cfg.Binary) == "" {
		return nil, fmt.Errorf("analysis binary is required")
	}
	if cfg.MemoryLimit == "" {
		cfg.MemoryLimit = defaultMemoryLimit
	}
	if cfg.MaxLines <= 0 {
		cfg.MaxLines = defaultMaxLines
	}
	return &Runner{cfg: cfg}, nil
}

// Args returns the argument vector passed to the binary.
func (r *Runner) Args(level int, directories string) []string {
	args := []string{
		"analyse",
		"--level", strconv.Itoa(level),
		"--error-format", "raw",
		"--memory-limit", r.cfg.MemoryLimit,
	}
	return append(args, strings.Fields(directories)...)
}

// Run analyses directories at level and returns the diagnostic lines, first
// MaxLines only. An empty result means the level is clean.
//
// The binary exits non-zero when it reports issues, so the exit status is
// ignored; only a failure to start the process is an error. No timeout is
// applied beyond ctx.
func (r *Runner) Run(ctx context.Context, level int, directories string) ([]string, error) {
	args := r.Args(level, directories)
	log.Debug().Str("dir", r.cfg.WorkDir).Str("cmd", r.cfg.Binary).Strs("args", args).Msg("running analysis")

	cmd := exec.CommandContext(ctx, r.cfg.Binary, args...)
	cmd.Dir = r.cfg.WorkDir
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = io.Discard

	err := cmd.Run()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return nil, fmt.Errorf("run %s: %w", r.cfg.Binary, err)
	}
	if exitErr != nil {
		log.Debug().Int("exit_code", exitErr.ExitCode()).Int("level", level).Msg("analysis exited non-zero")
	}

	lines := Truncate(SplitLines(stdout.String()), r.cfg.MaxLines)
	log.Debug().Int("level", level).Int("diagnostics", len(lines)).Msg("analysis finished")
	return lines, nil
}

// SplitLines splits raw output into lines, dropping trailing blank lines.
func SplitLines(out string) []string {
	out = strings.TrimRight(out, "\r\n")
	if strings.TrimSpace(out) == "" {
		return nil
	}
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

// Truncate keeps the first n lines. n <= 0 keeps nothing.
func Truncate(lines []string, n int) []string {
	if n <= 0 {
		return nil
	}
	if len(lines) <= n {
		return lines
	}
	return lines[:n]
}

// Join joins lines with newlines.
func Join(lines []string) string {
	return strings.Join(lines, "\n")
}
