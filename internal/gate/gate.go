// Package gate reviews proposed file writes before they reach the disk.
package gate

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"text/template"

	"github.com/metalagman/stanfix/internal/llm/openaiapi"
	"github.com/rs/zerolog/log"
)

//go:embed review.tmpl
var reviewTemplate string

var reviewPrompt = template.Must(template.New("review").Parse(reviewTemplate))

// Reviewer sends a review prompt to the secondary model.
type Reviewer interface {
	Review(ctx context.Context, req openaiapi.ReviewRequest) (openaiapi.ReviewResponse, error)
}

// Review is everything known about one evaluated write.
type Review struct {
	Path     string
	NewFile  bool
	Diff     string
	Stats    Stats
	Decision Decision
}

// Observer is notified after every decided review.
type Observer func(Review)

// Option configures a Gate.
type Option func(*Gate)

// WithRoot resolves relative paths against dir.
func WithRoot(dir string) Option {
	return func(g *Gate) { g.root = dir }
}

// WithObserver registers a callback for decided reviews.
func WithObserver(o Observer) Option {
	return func(g *Gate) { g.observer = o }
}

// Gate evaluates whether a proposed file content may be written.
type Gate struct {
	reviewer Reviewer
	root     string
	observer Observer
}

// New creates a gate backed by reviewer.
func New(reviewer Reviewer, opts ...Option) (*Gate, error) {
	if reviewer == nil {
		return nil, fmt.Errorf("reviewer is required")
	}
	g := &Gate{reviewer: reviewer}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Evaluate diffs the on-disk content of path against proposed and asks the
// reviewer for a verdict. A missing file is diffed as empty and always
// reviewed, even when proposed is empty. An unchanged existing file is allowed
// without consulting the reviewer.
//
// A malformed review response is returned as *DecodeError.
func (g *Gate) Evaluate(ctx context.Context, path, proposed string) (Decision, error) {
	before, newFile, err := g.current(path)
	if err != nil {
		return Decision{}, err
	}

	diffText, err := UnifiedDiff(before, proposed)
	if err != nil {
		return Decision{}, err
	}
	review := Review{Path: path, NewFile: newFile, Diff: diffText, Stats: DiffStats(diffText)}

	if diffText == "" && !newFile {
		review.Decision = Decision{Allowed: true, Reason: "no changes"}
		g.notify(review)
		return review.Decision, nil
	}

	var prompt bytes.Buffer
	if err := reviewPrompt.Execute(&prompt, review); err != nil {
		return Decision{}, fmt.Errorf("render review prompt: %w", err)
	}

	resp, err := g.reviewer.Review(ctx, openaiapi.ReviewRequest{Prompt: prompt.String()})
	if err != nil {
		return Decision{}, fmt.Errorf("review %s: %w", path, err)
	}

	decision, err := ParseDecision(resp.OutputText)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("gate: undecodable review response")
		return Decision{}, err
	}
	review.Decision = decision

	log.Debug().
		Str("path", path).
		Bool("new_file", newFile).
		Int("hunks", review.Stats.Hunks).
		Int("added", review.Stats.Added).
		Int("deleted", review.Stats.Deleted).
		Bool("allowed", decision.Allowed).
		Str("reason", decision.Reason).
		Msg("gate decision")
	g.notify(review)
	return decision, nil
}

func (g *Gate) current(path string) (string, bool, error) {
	full := path
	if g.root != "" && !filepath.IsAbs(path) {
		full = filepath.Join(g.root, path)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", true, nil
		}
		return "", false, fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), false, nil
}

func (g *Gate) notify(r Review) {
	if g.observer != nil {
		g.observer(r)
	}
}
