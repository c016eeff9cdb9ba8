// Package agent runs the remediation session: a bounded tool-calling loop in
// which the model analyses, fixes and escalates PHPStan levels.
package agent

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/metalagman/stanfix/internal/db"
	"github.com/metalagman/stanfix/internal/llm/chat"
	"github.com/metalagman/stanfix/internal/tools"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

// Model produces the next assistant message for a conversation.
type Model interface {
	Complete(ctx context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool) (openai.ChatCompletionMessage, error)
}

// Journal records session progress. Failures are logged, never fatal.
type Journal interface {
	StartSession(ctx context.Context, rec db.SessionRecord) error
	RecordTurn(ctx context.Context, sessionID string, ev db.TurnEvent) error
	FinishSession(ctx context.Context, sessionID string, end db.SessionEnd) error
}

// Options configures a session.
type Options struct {
	Model            string
	InitialLevel     int
	MaxLevel         int
	Directories      string
	MaxTurns         int
	MaxErrors        int
	VerifyEscalation bool
	WorkDir          string
	// ProjectStructure is embedded in the instructions as context.
	ProjectStructure string
}

// Deps are the collaborators of a session.
type Deps struct {
	Chat     Model
	Analyzer tools.Analyzer
	Gate     tools.Evaluator
	Journal  Journal
}

// Orchestrator drives one session at a time.
type Orchestrator struct {
	opts Options
	deps Deps
	// newID is replaced in tests.
	newID func() string
}

// New validates options and constructs an orchestrator.
func New(opts Options, deps Deps) (*Orchestrator, error) {
	if deps.Chat == nil {
		return nil, fmt.Errorf("chat model is required")
	}
	if deps.Analyzer == nil {
		return nil, fmt.Errorf("analyzer is required")
	}
	if deps.Gate == nil {
		return nil, fmt.Errorf("change gate is required")
	}
	if opts.MaxTurns <= 0 {
		return nil, fmt.Errorf("max turns must be > 0")
	}
	if opts.InitialLevel < 0 {
		return nil, fmt.Errorf("initial level must be >= 0")
	}
	if opts.MaxLevel < opts.InitialLevel {
		return nil, fmt.Errorf("max level (%d) must be >= initial level (%d)", opts.MaxLevel, opts.InitialLevel)
	}
	return &Orchestrator{
		opts:  opts,
		deps:  deps,
		newID: uuid.NewString,
	}, nil
}

// run is the state of one Run call.
type run struct {
	o        *Orchestrator
	sess     *Session
	levels   *levelTracker
	surface  *tools.Surface
	messages []openai.ChatCompletionMessage
	lastText string
}

// Run executes a session until the agent stops, the turn budget runs out or
// an unrecoverable error occurs. When the budget runs out the partial Result
// is returned with an error wrapping ErrMaxTurnsExceeded.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	r, err := o.start(ctx)
	if err != nil {
		return Result{Outcome: OutcomeFatalError}, err
	}
	toolDefs := chat.ToolDefinitions(r.surface.Capabilities())

	for {
		if err := r.sess.consume(); err != nil {
			return r.finish(ctx, OutcomeMaxTurnsExceeded, err)
		}
		msg, err := o.deps.Chat.Complete(ctx, r.messages, toolDefs)
		if err != nil {
			return r.finish(ctx, OutcomeFatalError, fmt.Errorf("agent completion: %w", err))
		}
		r.record(ctx, db.TurnEvent{Type: "completion", Message: truncateText(msg.Content, 500)})
		if msg.Role == "" {
			msg.Role = openai.ChatMessageRoleAssistant
		}
		r.messages = append(r.messages, msg)
		if msg.Content != "" {
			r.lastText = msg.Content
		}

		if len(msg.ToolCalls) == 0 {
			return r.finish(ctx, r.levels.outcome(), nil)
		}

		for _, call := range msg.ToolCalls {
			if err := r.sess.consume(); err != nil {
				return r.finish(ctx, OutcomeMaxTurnsExceeded, err)
			}
			log.Debug().
				Int("turn", r.sess.TurnCount).
				Str("tool", call.Function.Name).
				Str("args", truncateText(call.Function.Arguments, 200)).
				Msg("tool call")
			out, err := r.surface.Call(ctx, call.Function.Name, call.Function.Arguments)
			if err != nil {
				return r.finish(ctx, OutcomeFatalError, fmt.Errorf("tool %s: %w", call.Function.Name, err))
			}
			r.record(ctx, db.TurnEvent{Type: "tool_call", Tool: call.Function.Name})
			r.messages = append(r.messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    out,
				ToolCallID: call.ID,
			})
		}
	}
}

func (o *Orchestrator) start(ctx context.Context) (*run, error) {
	levels := newLevelTracker(o.opts.InitialLevel, o.opts.MaxLevel, o.opts.VerifyEscalation, o.deps.Analyzer, o.opts.Directories)
	surface, err := tools.NewSurface(tools.Config{
		Root:        o.opts.WorkDir,
		Directories: o.opts.Directories,
		MaxErrors:   o.opts.MaxErrors,
	}, o.deps.Gate, o.deps.Analyzer, tools.WithLevelGuard(levels))
	if err != nil {
		return nil, err
	}

	data := promptData{
		ProjectStructure: o.opts.ProjectStructure,
		InitialLevel:     o.opts.InitialLevel,
		MaxLevel:         o.opts.MaxLevel,
		Directories:      o.opts.Directories,
		MaxErrors:        o.opts.MaxErrors,
		VerifyEscalation: o.opts.VerifyEscalation,
	}
	instructions, err := renderPrompt("instructions.tmpl", data)
	if err != nil {
		return nil, err
	}
	task, err := renderPrompt("task.tmpl", data)
	if err != nil {
		return nil, err
	}

	r := &run{
		o:       o,
		sess:    newSession(o.newID(), o.opts.MaxTurns),
		levels:  levels,
		surface: surface,
		messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: instructions},
			{Role: openai.ChatMessageRoleUser, Content: task},
		},
	}

	log.Info().
		Str("session", r.sess.ID).
		Str("model", o.opts.Model).
		Int("initial_level", o.opts.InitialLevel).
		Int("max_level", o.opts.MaxLevel).
		Int("max_turns", o.opts.MaxTurns).
		Bool("verify_escalation", o.opts.VerifyEscalation).
		Msg("session started")
	if j := o.deps.Journal; j != nil {
		if err := j.StartSession(ctx, db.SessionRecord{
			ID:           r.sess.ID,
			Model:        o.opts.Model,
			Directories:  o.opts.Directories,
			InitialLevel: o.opts.InitialLevel,
			MaxLevel:     o.opts.MaxLevel,
			MaxTurns:     o.opts.MaxTurns,
		}); err != nil {
			log.Warn().Err(err).Str("session", r.sess.ID).Msg("journal: start session")
		}
	}
	return r, nil
}

func (r *run) record(ctx context.Context, ev db.TurnEvent) {
	j := r.o.deps.Journal
	if j == nil {
		return
	}
	ev.Turn = r.sess.TurnCount
	ev.Level = r.levels.Current()
	if err := j.RecordTurn(ctx, r.sess.ID, ev); err != nil {
		log.Warn().Err(err).Str("session", r.sess.ID).Msg("journal: record turn")
	}
}

func (r *run) finish(ctx context.Context, outcome Outcome, runErr error) (Result, error) {
	r.sess.Outcome = outcome
	res := Result{
		SessionID:   r.sess.ID,
		Outcome:     outcome,
		Level:       r.levels.Current(),
		Turns:       r.sess.TurnCount,
		Writes:      r.surface.Writes(),
		Escalations: r.levels.escalations,
		FinalOutput: r.lastText,
	}

	ev := log.Info()
	if runErr != nil && !errors.Is(runErr, ErrMaxTurnsExceeded) {
		ev = log.Error().Err(runErr)
	}
	ev.Str("session", res.SessionID).
		Str("outcome", string(outcome)).
		Str("levels", r.levels.String()).
		Int("turns", res.Turns).
		Int("writes", res.Writes).
		Msg("session finished")

	if j := r.o.deps.Journal; j != nil {
		end := db.SessionEnd{
			Outcome:     string(outcome),
			Level:       res.Level,
			Turns:       res.Turns,
			Writes:      res.Writes,
			FinalOutput: res.FinalOutput,
		}
		if runErr != nil {
			end.Error = runErr.Error()
		}
		// The run context may already be canceled; the journal still gets the end state.
		if err := j.FinishSession(context.WithoutCancel(ctx), r.sess.ID, end); err != nil {
			log.Warn().Err(err).Str("session", r.sess.ID).Msg("journal: finish session")
		}
	}
	return res, runErr
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
