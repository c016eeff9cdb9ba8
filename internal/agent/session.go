package agent

import (
	"errors"
	"fmt"
)

// ErrMaxTurnsExceeded is returned when the session runs out of turns.
var ErrMaxTurnsExceeded = errors.New("max turns exceeded")

// Outcome is the state of a session.
type Outcome string

// Session outcomes.
const (
	OutcomeRunning          Outcome = "running"
	OutcomeResolved         Outcome = "resolved"
	OutcomeMaxLevelReached  Outcome = "max_level_reached"
	OutcomeMaxTurnsExceeded Outcome = "max_turns_exceeded"
	OutcomeFatalError       Outcome = "fatal_error"
)

// Result reports what a session achieved, including partial progress when
// it ended early.
type Result struct {
	SessionID   string
	Outcome     Outcome
	Level       int
	Turns       int
	Writes      int
	Escalations int
	FinalOutput string
}

// Session tracks turn consumption for one run.
type Session struct {
	ID        string
	TurnCount int
	MaxTurns  int
	Outcome   Outcome
}

func newSession(id string, maxTurns int) *Session {
	return &Session{ID: id, MaxTurns: maxTurns, Outcome: OutcomeRunning}
}

// consume takes one turn, failing without consuming when the budget is spent.
func (s *Session) consume() error {
	if s.TurnCount+1 > s.MaxTurns {
		return fmt.Errorf("%w: limit %d", ErrMaxTurnsExceeded, s.MaxTurns)
	}
	s.TurnCount++
	return nil
}
