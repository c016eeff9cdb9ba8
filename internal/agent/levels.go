package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/metalagman/stanfix/internal/analysis"
	"github.com/metalagman/stanfix/internal/tools"
	"github.com/rs/zerolog/log"
)

const verifyPreviewLines = 10

// levelTracker is the escalation state machine. The agent decides when a
// level is resolved by asking for the next one; the tracker only enforces
// that levels move up one step at a time within bounds. With verify set, the
// current level is re-analysed before an escalation is admitted.
type levelTracker struct {
	initial     int
	max         int
	current     int
	verify      bool
	analyzer    tools.Analyzer
	directories string
	escalations int
	lastCount   map[int]int
}

var _ tools.LevelGuard = (*levelTracker)(nil)

func newLevelTracker(initial, maxLevel int, verify bool, a tools.Analyzer, directories string) *levelTracker {
	return &levelTracker{
		initial:     initial,
		max:         maxLevel,
		current:     initial,
		verify:      verify,
		analyzer:    a,
		directories: directories,
		lastCount:   make(map[int]int),
	}
}

func (t *levelTracker) Current() int {
	return t.current
}

func (t *levelTracker) Admit(ctx context.Context, level int) (string, error) {
	switch {
	case level > t.max:
		return fmt.Sprintf("Level %d exceeds the maximum level %d. Do not go further; summarize your work.", level, t.max), nil
	case level < t.current:
		return fmt.Sprintf("Level %d is below the current level %d. Levels only move up; run level %d.", level, t.current, t.current), nil
	case level > t.current+1:
		return fmt.Sprintf("Level %d skips ahead of level %d. Advance one level at a time; the next level is %d.", level, t.current, t.current+1), nil
	case level == t.current:
		return "", nil
	}

	if t.verify {
		lines, err := t.analyzer.Run(ctx, t.current, t.directories)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return fmt.Sprintf("Could not verify level %d before advancing: %v", t.current, err), nil
		}
		t.lastCount[t.current] = len(lines)
		if len(lines) > 0 {
			log.Info().Int("level", t.current).Int("remaining", len(lines)).Msg("escalation refused: level not clean")
			return fmt.Sprintf("Level %d still reports %d issue(s); resolve them before advancing to level %d:\n%s",
				t.current, len(lines), level, analysis.Join(analysis.Truncate(lines, verifyPreviewLines))), nil
		}
	}

	log.Info().Int("from", t.current).Int("to", level).Msg("level advanced")
	t.current = level
	t.escalations++
	return "", nil
}

func (t *levelTracker) Observe(level int, diagnostics []string) {
	t.lastCount[level] = len(diagnostics)
}

// outcome classifies a session the agent ended on its own.
func (t *levelTracker) outcome() Outcome {
	if t.current == t.max && t.max > t.initial {
		return OutcomeMaxLevelReached
	}
	return OutcomeResolved
}

func (t *levelTracker) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "level %d/%d", t.current, t.max)
	if n, ok := t.lastCount[t.current]; ok {
		fmt.Fprintf(&b, " (%d diagnostics at last run)", n)
	}
	return b.String()
}
