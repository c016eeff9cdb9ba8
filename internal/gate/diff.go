package gate

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/rs/zerolog/log"
	godiff "github.com/sourcegraph/go-diff/diff"
)

// Stats summarizes a unified diff.
type Stats struct {
	Hunks   int
	Added   int
	Deleted int
}

// UnifiedDiff returns the line-based unified diff turning before into after,
// or an empty string when they are identical.
func UnifiedDiff(before, after string) (string, error) {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        splitLines(before),
		B:        splitLines(after),
		FromFile: "before",
		ToFile:   "after",
		Context:  3,
	})
	if err != nil {
		return "", fmt.Errorf("compute diff: %w", err)
	}
	return text, nil
}

const noNewlineMarker = "\\ No newline at end of file\n"

// splitLines splits s into lines that keep their terminators. An unterminated
// last line carries the git no-newline marker, so a missing final newline
// shows up as a changed line. Empty input yields no lines.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	last := len(lines) - 1
	if lines[last] == "" {
		return lines[:last]
	}
	lines[last] += "\n" + noNewlineMarker
	return lines
}

// DiffStats counts hunks and changed lines. Unparseable input yields zero stats.
func DiffStats(text string) Stats {
	if text == "" {
		return Stats{}
	}
	fd, err := godiff.ParseFileDiff([]byte(text))
	if err != nil {
		log.Debug().Err(err).Msg("parse diff for stats")
		return Stats{}
	}
	st := Stats{Hunks: len(fd.Hunks)}
	for _, h := range fd.Hunks {
		for _, line := range strings.Split(string(h.Body), "\n") {
			switch {
			case strings.HasPrefix(line, "+"):
				st.Added++
			case strings.HasPrefix(line, "-"):
				st.Deleted++
			}
		}
	}
	return st
}
