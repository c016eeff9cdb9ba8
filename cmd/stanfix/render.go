package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/metalagman/stanfix/internal/gate"
)

var (
	colorRed    = lipgloss.Color("#ff5555")
	colorGreen  = lipgloss.Color("#50fa7b")
	colorBlue   = lipgloss.Color("#8be9fd")
	colorDim    = lipgloss.Color("#6272a4")
	colorYellow = lipgloss.Color("#f1fa8c")

	addedLineStyle   = lipgloss.NewStyle().Foreground(colorGreen)
	deletedLineStyle = lipgloss.NewStyle().Foreground(colorRed)
	hunkHeaderStyle  = lipgloss.NewStyle().Foreground(colorBlue)
	fileHeaderStyle  = lipgloss.NewStyle().Bold(true)
	dimStyle         = lipgloss.NewStyle().Foreground(colorDim)
	allowedStyle     = lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
	deniedStyle      = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	headerStyle      = lipgloss.NewStyle().Foreground(colorYellow).Bold(true)
)

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// renderFinal prints the agent's closing message, as markdown on a terminal.
func renderFinal(w io.Writer, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if isTerminal(w) {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(100),
		)
		if err == nil {
			if out, err := r.Render(text); err == nil {
				_, err = io.WriteString(w, out)
				return err
			}
		}
	}
	_, err := fmt.Fprintln(w, text)
	return err
}

// diffPrinter shows every reviewed write with its verdict.
func diffPrinter(w io.Writer) gate.Observer {
	return func(r gate.Review) {
		title := r.Path
		if r.NewFile {
			title += " (new file)"
		}
		stats := fmt.Sprintf("%d hunk(s), +%d -%d", r.Stats.Hunks, r.Stats.Added, r.Stats.Deleted)

		var b strings.Builder
		b.WriteString(fileHeaderStyle.Render(title) + " " + dimStyle.Render(stats) + "\n")
		for _, line := range strings.Split(strings.TrimRight(r.Diff, "\n"), "\n") {
			b.WriteString(styleDiffLine(line) + "\n")
		}
		if r.Decision.Allowed {
			b.WriteString(allowedStyle.Render("allowed") + " " + r.Decision.Reason + "\n")
		} else {
			b.WriteString(deniedStyle.Render("denied") + " " + r.Decision.Reason + "\n")
		}
		_, _ = io.WriteString(w, b.String())
	}
}

func styleDiffLine(line string) string {
	switch {
	case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		return dimStyle.Render(line)
	case strings.HasPrefix(line, "@@"):
		return hunkHeaderStyle.Render(line)
	case strings.HasPrefix(line, "+"):
		return addedLineStyle.Render(line)
	case strings.HasPrefix(line, "-"):
		return deletedLineStyle.Render(line)
	default:
		return line
	}
}
