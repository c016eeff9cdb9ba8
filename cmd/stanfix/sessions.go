package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/metalagman/stanfix/internal/config"
	"github.com/metalagman/stanfix/internal/db"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// openJournal opens the session journal of the configured work dir.
func openJournal(cfg config.Config) (*db.Store, func(), error) {
	sqlDB, err := db.Open(cfg.JournalPath())
	if err != nil {
		return nil, func() {}, fmt.Errorf("open journal: %w", err)
	}
	return db.NewStore(sqlDB), func() { _ = sqlDB.Close() }, nil
}

func sessionsCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect recorded fix sessions",
	}
	cmd.AddCommand(sessionsListCmd(v))
	cmd.AddCommand(sessionsShowCmd(v))
	cmd.AddCommand(sessionsPruneCmd(v))
	return cmd
}

func sessionsListCmd(v *viper.Viper) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recent sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			store, closeFn, err := openJournal(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			sessions, err := store.ListSessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "no sessions recorded")
				return err
			}
			return printSessions(cmd.OutOrStdout(), sessions)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of sessions to show")
	return cmd
}

func sessionsShowCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session and its turn events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			store, closeFn, err := openJournal(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			sum, ok, err := store.GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("session %s not found", args[0])
			}
			events, err := store.SessionEvents(cmd.Context(), sum.ID)
			if err != nil {
				return err
			}
			return printSession(cmd.OutOrStdout(), sum, events)
		},
	}
}

func sessionsPruneCmd(v *viper.Viper) *cobra.Command {
	var keepLast int
	var keepDays int
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old sessions from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			policy := db.RetentionPolicy{KeepLast: keepLast, KeepDays: keepDays}
			if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
				return fmt.Errorf("set --keep-last or --keep-days")
			}
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			store, closeFn, err := openJournal(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := store.PruneSessions(cmd.Context(), policy, dryRun)
			if err != nil {
				return err
			}
			mode := "deleted"
			if dryRun {
				mode = "would delete"
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %d sessions (kept %d)\n", mode, res.Deleted, res.Kept)
			return err
		},
	}
	cmd.Flags().IntVar(&keepLast, "keep-last", 0, "keep the newest N sessions")
	cmd.Flags().IntVar(&keepDays, "keep-days", 0, "keep sessions newer than N days")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be pruned without deleting")
	return cmd
}

func printSessions(w io.Writer, sessions []db.SessionSummary) error {
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{
			s.ID,
			s.CreatedAt.Local().Format(time.DateTime),
			s.Model,
			fmt.Sprintf("%d/%d", s.Level, s.MaxLevel),
			fmt.Sprintf("%d/%d", s.Turns, s.MaxTurns),
			strconv.Itoa(s.Writes),
			sessionState(s),
		})
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		Headers("ID", "STARTED", "MODEL", "LEVEL", "TURNS", "WRITES", "OUTCOME").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	_, err := fmt.Fprintln(w, t.String())
	return err
}

func printSession(w io.Writer, s db.SessionSummary, events []db.EventRecord) error {
	var b strings.Builder
	field := func(name, value string) {
		b.WriteString(headerStyle.Render(fmt.Sprintf("%-10s", name)) + " " + value + "\n")
	}
	field("session", s.ID)
	field("started", s.CreatedAt.Local().Format(time.DateTime))
	if s.EndedAt != nil {
		field("ended", s.EndedAt.Local().Format(time.DateTime))
	}
	field("model", s.Model)
	field("dirs", s.Directories)
	field("levels", fmt.Sprintf("%d -> %d (max %d)", s.InitialLevel, s.Level, s.MaxLevel))
	field("turns", fmt.Sprintf("%d/%d", s.Turns, s.MaxTurns))
	field("writes", strconv.Itoa(s.Writes))
	field("outcome", sessionState(s))
	if s.Error != "" {
		field("error", s.Error)
	}

	b.WriteString("\n")
	for _, ev := range events {
		line := fmt.Sprintf("#%-3d turn %-3d level %-2d %s", ev.Seq, ev.Turn, ev.Level, ev.Type)
		if ev.Tool != "" {
			line += " " + ev.Tool
		}
		b.WriteString(line + "\n")
		if msg := strings.TrimSpace(ev.Message); msg != "" && ev.Type == "completion" {
			b.WriteString(dimStyle.Render("     "+firstLine(msg)) + "\n")
		}
	}
	if s.FinalOutput != "" {
		b.WriteString("\n" + s.FinalOutput + "\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func sessionState(s db.SessionSummary) string {
	if s.Outcome != "" {
		return s.Outcome
	}
	return s.Status
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
