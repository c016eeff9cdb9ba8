package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Session statuses.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
)

// Store provides persistence for sessions and their turn events.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a session store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SessionRecord describes a session at start.
type SessionRecord struct {
	ID           string
	Model        string
	Directories  string
	InitialLevel int
	MaxLevel     int
	MaxTurns     int
}

// TurnEvent is one consumed turn.
type TurnEvent struct {
	Turn    int
	Type    string
	Tool    string
	Level   int
	Message string
}

// SessionEnd is the terminal state of a session.
type SessionEnd struct {
	Outcome     string
	Level       int
	Turns       int
	Writes      int
	FinalOutput string
	Error       string
}

// SessionSummary is a stored session row.
type SessionSummary struct {
	ID           string
	CreatedAt    time.Time
	EndedAt      *time.Time
	Model        string
	Directories  string
	InitialLevel int
	MaxLevel     int
	MaxTurns     int
	Status       string
	Outcome      string
	Level        int
	Turns        int
	Writes       int
	FinalOutput  string
	Error        string
}

// EventRecord is a stored turn event.
type EventRecord struct {
	Seq     int
	TS      time.Time
	TurnEvent
}

// StartSession inserts the session record with a session_started event.
func (s *Store) StartSession(ctx context.Context, rec SessionRecord) error {
	createdAt := s.timestamp()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin start session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO sessions(session_id, created_at, model, directories, initial_level, max_level, max_turns, status, level)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, createdAt, rec.Model, rec.Directories, rec.InitialLevel, rec.MaxLevel, rec.MaxTurns, StatusRunning, rec.InitialLevel); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert session: %w", err)
	}
	if err := s.insertEvent(ctx, tx, rec.ID, TurnEvent{Type: "session_started", Level: rec.InitialLevel, Message: "session started"}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit start session: %w", err)
	}
	return nil
}

// RecordTurn appends a turn event and bumps the session's turn counter and level.
func (s *Store) RecordTurn(ctx context.Context, sessionID string, ev TurnEvent) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin record turn: %w", err)
	}
	if err := s.insertEvent(ctx, tx, sessionID, ev); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET turns=?, level=? WHERE session_id=?`,
		ev.Turn, ev.Level, sessionID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record turn: %w", err)
	}
	return nil
}

// FinishSession stores the terminal state with a session_finished event.
func (s *Store) FinishSession(ctx context.Context, sessionID string, end SessionEnd) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin finish session: %w", err)
	}
	if err := s.insertEvent(ctx, tx, sessionID, TurnEvent{Turn: end.Turns, Type: "session_finished", Level: end.Level, Message: end.Outcome}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET ended_at=?, status=?, outcome=?, level=?, turns=?, writes=?, final_output=?, error=? WHERE session_id=?`,
		s.timestamp(), StatusFinished, end.Outcome, end.Level, end.Turns, end.Writes,
		nullableString(end.FinalOutput), nullableString(end.Error), sessionID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit finish session: %w", err)
	}
	return nil
}

// ListSessions returns the newest sessions first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SessionSummary
	for rows.Next() {
		sum, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// GetSession returns a session by id; ok is false when it does not exist.
func (s *Store) GetSession(ctx context.Context, sessionID string) (SessionSummary, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id=?`, sessionID)
	sum, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionSummary{}, false, nil
		}
		return SessionSummary{}, false, err
	}
	return sum, true, nil
}

// SessionEvents returns the events of a session in order.
func (s *Store) SessionEvents(ctx context.Context, sessionID string) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, ts, turn, type, tool, level, message FROM events WHERE session_id=? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []EventRecord
	for rows.Next() {
		var (
			ev      EventRecord
			ts      string
			tool    sql.NullString
			message sql.NullString
		)
		if err := rows.Scan(&ev.Seq, &ts, &ev.Turn, &ev.Type, &tool, &ev.Level, &message); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.TS = parseTime(ts)
		ev.Tool = tool.String
		ev.Message = message.String
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

const sessionColumns = `session_id, created_at, ended_at, model, directories, initial_level, max_level, max_turns, status, outcome, level, turns, writes, final_output, error`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (SessionSummary, error) {
	var (
		sum       SessionSummary
		createdAt string
		endedAt   sql.NullString
		outcome   sql.NullString
		final     sql.NullString
		errText   sql.NullString
	)
	if err := row.Scan(&sum.ID, &createdAt, &endedAt, &sum.Model, &sum.Directories, &sum.InitialLevel, &sum.MaxLevel,
		&sum.MaxTurns, &sum.Status, &outcome, &sum.Level, &sum.Turns, &sum.Writes, &final, &errText); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionSummary{}, err
		}
		return SessionSummary{}, fmt.Errorf("scan session: %w", err)
	}
	sum.CreatedAt = parseTime(createdAt)
	if endedAt.Valid {
		t := parseTime(endedAt.String)
		sum.EndedAt = &t
	}
	sum.Outcome = outcome.String
	sum.FinalOutput = final.String
	sum.Error = errText.String
	return sum, nil
}

func (s *Store) insertEvent(ctx context.Context, tx *sql.Tx, sessionID string, ev TurnEvent) error {
	seq, err := s.nextSeq(ctx, tx, sessionID)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO events(session_id, seq, ts, turn, type, tool, level, message) VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, seq, s.timestamp(), ev.Turn, ev.Type, nullableString(ev.Tool), ev.Level, nullableString(ev.Message)); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Store) nextSeq(ctx context.Context, tx *sql.Tx, sessionID string) (int, error) {
	var seq int
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events WHERE session_id=?`, sessionID)
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("read event seq: %w", err)
	}
	return seq + 1, nil
}

// tsLayout is fixed width so timestamps sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

func (s *Store) timestamp() string {
	return s.now().UTC().Format(tsLayout)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(tsLayout, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
