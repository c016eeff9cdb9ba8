package db

import (
	"context"
	"fmt"
	"time"
)

// RetentionPolicy controls journal cleanup. A session is kept when either
// rule keeps it; running sessions are always kept.
type RetentionPolicy struct {
	KeepLast int
	KeepDays int
}

// PruneResult summarizes a prune operation.
type PruneResult struct {
	Considered int
	Kept       int
	Deleted    int
}

// PruneSessions deletes old sessions and, through the foreign key, their events.
func (s *Store) PruneSessions(ctx context.Context, policy RetentionPolicy, dryRun bool) (PruneResult, error) {
	if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
		return PruneResult{}, nil
	}
	cutoff := time.Time{}
	if policy.KeepDays > 0 {
		cutoff = s.now().UTC().Add(-time.Duration(policy.KeepDays) * 24 * time.Hour)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT session_id, created_at, status FROM sessions ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return PruneResult{}, fmt.Errorf("list sessions: %w", err)
	}
	type sessionRow struct {
		id        string
		createdAt string
		status    string
	}
	var all []sessionRow
	for rows.Next() {
		var row sessionRow
		if err := rows.Scan(&row.id, &row.createdAt, &row.status); err != nil {
			_ = rows.Close()
			return PruneResult{}, fmt.Errorf("scan session: %w", err)
		}
		all = append(all, row)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return PruneResult{}, fmt.Errorf("iterate sessions: %w", err)
	}
	_ = rows.Close()

	res := PruneResult{Considered: len(all)}
	for idx, row := range all {
		keep := row.status == StatusRunning
		if !keep && policy.KeepLast > 0 && idx < policy.KeepLast {
			keep = true
		}
		if !keep && policy.KeepDays > 0 {
			created, err := time.Parse(tsLayout, row.createdAt)
			if err != nil || created.After(cutoff) {
				keep = true
			}
		}
		if keep {
			res.Kept++
			continue
		}
		if !dryRun {
			if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id=?`, row.id); err != nil {
				return res, fmt.Errorf("delete session %s: %w", row.id, err)
			}
		}
		res.Deleted++
	}
	return res, nil
}
