// Package journal persists dispatch cycles and per-member outcomes to
// SQLite. It exists for observability only: nothing reads it back to make
// dispatch decisions, and nothing is retried from it.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/skeops/diwatch/internal/dispatch"
)

// Store writes and queries the dispatch_cycle / dispatch_outcome tables.
type Store struct {
	db *sql.DB
}

// New creates a Store over an opened database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record persists one finished (or skipped) cycle with its outcomes.
func (s *Store) Record(ctx context.Context, cycle *dispatch.Cycle) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cycle record: %w", err)
	}
	defer tx.Rollback()

	skipped := 0
	if cycle.Skipped {
		skipped = 1
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO dispatch_cycle(id, trigger, status, members, succeeded, failed, skipped, reason, started_at, finished_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, cycle.ID, cycle.Trigger, string(cycle.Token), cycle.Members, cycle.Succeeded, cycle.Failed, skipped, cycle.Reason,
		cycle.StartedAt.UTC().Format(time.RFC3339Nano), cycle.FinishedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}

	for _, o := range cycle.Outcomes {
		_, err = tx.ExecContext(ctx, `
INSERT INTO dispatch_outcome(cycle_id, dev_eui, result, ack_id, error, duration_ms)
VALUES(?, ?, ?, ?, ?, ?);
`, cycle.ID, o.Member, string(o.Result), o.AckID, o.Error, o.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("insert outcome for %q: %w", o.Member, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cycle record: %w", err)
	}
	return nil
}

// CycleSummary is one row of the cycle history, without outcomes.
type CycleSummary struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger"`
	Status     string    `json:"status"`
	Members    int       `json:"members"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Skipped    bool      `json:"skipped"`
	Reason     string    `json:"reason,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Recent returns up to limit cycles, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]CycleSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, trigger, status, members, succeeded, failed, skipped, reason, started_at, finished_at
FROM dispatch_cycle
ORDER BY started_at DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	var out []CycleSummary
	for rows.Next() {
		var (
			c        CycleSummary
			skipped  int
			reason   sql.NullString
			started  string
			finished string
		)
		if err := rows.Scan(&c.ID, &c.Trigger, &c.Status, &c.Members, &c.Succeeded, &c.Failed,
			&skipped, &reason, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		c.Skipped = skipped != 0
		c.Reason = reason.String
		if c.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if c.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cycles: %w", err)
	}
	return out, nil
}

// Outcomes returns the per-member outcomes of one cycle.
func (s *Store) Outcomes(ctx context.Context, cycleID string) ([]dispatch.Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT dev_eui, result, ack_id, error, duration_ms
FROM dispatch_outcome
WHERE cycle_id = ?;
`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []dispatch.Outcome
	for rows.Next() {
		var (
			o          dispatch.Outcome
			result     string
			ackID      sql.NullString
			errMsg     sql.NullString
			durationMS int64
		)
		if err := rows.Scan(&o.Member, &result, &ackID, &errMsg, &durationMS); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Result = dispatch.Result(result)
		o.AckID = ackID.String
		o.Error = errMsg.String
		o.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return out, nil
}
