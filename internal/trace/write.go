package trace

import (
	"context"
	"fmt"
)

// WriteTick inserts a tick and its runs in one transaction.
// Uses ON CONFLICT(token) DO NOTHING for idempotency: writing the same tick
// twice keeps the first copy and its runs.
func (s *Store) WriteTick(ctx context.Context, tick Tick, runs []Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write tick: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO ticks
		(token, number, started_at, duration_ns, enabled, result)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(token) DO NOTHING
	`,
		tick.Token,
		int64(tick.Number),
		unixNanos(tick.Started),
		int64(tick.Duration),
		boolInt(tick.Enabled),
		boolInt(tick.Result),
	)
	if err != nil {
		return fmt.Errorf("write tick: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("write tick: rows affected: %w", err)
	} else if n == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO system_runs
		(tick_token, seq, phase, system_id, system, started_at, duration_ns, result, skipped, panicked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("write tick: prepare runs: %w", err)
	}
	defer stmt.Close()

	for _, run := range runs {
		_, err := stmt.ExecContext(ctx,
			tick.Token,
			run.Seq,
			run.Phase,
			run.SystemID,
			run.System,
			unixNanos(run.Started),
			int64(run.Duration),
			boolInt(run.Result),
			boolInt(run.Skipped),
			boolInt(run.Panicked),
		)
		if err != nil {
			return fmt.Errorf("write tick: run %s/%s: %w", run.Phase, run.System, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write tick: commit: %w", err)
	}
	return nil
}

// Prune deletes every tick except the newest keep ticks, with their runs.
// Returns the number of deleted ticks.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM ticks
		WHERE token NOT IN (
			SELECT token FROM ticks
			ORDER BY number DESC, token COLLATE BINARY DESC
			LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune: rows affected: %w", err)
	}
	return n, nil
}
