package trace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ListTicks returns the newest limit ticks, oldest first.
// A limit <= 0 returns every tick.
// Returns an empty slice (not nil) if the store holds no ticks.
func (s *Store) ListTicks(ctx context.Context, limit int) ([]Tick, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT token, number, started_at, duration_ns, enabled, result
		FROM (
			SELECT * FROM ticks
			ORDER BY number DESC, token COLLATE BINARY DESC
			LIMIT ?
		)
		ORDER BY number ASC, token COLLATE BINARY ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query ticks: %w", err)
	}
	defer rows.Close()

	ticks := []Tick{}
	for rows.Next() {
		tick, err := scanTick(rows)
		if err != nil {
			return nil, err
		}
		ticks = append(ticks, tick)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ticks: %w", err)
	}
	return ticks, nil
}

// ReadTick retrieves a tick and its runs by token.
// Returns sql.ErrNoRows if the tick does not exist.
func (s *Store) ReadTick(ctx context.Context, token string) (Tick, []Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token, number, started_at, duration_ns, enabled, result
		FROM ticks
		WHERE token = ?
	`, token)
	tick, err := scanTick(row)
	if err != nil {
		return Tick{}, nil, err
	}

	runs, err := s.readRuns(ctx, token)
	if err != nil {
		return Tick{}, nil, err
	}
	return tick, runs, nil
}

// ReadTickByNumber retrieves the first tick stored with number.
// Returns sql.ErrNoRows if there is none.
func (s *Store) ReadTickByNumber(ctx context.Context, number uint64) (Tick, []Run, error) {
	var token string
	err := s.db.QueryRowContext(ctx, `
		SELECT token FROM ticks
		WHERE number = ?
		ORDER BY token COLLATE BINARY ASC
		LIMIT 1
	`, int64(number)).Scan(&token)
	if err != nil {
		return Tick{}, nil, err
	}
	return s.ReadTick(ctx, token)
}

func (s *Store) readRuns(ctx context.Context, token string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, phase, system_id, system, started_at, duration_ns, result, skipped, panicked
		FROM system_runs
		WHERE tick_token = ?
		ORDER BY seq ASC
	`, token)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var (
			run                       Run
			started, duration         int64
			result, skipped, panicked int
		)
		if err := rows.Scan(&run.Seq, &run.Phase, &run.SystemID, &run.System,
			&started, &duration, &result, &skipped, &panicked); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Started = fromUnixNanos(started)
		run.Duration = time.Duration(duration)
		run.Result = result != 0
		run.Skipped = skipped != 0
		run.Panicked = panicked != 0
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Stats aggregates every stored run per system, ordered by phase of first
// appearance then system name.
func (s *Store) Stats(ctx context.Context) ([]SystemStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT system_id, system, phase,
		       SUM(CASE WHEN skipped = 0 THEN 1 ELSE 0 END),
		       SUM(skipped),
		       SUM(CASE WHEN skipped = 0 AND result = 0 THEN 1 ELSE 0 END),
		       SUM(panicked),
		       SUM(CASE WHEN skipped = 0 THEN duration_ns ELSE 0 END),
		       MAX(CASE WHEN skipped = 0 THEN duration_ns ELSE 0 END)
		FROM system_runs
		GROUP BY system_id, phase
		ORDER BY MIN(seq) ASC, system COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	stats := []SystemStats{}
	for rows.Next() {
		var (
			st             SystemStats
			total, longest int64
		)
		if err := rows.Scan(&st.SystemID, &st.System, &st.Phase,
			&st.Runs, &st.Skipped, &st.Failures, &st.Panics, &total, &longest); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		st.Total = time.Duration(total)
		st.Max = time.Duration(longest)
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTick(row rowScanner) (Tick, error) {
	var (
		tick              Tick
		number            int64
		started, duration int64
		enabled, result   int
	)
	if err := row.Scan(&tick.Token, &number, &started, &duration, &enabled, &result); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tick{}, err
		}
		return Tick{}, fmt.Errorf("scan tick: %w", err)
	}
	tick.Number = uint64(number)
	tick.Started = fromUnixNanos(started)
	tick.Duration = time.Duration(duration)
	tick.Enabled = enabled != 0
	tick.Result = result != 0
	return tick, nil
}
