package trace

import "time"

// Tick is one row of the ticks table.
type Tick struct {
	Token    string
	Number   uint64
	Started  time.Time
	Duration time.Duration
	Enabled  bool
	Result   bool
}

// Run is one row of the system_runs table.
type Run struct {
	Seq      int
	Phase    string
	SystemID string
	System   string
	Started  time.Time
	Duration time.Duration
	Result   bool
	Skipped  bool
	Panicked bool
}

// SystemStats aggregates the runs of one system across stored ticks.
// Skipped runs count only towards Skipped.
type SystemStats struct {
	SystemID string
	System   string
	Phase    string
	Runs     int
	Skipped  int
	Failures int
	Panics   int
	Total    time.Duration
	Max      time.Duration
}

// Mean returns the average duration of executed runs.
func (s SystemStats) Mean() time.Duration {
	if s.Runs == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Runs)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
