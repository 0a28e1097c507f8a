package trace

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gents83/INOX-sub002/internal/schedule"
)

// ErrNoTick is returned by EndTick when no tick was begun.
var ErrNoTick = errors.New("trace: no tick in progress")

// Recorder buffers the system runs of the tick in progress and writes them
// with the tick when it ends. It implements schedule.Recorder.
//
// Runs reported while no tick is open are discarded.
//
// Thread-safety: RecordSystemRun may be called from any goroutine;
// BeginTick and EndTick are called by the host loop.
type Recorder struct {
	store *Store

	mu   sync.Mutex
	tick *Tick
	runs []Run
}

var _ schedule.Recorder = (*Recorder)(nil)

// NewRecorder creates a recorder writing to store.
func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store}
}

// BeginTick opens a tick identified by token. An open tick that was never
// ended is dropped.
func (r *Recorder) BeginTick(token string, enabled bool, started time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tick = &Tick{Token: token, Started: started, Enabled: enabled}
	r.runs = r.runs[:0]
}

// RecordSystemRun buffers run for the open tick.
func (r *Recorder) RecordSystemRun(_ context.Context, run schedule.SystemRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tick == nil {
		return
	}
	r.runs = append(r.runs, Run{
		Seq:      len(r.runs),
		Phase:    run.Phase,
		SystemID: run.SystemID.String(),
		System:   run.System,
		Started:  run.Started,
		Duration: run.Duration,
		Result:   run.Result,
		Skipped:  run.Skipped,
		Panicked: run.Panicked,
	})
}

// EndTick closes the open tick and writes it with its runs.
func (r *Recorder) EndTick(ctx context.Context, number uint64, result bool) error {
	r.mu.Lock()
	if r.tick == nil {
		r.mu.Unlock()
		return ErrNoTick
	}
	tick := *r.tick
	runs := make([]Run, len(r.runs))
	copy(runs, r.runs)
	r.tick = nil
	r.runs = r.runs[:0]
	r.mu.Unlock()

	tick.Number = number
	tick.Result = result
	tick.Duration = time.Since(tick.Started)
	return r.store.WriteTick(ctx, tick, runs)
}
