package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gents83/INOX-sub002/internal/jobs"
)

// SystemRun is the outcome of one system in one tick.
type SystemRun struct {
	Tick     uint64
	Phase    string
	SystemID SystemUID
	System   string
	Started  time.Time
	Duration time.Duration
	Result   bool
	Skipped  bool // not eligible while unfocused
	Panicked bool
}

// Recorder observes system runs. RecordSystemRun may be called
// concurrently from worker goroutines.
type Recorder interface {
	RecordSystemRun(ctx context.Context, run SystemRun)
}

// ErrPhaseInterrupted is returned for a phase whose pending systems were
// discarded by the job handler (Stop or ClearPendingJobs) before they ran.
var ErrPhaseInterrupted = errors.New("phase interrupted: pending systems were discarded")

// node is the per-tick dispatch state of one eligible system.
type node struct {
	entry      *entry
	remaining  atomic.Int32
	dependents []*node
}

// phaseRun dispatches one phase of one tick.
//
// The handler barrier can open early when pending jobs are cleared, so a
// phaseRun keeps its own: once closed, no further system of the phase
// starts or is submitted, and close waits for the ones already running.
type phaseRun struct {
	ctx      context.Context
	tick     uint64
	phase    *Phase
	handler  *jobs.Handler
	inline   bool   // no running handler when the phase started
	epoch    uint64 // handler clear generation the phase belongs to
	logger   *slog.Logger
	recorder Recorder

	ok       atomic.Bool
	finished atomic.Int32

	mu      sync.Mutex
	closed  bool
	running sync.WaitGroup
}

// runPhase submits every eligible system of p, respecting dependencies,
// then waits for the phase to drain. It reports whether every system that
// ran returned true. When the handler discarded some of the phase's
// systems it returns ErrPhaseInterrupted, after every started system has
// finished.
func runPhase(ctx context.Context, tick uint64, p *Phase, enabled bool, h *jobs.Handler, logger *slog.Logger, rec Recorder) (bool, error) {
	r := &phaseRun{
		ctx:      ctx,
		tick:     tick,
		phase:    p,
		handler:  h,
		inline:   h == nil || !h.IsRunning(),
		logger:   logger,
		recorder: rec,
	}
	if !r.inline {
		r.epoch = h.Epoch()
	}
	r.ok.Store(true)

	nodes := make(map[SystemUID]*node, len(p.order))
	eligible := make([]*node, 0, len(p.order))
	for _, id := range p.order {
		e := p.entries[id]
		if !enabled && !e.system.ShouldRunWhenNotFocused() {
			r.record(SystemRun{SystemID: e.id, System: e.name, Skipped: true, Result: true})
			continue
		}
		n := &node{entry: e}
		nodes[id] = n
		eligible = append(eligible, n)
	}
	if len(eligible) == 0 {
		return true, nil
	}

	// Counters are fully built before the first submission so a fast root
	// cannot release a dependent early. Skipped dependencies count as
	// resolved.
	for _, n := range eligible {
		for _, depID := range n.entry.dependents {
			if d, ok := nodes[depID]; ok {
				d.remaining.Add(1)
				n.dependents = append(n.dependents, d)
			}
		}
	}
	for _, n := range eligible {
		if n.remaining.Load() == 0 {
			r.submit(n)
		}
	}

	var err error
	if !r.inline {
		err = h.WaitForCategory(ctx, p.category)
	}
	r.close()

	if err != nil {
		return false, fmt.Errorf("phase %s: %w", p.name, err)
	}
	if done := int(r.finished.Load()); done < len(eligible) {
		return false, fmt.Errorf("phase %s: %w (%d of %d systems ran)", p.name, ErrPhaseInterrupted, done, len(eligible))
	}
	return r.ok.Load(), nil
}

// close stops the phase from starting or submitting systems and waits
// for the systems already running.
func (r *phaseRun) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.running.Wait()
}

// begin registers a starting system. It reports false once the phase is
// closed.
func (r *phaseRun) begin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.running.Add(1)
	return true
}

func (r *phaseRun) submit(n *node) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return
	}

	task := r.task(n)
	if r.inline {
		r.runInline(n, task)
		return
	}
	name := "execute_system[" + n.entry.name + "]"
	if !r.handler.AddJobAt(r.epoch, r.phase.category, name, n.entry.priority, task) {
		r.logger.Debug("system not submitted, handler stopped or cleared",
			"phase", r.phase.name, "system", n.entry.name)
	}
}

func (r *phaseRun) task(n *node) func() {
	return func() {
		if !r.begin() {
			return
		}
		defer r.running.Done()

		started := time.Now()
		result := false
		completed := false
		defer func() {
			r.finished.Add(1)
			if !result {
				r.ok.Store(false)
			}
			r.record(SystemRun{
				SystemID: n.entry.id,
				System:   n.entry.name,
				Started:  started,
				Duration: time.Since(started),
				Result:   result,
				Panicked: !completed,
			})
			for _, d := range n.dependents {
				if d.remaining.Add(-1) == 0 {
					r.submit(d)
				}
			}
		}()
		result = n.entry.system.Run()
		completed = true
	}
}

func (r *phaseRun) runInline(n *node, task func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("system panicked",
				"phase", r.phase.name,
				"system", n.entry.name,
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()),
			)
		}
	}()
	task()
}

func (r *phaseRun) record(run SystemRun) {
	if r.recorder == nil {
		return
	}
	run.Tick = r.tick
	run.Phase = r.phase.name
	r.recorder.RecordSystemRun(r.ctx, run)
}
