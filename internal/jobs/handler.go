package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// State is the lifecycle state of a Handler.
type State int

const (
	// Stopped: jobs are not accepted, waits return immediately.
	Stopped State = iota
	// Running: the worker pool is up and jobs are accepted.
	Running
)

// String returns "stopped" or "running".
func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// Handler is the front door of the job system: it submits jobs into the
// queue, owns the worker pool and exposes the barrier and clear
// operations.
//
// Thread-safety model:
//   - AddJob, WaitForCategory, ClearPendingJobs, TryExecuteOne: safe from
//     any goroutine, including from inside a running job
//   - Start, Stop, UpdateWorkers: called by the host loop
type Handler struct {
	queue   *Queue
	metrics *Metrics
	logger  *slog.Logger
	size    int

	mu          sync.RWMutex
	state       State
	workers     []*Worker
	canContinue *atomic.Bool
	stopped     chan struct{} // closed by Stop, after the clear, to release waiters
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithWorkers sets the worker pool size. 0 selects cooperative mode.
// Negative values select PlatformWorkers().
func WithWorkers(n int) HandlerOption {
	return func(h *Handler) {
		if n < 0 {
			n = PlatformWorkers()
		}
		h.size = n
	}
}

// WithMetrics records job metrics on m.
func WithMetrics(m *Metrics) HandlerOption {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithLogger sets the logger used for worker and job diagnostics.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler creates a stopped handler. The pool size defaults to
// PlatformWorkers().
func NewHandler(opts ...HandlerOption) *Handler {
	h := &Handler{
		queue:  NewQueue(),
		logger: slog.Default(),
		size:   PlatformWorkers(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "jobs")
	return h
}

// Size returns the configured worker pool size.
func (h *Handler) Size() int {
	return h.size
}

// IsCooperative reports whether the handler runs without worker goroutines.
func (h *Handler) IsCooperative() bool {
	return h.size == 0
}

// State returns the current lifecycle state.
func (h *Handler) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// IsRunning reports whether the handler accepts jobs.
func (h *Handler) IsRunning() bool {
	return h.State() == Running
}

// Workers returns the number of live worker goroutines.
func (h *Handler) Workers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.workers)
}

// Queue returns the underlying job queue.
func (h *Handler) Queue() *Queue {
	return h.queue
}

// Metrics returns the handler's metrics, or nil.
func (h *Handler) Metrics() *Metrics {
	return h.metrics
}

// Start brings up the worker pool and marks the handler Running.
// canContinue is the host's continue flag; Start sets it to true and
// UpdateWorkers keeps it in sync with the enabled state. It may be nil.
// Starting a running handler does nothing.
func (h *Handler) Start(canContinue *atomic.Bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == Running {
		return
	}
	h.canContinue = canContinue
	if canContinue != nil {
		canContinue.Store(true)
	}

	h.stopped = make(chan struct{})
	for i := 1; i <= h.size; i++ {
		w := NewWorker(fmt.Sprintf("Worker%d", i), h.queue, h.metrics, h.logger)
		w.Start()
		h.workers = append(h.workers, w)
	}
	h.state = Running
	h.metrics.setWorkers(len(h.workers))
	h.logger.Info("job handler started", "workers", len(h.workers))
}

// Stop marks the handler Stopped, waits for the workers to finish their
// in-flight jobs, then discards every job not yet started and releases
// WaitForCategory callers. Waiters are released only once no worker is
// executing a job.
func (h *Handler) Stop() {
	h.mu.Lock()
	if h.state == Stopped {
		h.mu.Unlock()
		return
	}
	h.state = Stopped
	workers := h.workers
	h.workers = nil
	stopped := h.stopped
	h.mu.Unlock()

	// Workers are joined outside the lock: an in-flight job may still call
	// AddJob or ClearPendingJobs.
	for _, w := range workers {
		w.Stop()
	}
	h.ClearPendingJobs()
	close(stopped)

	h.metrics.setWorkers(0)
	h.logger.Info("job handler stopped", "workers", len(workers))
}

// AddJob submits a job. It is a no-op returning false while the handler
// is Stopped, since nothing would ever drain the job.
func (h *Handler) AddJob(category CategoryID, name string, priority Priority, task func()) bool {
	return h.add(func() bool {
		h.queue.Enqueue(category, name, priority, task)
		return true
	}, name, priority)
}

// AddJobAt is AddJob that also refuses the job when pending jobs were
// cleared since epoch was read with Epoch. Work that fans out over
// several jobs uses it so a clear cannot be followed by stragglers.
func (h *Handler) AddJobAt(epoch uint64, category CategoryID, name string, priority Priority, task func()) bool {
	return h.add(func() bool {
		_, ok := h.queue.EnqueueAt(epoch, category, name, priority, task)
		if !ok {
			h.logger.Debug("job dropped, pending jobs were cleared", "job", name)
		}
		return ok
	}, name, priority)
}

// Epoch identifies the current clear generation; see AddJobAt.
func (h *Handler) Epoch() uint64 {
	return h.queue.Epoch()
}

func (h *Handler) add(enqueue func() bool, name string, priority Priority) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.state != Running {
		h.metrics.jobDropped()
		h.logger.Debug("job dropped, handler stopped", "job", name)
		return false
	}
	if !enqueue() {
		h.metrics.jobDropped()
		return false
	}
	h.metrics.jobSubmitted(priority)
	return true
}

// WaitForCategory blocks until every job of category submitted so far has
// completed, ctx is done, or the handler is stopped. It returns
// immediately while Stopped. Being released by Stop is not an error.
//
// In cooperative mode the calling goroutine executes ready jobs itself
// while it waits.
func (h *Handler) WaitForCategory(ctx context.Context, category CategoryID) error {
	h.mu.RLock()
	if h.state != Running {
		h.mu.RUnlock()
		return nil
	}
	stopped := h.stopped
	h.mu.RUnlock()

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopped:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	var err error
	if h.IsCooperative() {
		err = h.queue.await(waitCtx, category, h.executeInline)
	} else {
		err = h.queue.WaitForCategory(waitCtx, category)
	}
	if err != nil && ctx.Err() == nil {
		return nil
	}
	return err
}

// HasPendingJobs reports whether category has jobs submitted but not yet
// completed.
func (h *Handler) HasPendingJobs(category CategoryID) bool {
	return h.queue.Pending(category) > 0
}

// ClearPendingJobs discards every job not yet started and releases any
// goroutine blocked in WaitForCategory. Returns the number of discarded
// jobs.
func (h *Handler) ClearPendingJobs() int {
	n := h.queue.Clear()
	h.metrics.jobsCleared(n)
	if n > 0 {
		h.logger.Info("pending jobs cleared", "count", n)
	}
	return n
}

// TryExecuteOne pops and runs at most one ready job on the calling
// goroutine. It reports whether a job ran. This is how the host drives
// execution in cooperative mode; it also works with a worker pool.
func (h *Handler) TryExecuteOne() bool {
	job, ok := h.queue.TryDequeue()
	if !ok {
		return false
	}
	h.executeInline(job)
	return true
}

// ExecuteAll runs ready jobs on the calling goroutine until the queue is
// empty. Returns the number of jobs executed.
func (h *Handler) ExecuteAll() int {
	n := 0
	for h.TryExecuteOne() {
		n++
	}
	return n
}

// UpdateWorkers reconciles the pool with the host's enabled state.
//
// In cooperative mode it first executes every ready job. Then, on a
// transition to disabled, the handler is stopped (which clears pending
// jobs); on a transition to enabled, workers are started again. The continue
// flag passed to Start tracks enabled.
func (h *Handler) UpdateWorkers(enabled bool) {
	if h.IsCooperative() && h.IsRunning() {
		h.ExecuteAll()
	}

	h.mu.RLock()
	flag := h.canContinue
	h.mu.RUnlock()

	running := h.IsRunning()
	switch {
	case running && !enabled:
		if flag != nil {
			flag.Store(false)
		}
		h.Stop()
	case !running && enabled:
		h.Start(flag)
	}
}

func (h *Handler) executeInline(job *Job) {
	execute(job, h.queue, h.metrics, h.logger.With("worker", "inline"))
}
