package jobs

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"
)

// Worker is a goroutine that repeatedly dequeues the next ready job and
// executes it.
type Worker struct {
	name    string
	queue   *Queue
	metrics *Metrics
	logger  *slog.Logger

	stopping atomic.Bool
	done     chan struct{}
	started  atomic.Bool
}

// NewWorker creates an idle worker draining q.
func NewWorker(name string, q *Queue, metrics *Metrics, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		name:    name,
		queue:   q,
		metrics: metrics,
		logger:  logger.With("worker", name),
	}
}

// Name returns the worker's name.
func (w *Worker) Name() string {
	return w.name
}

// IsStarted reports whether Start was called and Stop has not completed.
// It is safe to call from any goroutine.
func (w *Worker) IsStarted() bool {
	return w.started.Load()
}

// Start spawns the worker goroutine. Calling Start on a started worker
// does nothing. Start and Stop must not be called concurrently.
func (w *Worker) Start() {
	if w.started.Load() {
		return
	}
	w.started.Store(true)
	w.stopping.Store(false)
	w.done = make(chan struct{})

	go w.loop()
}

// Stop asks the worker to exit and waits for it. A job in flight when Stop
// is called completes first.
func (w *Worker) Stop() {
	if !w.started.Load() {
		return
	}
	w.stopping.Store(true)
	w.queue.Wake()
	<-w.done
	w.started.Store(false)
}

func (w *Worker) loop() {
	defer close(w.done)
	w.logger.Debug("worker started")

	for {
		job, ok := w.queue.Dequeue(&w.stopping)
		if !ok {
			w.logger.Debug("worker stopped")
			return
		}
		execute(job, w.queue, w.metrics, w.logger)
	}
}

// execute runs job, recovering a panic at the job boundary, then completes
// it on q. It reports whether the task panicked.
func execute(job *Job, q *Queue, metrics *Metrics, logger *slog.Logger) (panicked bool) {
	metrics.jobStarted()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			panicked = true
			logger.Error("job panicked",
				"job", job.Name,
				"category", job.Category.Short(),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
		metrics.jobFinished(job.Priority, time.Since(start), panicked)
		q.Complete(job)
	}()

	job.run()
	return false
}
