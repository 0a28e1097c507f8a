package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Queue is a thread-safe, priority-ordered multi-producer/multi-consumer
// queue of jobs with per-category pending counters.
//
// Every mutation goes through mu. Two condition variables share it:
// ready wakes workers when a job arrives or a worker is told to stop,
// changed wakes category waiters when a counter drops or the queue is
// cleared.
type Queue struct {
	mu      sync.Mutex
	ready   *sync.Cond
	changed *sync.Cond

	tiers   [priorityCount][]*Job
	size    int
	pending map[CategoryID]int
	seq     uint64
	epoch   uint64
	helpers int // cooperative waiters that also want to hear about new jobs
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	q := &Queue{
		pending: make(map[CategoryID]int),
	}
	for p := range q.tiers {
		q.tiers[p] = make([]*Job, 0, 16)
	}
	q.ready = sync.NewCond(&q.mu)
	q.changed = sync.NewCond(&q.mu)
	return q
}

// Enqueue inserts a job, increments its category's pending counter and
// wakes one waiting worker. It never fails. An out-of-range priority is
// treated as Low.
func (q *Queue) Enqueue(category CategoryID, name string, priority Priority, task func()) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enqueueLocked(category, name, priority, task)
}

// EnqueueAt inserts a job only if the queue has not been cleared since
// epoch was read with Epoch. It reports whether the job was accepted.
func (q *Queue) EnqueueAt(epoch uint64, category CategoryID, name string, priority Priority, task func()) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if epoch != q.epoch {
		return nil, false
	}
	return q.enqueueLocked(category, name, priority, task), true
}

// Epoch returns the number of times the queue has been cleared.
func (q *Queue) Epoch() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.epoch
}

func (q *Queue) enqueueLocked(category CategoryID, name string, priority Priority, task func()) *Job {
	if !priority.Valid() {
		priority = Low
	}
	q.seq++
	job := &Job{
		Category: category,
		Name:     name,
		Priority: priority,
		seq:      q.seq,
		epoch:    q.epoch,
		enqueued: time.Now(),
		task:     task,
	}
	q.tiers[priority] = append(q.tiers[priority], job)
	q.size++
	q.pending[category]++

	q.ready.Signal()
	if q.helpers > 0 {
		q.changed.Broadcast()
	}
	return job
}

// Dequeue blocks until a job is available or stop is set, and returns the
// oldest job of the highest non-empty priority tier.
// Returns (nil, false) once stop is observed.
//
// stop must be set before calling Wake, otherwise a blocked caller may not
// observe it.
func (q *Queue) Dequeue(stop *atomic.Bool) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if stop != nil && stop.Load() {
			return nil, false
		}
		if job := q.popLocked(); job != nil {
			return job, true
		}
		q.ready.Wait()
	}
}

// TryDequeue pops the next job without blocking.
// Returns (nil, false) if the queue is empty.
func (q *Queue) TryDequeue() (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job := q.popLocked()
	return job, job != nil
}

// Wake wakes every goroutine blocked in Dequeue so it can re-check its stop
// flag.
func (q *Queue) Wake() {
	q.mu.Lock()
	q.ready.Broadcast()
	q.mu.Unlock()
}

// Complete marks job as finished: the pending counter of its category is
// decremented and, when it reaches zero, category waiters are woken.
// Jobs submitted before the last Clear do not touch the counters.
func (q *Queue) Complete(job *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job.epoch != q.epoch {
		return
	}
	n := q.pending[job.Category] - 1
	if n > 0 {
		q.pending[job.Category] = n
		return
	}
	delete(q.pending, job.Category)
	q.changed.Broadcast()
}

// Pending returns the number of jobs of category submitted but not yet
// completed.
func (q *Queue) Pending(category CategoryID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending[category]
}

// Len returns the number of jobs waiting to start.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// WaitForCategory blocks until the pending counter of category is zero or
// ctx is done.
func (q *Queue) WaitForCategory(ctx context.Context, category CategoryID) error {
	return q.await(ctx, category, nil)
}

// await blocks until category has drained. When run is non-nil the caller
// also executes ready jobs inline while waiting (cooperative mode).
func (q *Queue) await(ctx context.Context, category CategoryID, run func(*Job)) error {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.changed.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	if run != nil {
		q.helpers++
		defer func() { q.helpers-- }()
	}

	for q.pending[category] > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if run != nil {
			if job := q.popLocked(); job != nil {
				q.mu.Unlock()
				run(job)
				q.mu.Lock()
				continue
			}
		}
		q.changed.Wait()
	}
	return nil
}

// Clear discards every job not yet started, resets all pending counters to
// zero and releases category waiters. Returns the number of discarded jobs.
//
// Jobs already running keep running; their completion is ignored because
// the queue epoch moves forward.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	discarded := q.size
	for p := range q.tiers {
		clear(q.tiers[p])
		q.tiers[p] = q.tiers[p][:0]
	}
	q.size = 0
	clear(q.pending)
	q.epoch++
	q.changed.Broadcast()
	return discarded
}

// popLocked removes the oldest job of the highest non-empty tier.
// Caller must hold mu.
func (q *Queue) popLocked() *Job {
	for p := range q.tiers {
		tier := q.tiers[p]
		if len(tier) == 0 {
			continue
		}
		job := tier[0]

		// Nil out the slot so the backing array does not keep the task alive.
		tier[0] = nil
		if len(tier) == 1 {
			q.tiers[p] = tier[:0]
		} else {
			q.tiers[p] = tier[1:]
		}
		q.size--
		return job
	}
	return nil
}
