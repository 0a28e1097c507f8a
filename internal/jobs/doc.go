// Package jobs implements the job queue and worker pool that execute the
// scheduler's systems and any background work submitted by collaborators.
//
// ARCHITECTURE:
//
// Queue:
// One mutex guards every tier of the queue and the per-category pending
// counters. Dequeue always returns the oldest job of the highest non-empty
// priority tier (High > Medium > Low, FIFO within a tier).
//
// Categories:
// Every job belongs to a category (a uid.UID). A category's pending counter
// counts jobs submitted but not yet completed. WaitForCategory blocks on a
// condition variable until the counter reaches zero: this is the barrier
// the scheduler uses between phases. IndependentJobID is the category for
// fire-and-forget work nobody waits on.
//
// Workers:
// A Handler owns a pool of goroutine workers, sized by platform policy
// (PlatformWorkers) unless configured. Each worker loops Dequeue → execute →
// complete. Stop is graceful: a worker finishes its in-flight job before
// exiting. A pool of zero workers is the cooperative mode: the caller drives
// execution with TryExecuteOne, and WaitForCategory runs ready jobs inline
// instead of sleeping.
//
// Panics:
// A job that panics is recovered at the execution boundary, logged and
// counted. Its category is still completed, so barriers never deadlock and
// the pool never shrinks.
//
// Clearing:
// ClearPendingJobs discards every job not yet started and resets all pending
// counters, releasing waiters. Jobs already running finish; their completion
// no longer touches the counters (queue epochs).
package jobs
