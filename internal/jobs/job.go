package jobs

import (
	"fmt"
	"strings"
	"time"

	"github.com/gents83/INOX-sub002/internal/uid"
)

// CategoryID groups related jobs for collective wait and clear operations.
type CategoryID = uid.UID

// IndependentJobID is the category for fire-and-forget jobs that are not
// tied to any phase barrier.
var IndependentJobID = uid.FromString("IndependentJob")

// Priority orders ready jobs. Lower values are serviced first.
type Priority int

const (
	// High is used for latency sensitive work (rendering, input).
	High Priority = iota
	// Medium is the default priority of scheduled systems.
	Medium
	// Low is used for background work such as asset loading.
	Low

	priorityCount
)

// Priorities lists every priority from highest to lowest.
var Priorities = []Priority{High, Medium, Low}

// String returns the lowercase name of p.
func (p Priority) String() string {
	switch p {
	case High:
		return "high"
	case Medium:
		return "medium"
	case Low:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Valid reports whether p is one of High, Medium or Low.
func (p Priority) Valid() bool {
	return p >= High && p < priorityCount
}

// ParsePriority converts "high", "medium" or "low" (any case) to a Priority.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(s) {
	case "high":
		return High, nil
	case "medium", "":
		return Medium, nil
	case "low":
		return Low, nil
	default:
		return Medium, fmt.Errorf("unknown job priority %q", s)
	}
}

// Job is a named, prioritized, categorized unit of deferred work.
//
// A job's task runs at most once: by exactly one worker, by the caller of
// TryExecuteOne, or never if the job is cleared first.
type Job struct {
	Category CategoryID
	Name     string
	Priority Priority

	seq      uint64 // submission order, FIFO tie-break within a tier
	epoch    uint64 // queue epoch at submission, see Queue.Clear
	enqueued time.Time
	task     func()
}

// Seq returns the job's submission sequence number.
func (j *Job) Seq() uint64 {
	return j.seq
}

// Enqueued returns the time the job entered the queue.
func (j *Job) Enqueued() time.Time {
	return j.enqueued
}

// run executes the task once. Subsequent calls do nothing.
func (j *Job) run() {
	task := j.task
	j.task = nil
	if task != nil {
		task()
	}
}
