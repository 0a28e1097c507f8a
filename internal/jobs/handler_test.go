package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gents83/INOX-sub002/internal/logging"
	"github.com/gents83/INOX-sub002/internal/uid"
)

func newTestHandler(t *testing.T, workers int, opts ...HandlerOption) *Handler {
	t.Helper()
	opts = append([]HandlerOption{WithWorkers(workers), WithLogger(logging.Discard())}, opts...)
	h := NewHandler(opts...)
	t.Cleanup(h.Stop)
	return h
}

func waitFor(t *testing.T, h *Handler, category CategoryID) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.WaitForCategory(ctx, category))
}

func TestHandler_StartStop(t *testing.T) {
	h := newTestHandler(t, 3)
	assert.Equal(t, Stopped, h.State())

	var canContinue atomic.Bool
	h.Start(&canContinue)
	assert.Equal(t, Running, h.State())
	assert.True(t, canContinue.Load())
	assert.Equal(t, 3, h.Workers())

	h.Start(&canContinue)
	assert.Equal(t, 3, h.Workers(), "second start is a no-op")

	h.Stop()
	assert.Equal(t, Stopped, h.State())
	assert.Equal(t, 0, h.Workers())
	assert.Equal(t, "stopped", h.State().String())
}

func TestHandler_AddJob_Executes(t *testing.T) {
	h := newTestHandler(t, 2)
	h.Start(nil)

	var counter atomic.Int32
	ok := h.AddJob(IndependentJobID, "TestJob", High, func() { counter.Add(1) })
	require.True(t, ok)

	waitFor(t, h, IndependentJobID)
	assert.Equal(t, int32(1), counter.Load())
}

func TestHandler_AddJob_WhileStoppedIsNoop(t *testing.T) {
	h := newTestHandler(t, 2)

	var counter atomic.Int32
	ok := h.AddJob(IndependentJobID, "dropped", Medium, func() { counter.Add(1) })
	assert.False(t, ok)
	assert.Equal(t, 0, h.Queue().Len())
	assert.False(t, h.HasPendingJobs(IndependentJobID))

	// Waiting while stopped returns immediately.
	require.NoError(t, h.WaitForCategory(context.Background(), IndependentJobID))
}

func TestHandler_PriorityServedFirst(t *testing.T) {
	// A single worker is held busy while High and Low jobs queue up behind it.
	h := newTestHandler(t, 1)
	h.Start(nil)

	gate := make(chan struct{})
	h.AddJob(IndependentJobID, "blocker", Medium, func() { <-gate })

	var mu sync.Mutex
	var order []string
	record := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}
	h.AddJob(IndependentJobID, "low", Low, record("low"))
	h.AddJob(IndependentJobID, "high", High, record("high"))
	close(gate)

	waitFor(t, h, IndependentJobID)
	assert.Equal(t, []string{"high", "low"}, order)
}

func TestHandler_ThousandJobsExactlyOnce(t *testing.T) {
	h := newTestHandler(t, 4)
	h.Start(nil)

	const n = 1000
	var executions [n]atomic.Int32
	category := uid.FromString("stress")

	start := time.Now()
	for i := 0; i < n; i++ {
		i := i
		require.True(t, h.AddJob(category, "stress", Medium, func() { executions[i].Add(1) }))
	}
	waitFor(t, h, category)

	assert.Less(t, time.Since(start), 5*time.Second)
	for i := range executions {
		assert.Equal(t, int32(1), executions[i].Load(), "job %d", i)
	}
}

func TestHandler_GracefulStop(t *testing.T) {
	h := newTestHandler(t, 1)
	h.Start(nil)

	started := make(chan struct{})
	var finished atomic.Bool
	h.AddJob(IndependentJobID, "in-flight", Medium, func() {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	})

	<-started
	h.Stop()

	assert.True(t, finished.Load(), "in-flight job must complete before stop returns")
	assert.Equal(t, 0, h.Workers())
}

func TestHandler_StopDiscardsQueuedJobs(t *testing.T) {
	h := newTestHandler(t, 1)
	h.Start(nil)

	gate := make(chan struct{})
	started := make(chan struct{})
	h.AddJob(IndependentJobID, "blocker", Medium, func() {
		close(started)
		<-gate
	})
	var ran atomic.Bool
	h.AddJob(IndependentJobID, "queued", Low, func() { ran.Store(true) })
	<-started

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(gate)
	}()
	h.Stop()

	assert.Equal(t, 0, h.Queue().Len())
	assert.Equal(t, 0, h.Queue().Pending(IndependentJobID))

	h.Start(nil)
	waitFor(t, h, IndependentJobID)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, ran.Load(), "a job discarded by Stop never runs")
}

func TestHandler_StopReleasesWaiterAfterInFlightJob(t *testing.T) {
	h := newTestHandler(t, 1)
	h.Start(nil)

	category := uid.FromString("in-flight")
	started := make(chan struct{})
	var finished atomic.Bool
	h.AddJob(category, "slow", Medium, func() {
		close(started)
		time.Sleep(60 * time.Millisecond)
		finished.Store(true)
	})
	<-started

	released := make(chan bool)
	go func() {
		_ = h.WaitForCategory(context.Background(), category)
		released <- finished.Load()
	}()
	time.Sleep(10 * time.Millisecond)
	h.Stop()

	select {
	case done := <-released:
		assert.True(t, done, "waiters are released only after the running job finished")
	case <-time.After(time.Second):
		t.Fatal("stop did not release the waiter")
	}
}

func TestHandler_AddJobAt(t *testing.T) {
	h := newTestHandler(t, 1)
	h.Start(nil)

	category := uid.FromString("epoch")
	epoch := h.Epoch()
	var ran atomic.Int32
	require.True(t, h.AddJobAt(epoch, category, "current", Medium, func() { ran.Add(1) }))
	waitFor(t, h, category)
	assert.Equal(t, int32(1), ran.Load())

	h.ClearPendingJobs()
	assert.Equal(t, epoch+1, h.Epoch())
	assert.False(t, h.AddJobAt(epoch, category, "stale", Medium, func() { ran.Add(1) }))
	assert.False(t, h.HasPendingJobs(category))

	h.Stop()
	assert.False(t, h.AddJobAt(h.Epoch(), category, "stopped", Medium, func() { ran.Add(1) }))
	assert.Equal(t, int32(1), ran.Load())
}

func TestHandler_ClearPendingJobs(t *testing.T) {
	h := newTestHandler(t, 1)
	h.Start(nil)

	category := uid.FromString("clear")
	gate := make(chan struct{})
	started := make(chan struct{})
	h.AddJob(category, "blocker", High, func() {
		close(started)
		<-gate
	})
	<-started

	var late atomic.Int32
	for i := 0; i < 10; i++ {
		h.AddJob(category, "late", Low, func() { late.Add(1) })
	}

	waitDone := make(chan error)
	go func() {
		waitDone <- h.WaitForCategory(context.Background(), category)
	}()
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, 10, h.ClearPendingJobs())

	select {
	case err := <-waitDone:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("clear did not release the waiter")
	}

	close(gate)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), late.Load(), "cleared jobs never run")
}

func TestHandler_PanicDoesNotShrinkPool(t *testing.T) {
	h := newTestHandler(t, 1)
	h.Start(nil)

	category := uid.FromString("panics")
	h.AddJob(category, "boom", Medium, func() { panic("boom") })
	waitFor(t, h, category)

	var ran atomic.Bool
	h.AddJob(category, "after", Medium, func() { ran.Store(true) })
	waitFor(t, h, category)

	assert.True(t, ran.Load(), "the worker survives a panicking job")
	assert.Equal(t, 1, h.Workers())
}

func TestHandler_JobSubmitsJob(t *testing.T) {
	h := newTestHandler(t, 2)
	h.Start(nil)

	category := uid.FromString("chain")
	var second atomic.Bool
	h.AddJob(category, "first", Medium, func() {
		h.AddJob(category, "second", Medium, func() {
			time.Sleep(10 * time.Millisecond)
			second.Store(true)
		})
	})

	waitFor(t, h, category)
	assert.True(t, second.Load(), "barrier covers jobs submitted by jobs of the same category")
}

func TestHandler_Cooperative_TryExecuteOne(t *testing.T) {
	h := newTestHandler(t, 0)
	h.Start(nil)
	assert.True(t, h.IsCooperative())
	assert.Equal(t, 0, h.Workers())

	var order []string
	h.AddJob(IndependentJobID, "low", Low, func() { order = append(order, "low") })
	h.AddJob(IndependentJobID, "high", High, func() { order = append(order, "high") })

	assert.True(t, h.TryExecuteOne())
	assert.Equal(t, []string{"high"}, order)
	assert.True(t, h.TryExecuteOne())
	assert.False(t, h.TryExecuteOne())
	assert.Equal(t, []string{"high", "low"}, order)
}

func TestHandler_Cooperative_WaitRunsInline(t *testing.T) {
	h := newTestHandler(t, 0)
	h.Start(nil)

	category := uid.FromString("coop")
	var counter int
	for i := 0; i < 5; i++ {
		h.AddJob(category, "inline", Medium, func() { counter++ })
	}
	h.AddJob(IndependentJobID, "background", Low, func() {})

	waitFor(t, h, category)
	assert.Equal(t, 5, counter)
}

func TestHandler_UpdateWorkers(t *testing.T) {
	h := newTestHandler(t, 2)
	var canContinue atomic.Bool
	h.Start(&canContinue)

	h.UpdateWorkers(true)
	assert.True(t, h.IsRunning())

	h.UpdateWorkers(false)
	assert.False(t, h.IsRunning())
	assert.False(t, canContinue.Load())
	assert.Equal(t, 0, h.Workers())

	h.UpdateWorkers(true)
	assert.True(t, h.IsRunning())
	assert.True(t, canContinue.Load())
	assert.Equal(t, 2, h.Workers())
}

func TestHandler_UpdateWorkers_CooperativeDrains(t *testing.T) {
	h := newTestHandler(t, 0)
	h.Start(nil)

	var ran atomic.Int32
	for i := 0; i < 3; i++ {
		h.AddJob(IndependentJobID, "bg", Low, func() { ran.Add(1) })
	}
	h.UpdateWorkers(true)
	assert.Equal(t, int32(3), ran.Load())
}

func TestHandler_Metrics(t *testing.T) {
	m := NewMetrics("test")
	h := newTestHandler(t, 1, WithMetrics(m))
	assert.Same(t, m, h.Metrics())

	h.AddJob(IndependentJobID, "dropped", Medium, noop)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.dropped))

	h.Start(nil)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.workers))

	category := uid.FromString("metrics")
	h.AddJob(category, "ok", High, noop)
	h.AddJob(category, "boom", Low, func() { panic("boom") })
	waitFor(t, h, category)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.submitted.WithLabelValues("high")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.executed.WithLabelValues("low")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.panicked))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.depth))

	h.Stop()
	assert.Equal(t, float64(0), testutil.ToFloat64(m.workers))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.Nil(t, m.Registry())
	m.jobSubmitted(High)
	m.jobStarted()
	m.jobFinished(High, time.Millisecond, true)
	m.jobsCleared(3)
	m.jobDropped()
	m.setWorkers(2)
}

func TestMetrics_Registry(t *testing.T) {
	m := NewMetrics("")
	families, err := m.Registry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["inox_jobs_queue_depth"])
	assert.True(t, names["inox_jobs_workers"])
}

func TestClampWorkers(t *testing.T) {
	assert.Equal(t, 1, clampWorkers(0))
	assert.Equal(t, 1, clampWorkers(-3))
	assert.Equal(t, 4, clampWorkers(4))
	assert.Equal(t, MaxPlatformWorkers, clampWorkers(1000))
	assert.GreaterOrEqual(t, PlatformWorkers(), 1)
}

func TestWithWorkers_NegativeUsesPlatform(t *testing.T) {
	h := NewHandler(WithWorkers(-1))
	assert.Equal(t, PlatformWorkers(), h.Size())
}

func TestHandler_StopReleasesWaiters(t *testing.T) {
	h := newTestHandler(t, 1)
	h.Start(nil)

	category := uid.FromString("release")
	gate := make(chan struct{})
	started := make(chan struct{})
	h.AddJob(category, "blocker", Medium, func() {
		close(started)
		<-gate
	})
	h.AddJob(category, "queued", Low, noop)
	<-started

	done := make(chan error)
	go func() {
		done <- h.WaitForCategory(context.Background(), category)
	}()
	time.Sleep(10 * time.Millisecond)

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(gate)
	}()
	h.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("stop did not release the waiter")
	}
}
