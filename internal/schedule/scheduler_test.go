package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gents83/INOX-sub002/internal/jobs"
	"github.com/gents83/INOX-sub002/internal/logging"
	"github.com/gents83/INOX-sub002/internal/uid"
)

// eventLog collects ordered lifecycle events from fake systems.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// fakeSystem is a configurable system identified by name.
type fakeSystem struct {
	name      string
	unfocused bool
	fail      bool
	work      func()
	log       *eventLog
	configErr error

	runs    atomic.Int32
	plugin  string
	started time.Time
	ended   time.Time
}

func newFake(name string, log *eventLog) *fakeSystem {
	return &fakeSystem{name: name, log: log}
}

func (p *fakeSystem) Name() string { return p.name }
func (p *fakeSystem) SystemUID() SystemUID { return uid.FromString("fake/" + p.name) }
func (p *fakeSystem) ShouldRunWhenNotFocused() bool { return p.unfocused }
func (p *fakeSystem) Init() { p.log.add("init " + p.name) }
func (p *fakeSystem) Uninit() { p.log.add("uninit " + p.name) }

func (p *fakeSystem) ReadConfig(plugin string) error {
	p.plugin = plugin
	p.log.add("config " + p.name)
	return p.configErr
}

func (p *fakeSystem) Run() bool {
	p.started = time.Now()
	p.runs.Add(1)
	if p.work != nil {
		p.work()
	}
	p.log.add("run " + p.name)
	p.ended = time.Now()
	return !p.fail
}

// typedSystem has no identity override: its SystemUID is its Go type.
type typedSystem struct{ runs atomic.Int32 }

func (*typedSystem) ReadConfig(string) error { return nil }
func (*typedSystem) ShouldRunWhenNotFocused() bool { return false }
func (*typedSystem) Init() {}
func (s *typedSystem) Run() bool {
	s.runs.Add(1)
	return true
}
func (*typedSystem) Uninit() {}

func newTestScheduler(t *testing.T, opts ...Option) *Scheduler {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	return NewWithDefaultPhases(opts...)
}

func newRunningHandler(t *testing.T, workers int) *jobs.Handler {
	t.Helper()
	h := jobs.NewHandler(jobs.WithWorkers(workers), jobs.WithLogger(logging.Discard()))
	h.Start(nil)
	t.Cleanup(h.Stop)
	return h
}

func mustAdd(t *testing.T, s *Scheduler, phase string, sys System, deps ...SystemUID) SystemUID {
	t.Helper()
	id, err := s.AddSystem(phase, sys, deps)
	require.NoError(t, err)
	return id
}

func runTick(t *testing.T, s *Scheduler, enabled bool, h *jobs.Handler) bool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.RunOnce(ctx, enabled, h)
}

func TestScheduler_DefaultPhases(t *testing.T) {
	s := newTestScheduler(t)
	assert.Equal(t, DefaultPhases(), s.PhaseNames())
	assert.Equal(t, Uninitialized, s.State())
	assert.True(t, s.IsRunning())
}

func TestNewWithPhases(t *testing.T) {
	s, err := NewWithPhases([]string{"Input", "Simulate"}, WithLogger(logging.Discard()))
	require.NoError(t, err)
	assert.Equal(t, []string{"Input", "Simulate"}, s.PhaseNames())

	_, err = NewWithPhases([]string{"Input", "Input"})
	assert.True(t, HasCode(err, ErrCodeDuplicatePhase))
}

func TestScheduler_PhaseBarrier(t *testing.T) {
	s := newTestScheduler(t)
	h := newRunningHandler(t, 4)

	var slowDone atomic.Bool
	slow := newFake("slow", nil)
	slow.work = func() {
		time.Sleep(100 * time.Millisecond)
		slowDone.Store(true)
	}
	var sawSlowDone atomic.Bool
	next := newFake("next", nil)
	next.work = func() { sawSlowDone.Store(slowDone.Load()) }

	mustAdd(t, s, PhaseUpdate, slow)
	mustAdd(t, s, PhaseRender, next)
	s.Start()

	assert.True(t, runTick(t, s, true, h))
	assert.True(t, sawSlowDone.Load(), "a later phase starts only after the earlier phase drained")
	assert.Equal(t, int32(1), slow.runs.Load())
	assert.Equal(t, int32(1), next.runs.Load())
}

func TestScheduler_DependencyOrdering(t *testing.T) {
	s := newTestScheduler(t)
	h := newRunningHandler(t, 4)

	a := newFake("a", nil)
	a.work = func() { time.Sleep(30 * time.Millisecond) }
	b := newFake("b", nil)
	b.work = func() { time.Sleep(10 * time.Millisecond) }
	c := newFake("c", nil)
	d := newFake("d", nil)

	idA := mustAdd(t, s, PhaseUpdate, a)
	idB := mustAdd(t, s, PhaseUpdate, b, idA)
	idC := mustAdd(t, s, PhaseUpdate, c, idA)
	mustAdd(t, s, PhaseUpdate, d, idB, idC)
	s.Start()

	for i := 0; i < 5; i++ {
		require.True(t, runTick(t, s, true, h))
		assert.False(t, b.started.Before(a.ended), "b runs after a")
		assert.False(t, c.started.Before(a.ended), "c runs after a")
		assert.False(t, d.started.Before(b.ended), "d runs after b")
		assert.False(t, d.started.Before(c.ended), "d runs after c")
	}
	assert.Equal(t, int32(5), d.runs.Load())
}

func TestScheduler_UnfocusedSkipsSystems(t *testing.T) {
	s := newTestScheduler(t)
	h := newRunningHandler(t, 2)

	focusOnly := newFake("focus-only", nil)
	always := newFake("always", nil)
	always.unfocused = true

	mustAdd(t, s, PhaseUpdate, focusOnly)
	mustAdd(t, s, PhaseUpdate, always)
	s.Start()

	require.True(t, runTick(t, s, false, h))
	assert.Equal(t, int32(0), focusOnly.runs.Load())
	assert.Equal(t, int32(1), always.runs.Load())

	require.True(t, runTick(t, s, true, h))
	assert.Equal(t, int32(1), focusOnly.runs.Load())
	assert.Equal(t, int32(2), always.runs.Load())
}

func TestScheduler_SkippedDependencyCountsAsResolved(t *testing.T) {
	s := newTestScheduler(t)

	dep := newFake("dep", nil)
	child := newFake("child", nil)
	child.unfocused = true

	idDep := mustAdd(t, s, PhaseUpdate, dep)
	mustAdd(t, s, PhaseUpdate, child, idDep)
	s.Start()

	require.True(t, runTick(t, s, false, newRunningHandler(t, 2)))
	assert.Equal(t, int32(0), dep.runs.Load())
	assert.Equal(t, int32(1), child.runs.Load())
}

func TestScheduler_ResultsAreAnded(t *testing.T) {
	s := newTestScheduler(t)
	h := newRunningHandler(t, 2)

	ok := newFake("ok", nil)
	stop := newFake("stop", nil)
	stop.fail = true
	later := newFake("later", nil)

	mustAdd(t, s, PhaseUpdate, ok)
	mustAdd(t, s, PhaseUpdate, stop)
	mustAdd(t, s, PhaseRender, later)
	s.Start()

	assert.False(t, runTick(t, s, true, h))
	assert.Equal(t, int32(1), later.runs.Load(), "remaining phases still run")
}

func TestScheduler_PanicReleasesDependents(t *testing.T) {
	s := newTestScheduler(t)
	h := newRunningHandler(t, 2)

	boom := newFake("boom", nil)
	boom.work = func() { panic("boom") }
	child := newFake("child", nil)

	idBoom := mustAdd(t, s, PhaseUpdate, boom)
	mustAdd(t, s, PhaseUpdate, child, idBoom)
	s.Start()

	assert.False(t, runTick(t, s, true, h))
	assert.Equal(t, int32(1), child.runs.Load())
	assert.Equal(t, 2, h.Workers())
}

func TestScheduler_CooperativeHandler(t *testing.T) {
	s := newTestScheduler(t)
	h := newRunningHandler(t, 0)
	log := &eventLog{}

	a := newFake("a", log)
	b := newFake("b", log)
	idA := mustAdd(t, s, PhaseUpdate, a)
	mustAdd(t, s, PhaseUpdate, b, idA)
	s.Start()

	require.True(t, runTick(t, s, true, h))
	assert.Equal(t, []string{"init a", "init b", "run a", "run b"}, log.snapshot())
}

func TestScheduler_NilOrStoppedHandlerRunsInline(t *testing.T) {
	for name, h := range map[string]*jobs.Handler{
		"nil":     nil,
		"stopped": jobs.NewHandler(jobs.WithWorkers(2), jobs.WithLogger(logging.Discard())),
	} {
		t.Run(name, func(t *testing.T) {
			s := newTestScheduler(t)
			log := &eventLog{}
			a := newFake("a", log)
			b := newFake("b", log)
			idA := mustAdd(t, s, PhaseUpdate, a)
			mustAdd(t, s, PhaseUpdate, b, idA)
			s.Start()

			require.True(t, runTick(t, s, true, h))
			assert.Equal(t, []string{"init a", "init b", "run a", "run b"}, log.snapshot())
		})
	}
}

func TestScheduler_RunOnceBeforeStart(t *testing.T) {
	s := newTestScheduler(t)
	a := newFake("a", nil)
	mustAdd(t, s, PhaseUpdate, a)

	assert.True(t, runTick(t, s, true, nil))
	assert.Equal(t, int32(0), a.runs.Load())

	s.Cancel()
	assert.False(t, runTick(t, s, true, nil))
}

func TestScheduler_CancelResume(t *testing.T) {
	s := newTestScheduler(t)
	a := newFake("a", nil)
	mustAdd(t, s, PhaseUpdate, a)
	s.Start()

	s.Cancel()
	assert.False(t, runTick(t, s, true, nil))
	assert.Equal(t, int32(1), a.runs.Load(), "a cancelled scheduler still ticks")

	s.Resume()
	assert.True(t, runTick(t, s, true, nil))
	assert.Equal(t, uint64(2), s.Ticks())
}

func TestScheduler_ContextCancelledDuringTick(t *testing.T) {
	s := newTestScheduler(t)
	h := newRunningHandler(t, 1)

	gate := make(chan struct{})
	blocker := newFake("blocker", nil)
	blocker.work = func() { <-gate }
	later := newFake("later", nil)
	mustAdd(t, s, PhaseUpdate, blocker)
	mustAdd(t, s, PhaseRender, later)
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	go func() {
		time.Sleep(80 * time.Millisecond)
		close(gate)
	}()
	assert.False(t, s.RunOnce(ctx, true, h))
	assert.False(t, blocker.ended.IsZero(), "the running system finishes before RunOnce returns")
	assert.Equal(t, int32(0), later.runs.Load())
}

func TestScheduler_Lifecycle(t *testing.T) {
	s := newTestScheduler(t)
	log := &eventLog{}

	a := newFake("a", log)
	b := newFake("b", log)
	c := newFake("c", log)
	idA := mustAdd(t, s, PhaseUpdate, a)
	mustAdd(t, s, PhaseUpdate, b, idA)
	mustAdd(t, s, PhaseRender, c)
	assert.Empty(t, log.snapshot(), "init waits for Start")

	s.Start()
	s.Start()
	assert.Equal(t, Initialized, s.State())

	late := newFake("late", log)
	mustAdd(t, s, PhasePreUpdate, late)

	s.Uninit()
	assert.Equal(t, []string{
		"init a", "init b", "init c", "init late",
		"uninit c", "uninit b", "uninit a", "uninit late",
	}, log.snapshot())
	assert.Equal(t, Uninitialized, s.State())
	assert.Equal(t, DefaultPhases(), s.PhaseNames(), "phases survive uninit")

	infos, err := s.Systems(PhaseUpdate)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestScheduler_RemoveSystem(t *testing.T) {
	s := newTestScheduler(t)
	log := &eventLog{}

	a := newFake("a", log)
	b := newFake("b", log)
	idA := mustAdd(t, s, PhaseUpdate, a)
	idB := mustAdd(t, s, PhaseUpdate, b, idA)
	s.Start()

	err := s.RemoveSystem(PhaseUpdate, idA)
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeHasDependents))

	require.NoError(t, s.RemoveSystem(PhaseUpdate, idB))
	require.NoError(t, s.RemoveSystem(PhaseUpdate, idA))
	assert.Equal(t, []string{"init a", "init b", "uninit b", "uninit a"}, log.snapshot())

	err = s.RemoveSystem(PhaseUpdate, idA)
	assert.True(t, HasCode(err, ErrCodeUnknownSystem))
	err = s.RemoveSystem("Nope", idA)
	assert.True(t, HasCode(err, ErrCodeUnknownPhase))
}

func TestScheduler_AddSystemErrors(t *testing.T) {
	s := newTestScheduler(t)

	a := newFake("a", nil)
	idA := mustAdd(t, s, PhaseUpdate, a)

	t.Run("duplicate", func(t *testing.T) {
		_, err := s.AddSystem(PhaseUpdate, newFake("a", nil), nil)
		assert.True(t, IsDuplicateError(err))
	})
	t.Run("same type in another phase", func(t *testing.T) {
		_, err := s.AddSystem(PhaseRender, newFake("a", nil), nil)
		assert.NoError(t, err)
	})
	t.Run("unknown dependency", func(t *testing.T) {
		_, err := s.AddSystem(PhaseUpdate, newFake("b", nil), []SystemUID{uid.FromString("missing")})
		assert.True(t, IsUnknownDependencyError(err))
	})
	t.Run("dependency in another phase", func(t *testing.T) {
		_, err := s.AddSystem(PhasePostUpdate, newFake("c", nil), []SystemUID{idA})
		assert.True(t, IsUnknownDependencyError(err))
	})
	t.Run("self dependency", func(t *testing.T) {
		self := newFake("self", nil)
		_, err := s.AddSystem(PhaseUpdate, self, []SystemUID{self.SystemUID()})
		require.True(t, IsCycleError(err))
		var ce *ConfigError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, "self → self", ce.Details["path"])
	})
	t.Run("unknown phase", func(t *testing.T) {
		_, err := s.AddSystem("Nope", newFake("d", nil), nil)
		assert.True(t, HasCode(err, ErrCodeUnknownPhase))
	})
	t.Run("nil system", func(t *testing.T) {
		_, err := s.AddSystem(PhaseUpdate, nil, nil)
		assert.True(t, HasCode(err, ErrCodeInvalidSystem))
	})

	infos, err := s.Systems(PhaseUpdate)
	require.NoError(t, err)
	require.Len(t, infos, 1, "failed registrations leave the phase untouched")
	assert.Empty(t, infos[0].Dependents)
}

func TestScheduler_DuplicateDependenciesCollapse(t *testing.T) {
	s := newTestScheduler(t)
	idA := mustAdd(t, s, PhaseUpdate, newFake("a", nil))
	mustAdd(t, s, PhaseUpdate, newFake("b", nil), idA, idA)

	infos, err := s.Systems(PhaseUpdate)
	require.NoError(t, err)
	assert.Equal(t, []SystemUID{idA}, infos[1].Dependencies)
	assert.Len(t, infos[0].Dependents, 1)
}

func TestScheduler_TypeIdentity(t *testing.T) {
	s := newTestScheduler(t)
	id := mustAdd(t, s, PhaseUpdate, &typedSystem{})
	assert.Equal(t, UIDFor[*typedSystem](), id)

	_, err := s.AddSystem(PhaseUpdate, &typedSystem{}, nil)
	assert.True(t, IsDuplicateError(err), "two instances of one type share an identity")

	found, ok := Find[*typedSystem](s)
	require.True(t, ok)
	s.Start()
	require.True(t, runTick(t, s, true, nil))
	assert.Equal(t, int32(1), found.runs.Load())

	_, ok = Find[*fakeSystem](s)
	assert.False(t, ok)
}

func TestScheduler_PhaseManagement(t *testing.T) {
	s := New(WithLogger(logging.Discard()))
	require.NoError(t, s.AddPhase("B"))
	require.NoError(t, s.AddPhaseBefore("B", "A"))
	require.NoError(t, s.AddPhaseAfter("B", "D"))
	require.NoError(t, s.AddPhaseAfter("B", "C"))
	assert.Equal(t, []string{"A", "B", "C", "D"}, s.PhaseNames())

	assert.True(t, IsDuplicateError(s.AddPhase("C")))
	assert.True(t, HasCode(s.AddPhaseAfter("X", "E"), ErrCodeUnknownPhase))
	assert.True(t, HasCode(s.AddPhaseBefore("X", "E"), ErrCodeUnknownPhase))
	assert.Error(t, s.AddPhase(""))

	log := &eventLog{}
	mustAdd(t, s, "C", newFake("c", log))
	s.Start()
	require.NoError(t, s.RemovePhase("C"))
	assert.Equal(t, []string{"A", "B", "D"}, s.PhaseNames())
	assert.Equal(t, []string{"init c", "uninit c"}, log.snapshot())
	assert.True(t, HasCode(s.RemovePhase("C"), ErrCodeUnknownPhase))
}

func TestScheduler_PhasesRunInOrder(t *testing.T) {
	s := newTestScheduler(t)
	h := newRunningHandler(t, 4)
	log := &eventLog{}

	// Registered out of order on purpose.
	for _, phase := range []string{PhasePostRender, PhaseUpdate, PhasePreUpdate, PhaseRender} {
		mustAdd(t, s, phase, newFake(phase, log))
	}
	s.Start()
	require.True(t, runTick(t, s, true, h))

	var runs []string
	for _, e := range log.snapshot() {
		if len(e) > 4 && e[:4] == "run " {
			runs = append(runs, e[4:])
		}
	}
	assert.Equal(t, []string{PhasePreUpdate, PhaseUpdate, PhaseRender, PhasePostRender}, runs)
}

func TestScheduler_RegistrationDuringTickIsDeferred(t *testing.T) {
	s := newTestScheduler(t)
	h := newRunningHandler(t, 2)
	log := &eventLog{}

	spawned := newFake("spawned", log)
	var addErr error
	var visibleDuringTick atomic.Bool
	spawner := newFake("spawner", log)
	spawner.work = func() {
		if spawner.runs.Load() > 1 {
			return
		}
		_, addErr = s.AddSystem(PhaseRender, spawned, nil)
		infos, _ := s.Systems(PhaseRender)
		visibleDuringTick.Store(len(infos) > 0)
	}
	mustAdd(t, s, PhaseUpdate, spawner)
	s.Start()

	require.True(t, runTick(t, s, true, h))
	require.NoError(t, addErr)
	assert.False(t, visibleDuringTick.Load())
	assert.Equal(t, int32(0), spawned.runs.Load(), "a system added mid-tick joins the next tick")

	require.True(t, runTick(t, s, true, h))
	assert.Equal(t, int32(1), spawned.runs.Load())
	assert.Contains(t, log.snapshot(), "init spawned")
}

func TestScheduler_ReadConfigBeforeInit(t *testing.T) {
	s := newTestScheduler(t)
	log := &eventLog{}

	p := newFake("configured", log)
	_, err := s.AddSystem(PhaseUpdate, p, nil, WithPlugin("render"), WithPriority(jobs.High))
	require.NoError(t, err)
	s.Start()

	assert.Equal(t, "render", p.plugin)
	assert.Equal(t, []string{"config configured", "init configured"}, log.snapshot())

	infos, err := s.Systems(PhaseUpdate)
	require.NoError(t, err)
	assert.Equal(t, jobs.High, infos[0].Priority)
	assert.Equal(t, "render", infos[0].Plugin)

	broken := newFake("broken", nil)
	broken.configErr = errors.New("bad file")
	_, err = s.AddSystem(PhaseUpdate, broken, nil, WithPlugin("render"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad file")
	infos, _ = s.Systems(PhaseUpdate)
	assert.Len(t, infos, 1)
}

func TestScheduler_WithName(t *testing.T) {
	s := newTestScheduler(t)
	_, err := s.AddSystem(PhaseUpdate, &typedSystem{}, nil, WithName("renamed"))
	require.NoError(t, err)
	infos, err := s.Systems(PhaseUpdate)
	require.NoError(t, err)
	assert.Equal(t, "renamed", infos[0].Name)
	assert.Equal(t, DefaultPriority, infos[0].Priority)
}

// memRecorder keeps every recorded run.
type memRecorder struct {
	mu   sync.Mutex
	runs []SystemRun
}

func (r *memRecorder) RecordSystemRun(_ context.Context, run SystemRun) {
	r.mu.Lock()
	r.runs = append(r.runs, run)
	r.mu.Unlock()
}

func TestScheduler_Recorder(t *testing.T) {
	rec := &memRecorder{}
	s := newTestScheduler(t, WithRecorder(rec))

	ok := newFake("ok", nil)
	ok.unfocused = true
	skipped := newFake("skipped", nil)
	mustAdd(t, s, PhaseUpdate, ok)
	mustAdd(t, s, PhaseUpdate, skipped)
	s.Start()

	require.True(t, runTick(t, s, false, newRunningHandler(t, 2)))

	require.Len(t, rec.runs, 2)
	byName := map[string]SystemRun{}
	for _, r := range rec.runs {
		byName[r.System] = r
	}
	assert.True(t, byName["skipped"].Skipped)
	assert.False(t, byName["ok"].Skipped)
	assert.True(t, byName["ok"].Result)
	assert.Equal(t, uint64(1), byName["ok"].Tick)
	assert.Equal(t, PhaseUpdate, byName["ok"].Phase)
	assert.Equal(t, ok.SystemUID(), byName["ok"].SystemID)
}

func TestScheduler_ForEachSystem(t *testing.T) {
	s := newTestScheduler(t)
	mustAdd(t, s, PhaseRender, newFake("r", nil))
	mustAdd(t, s, PhaseUpdate, newFake("u1", nil))
	mustAdd(t, s, PhaseUpdate, newFake("u2", nil))

	var seen []string
	s.ForEachSystem(func(phase string, _ SystemUID, sys System) {
		seen = append(seen, phase+"/"+NameOf(sys))
	})
	assert.Equal(t, []string{"Update/u1", "Update/u2", "Render/r"}, seen)
}

func TestScheduler_HandlerStoppedMidPhase(t *testing.T) {
	s := newTestScheduler(t)
	h := newRunningHandler(t, 1)

	slow := newFake("slow", nil)
	slow.work = func() { time.Sleep(200 * time.Millisecond) }
	other := newFake("other", nil)
	later := newFake("later", nil)
	mustAdd(t, s, PhaseUpdate, slow)
	mustAdd(t, s, PhaseUpdate, other)
	mustAdd(t, s, PhaseRender, later)
	s.Start()

	go func() {
		time.Sleep(50 * time.Millisecond)
		h.Stop()
	}()
	assert.False(t, runTick(t, s, true, h))
	returned := time.Now()

	assert.Equal(t, int32(1), slow.runs.Load())
	assert.False(t, slow.ended.After(returned), "the running system finishes before RunOnce returns")
	assert.Equal(t, int32(0), other.runs.Load(), "a queued system is discarded by Stop")
	assert.Equal(t, int32(0), later.runs.Load(), "phases after the interrupted one are skipped")

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), other.runs.Load())
	assert.Equal(t, int32(0), later.runs.Load())

	h.Start(nil)
	assert.True(t, runTick(t, s, true, h))
	assert.Equal(t, int32(2), slow.runs.Load())
	assert.Equal(t, int32(1), other.runs.Load())
	assert.Equal(t, int32(1), later.runs.Load())
}

func TestScheduler_PendingJobsClearedMidPhase(t *testing.T) {
	s := newTestScheduler(t)
	h := newRunningHandler(t, 2)

	root := newFake("root", nil)
	root.work = func() { time.Sleep(200 * time.Millisecond) }
	dep := newFake("dep", nil)
	later := newFake("later", nil)
	rootID := mustAdd(t, s, PhaseUpdate, root)
	mustAdd(t, s, PhaseUpdate, dep, rootID)
	mustAdd(t, s, PhaseRender, later)
	s.Start()

	go func() {
		time.Sleep(50 * time.Millisecond)
		h.ClearPendingJobs()
	}()
	assert.False(t, runTick(t, s, true, h))
	returned := time.Now()

	assert.Equal(t, int32(1), root.runs.Load())
	assert.False(t, root.ended.After(returned), "the running system finishes before RunOnce returns")

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(0), dep.runs.Load(), "a dependent released after the clear is not submitted")
	assert.Equal(t, int32(0), later.runs.Load())
	assert.Zero(t, h.Queue().Len())

	assert.True(t, runTick(t, s, true, h))
	assert.Equal(t, int32(2), root.runs.Load())
	assert.Equal(t, int32(1), dep.runs.Load())
	assert.Equal(t, int32(1), later.runs.Load())
	assert.False(t, dep.started.Before(root.ended))
}

// phaseTracker counts systems of different phases running at the same
// time, and systems running while no tick is in progress.
type phaseTracker struct {
	mu       sync.Mutex
	active   map[string]int
	ticking  bool
	overlaps int
	outside  int
}

func (p *phaseTracker) setTicking(v bool) {
	p.mu.Lock()
	p.ticking = v
	p.mu.Unlock()
}

func (p *phaseTracker) enter(phase string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ticking {
		p.outside++
	}
	for other, n := range p.active {
		if other != phase && n > 0 {
			p.overlaps++
		}
	}
	p.active[phase]++
}

func (p *phaseTracker) exit(phase string) {
	p.mu.Lock()
	p.active[phase]--
	p.mu.Unlock()
}

func TestScheduler_StopAndClearRacingTicks(t *testing.T) {
	s := newTestScheduler(t)
	h := newRunningHandler(t, 4)
	tracker := &phaseTracker{active: map[string]int{}}

	for _, phase := range []string{PhasePreUpdate, PhaseUpdate, PhaseRender} {
		phase := phase
		var prev SystemUID
		for i := 0; i < 4; i++ {
			f := newFake(fmt.Sprintf("%s-%d", phase, i), nil)
			f.work = func() {
				tracker.enter(phase)
				time.Sleep(2 * time.Millisecond)
				tracker.exit(phase)
			}
			var deps []SystemUID
			if i%2 == 1 {
				deps = []SystemUID{prev}
			}
			prev = mustAdd(t, s, phase, f, deps...)
		}
	}
	s.Start()

	interrupted := 0
	for i := 0; i < 30; i++ {
		delay := time.Duration(i%5) * time.Millisecond
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(delay)
			if i%2 == 0 {
				h.ClearPendingJobs()
			} else {
				h.Stop()
			}
		}()

		tracker.setTicking(true)
		if !runTick(t, s, true, h) {
			interrupted++
		}
		tracker.setTicking(false)

		wg.Wait()
		h.Start(nil)
	}
	time.Sleep(20 * time.Millisecond)

	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	assert.Zero(t, tracker.overlaps, "systems of two phases ran concurrently")
	assert.Zero(t, tracker.outside, "a system ran after its tick returned")
	assert.Positive(t, interrupted)
}

func TestScheduler_RegistrationErrorsDuringTick(t *testing.T) {
	s := newTestScheduler(t)
	h := newRunningHandler(t, 2)
	log := &eventLog{}

	existingID := mustAdd(t, s, PhaseRender, newFake("existing", nil))
	added := newFake("added", log)
	chained := newFake("chained", log)

	var dupErr, depErr, phaseErr, addErr, chainErr error
	spawner := newFake("spawner", nil)
	spawner.work = func() {
		if spawner.runs.Load() > 1 {
			return
		}
		_, dupErr = s.AddSystem(PhaseRender, newFake("existing", nil), nil)
		_, depErr = s.AddSystem(PhaseRender, newFake("orphan", nil), []SystemUID{uid.FromString("missing")})
		phaseErr = s.AddPhase(PhaseRender)

		var addedID SystemUID
		addedID, addErr = s.AddSystem(PhaseRender, added, []SystemUID{existingID})
		_, chainErr = s.AddSystem(PhaseRender, chained, []SystemUID{addedID})
	}
	mustAdd(t, s, PhaseUpdate, spawner)
	s.Start()

	require.True(t, runTick(t, s, true, h))
	assert.True(t, IsDuplicateError(dupErr))
	assert.True(t, IsUnknownDependencyError(depErr))
	assert.True(t, HasCode(phaseErr, ErrCodeDuplicatePhase))
	require.NoError(t, addErr)
	require.NoError(t, chainErr, "a system added earlier in the tick can be depended on")
	assert.Equal(t, int32(0), added.runs.Load())

	infos, err := s.Systems(PhaseRender)
	require.NoError(t, err)
	assert.Len(t, infos, 3, "only the valid registrations are applied")
	assert.Equal(t, DefaultPhases(), s.PhaseNames())

	require.True(t, runTick(t, s, true, h))
	assert.Equal(t, int32(1), added.runs.Load())
	assert.Equal(t, int32(1), chained.runs.Load())
	assert.Equal(t, []string{"init added", "init chained", "run added", "run chained"}, log.snapshot())
}
