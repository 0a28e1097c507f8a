package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/gents83/INOX-sub002/internal/jobs"
	"github.com/gents83/INOX-sub002/internal/logging"
	"github.com/gents83/INOX-sub002/internal/uid"
)

// Default phase names, in execution order.
const (
	PhasePreUpdate  = "PreUpdate"
	PhaseUpdate     = "Update"
	PhasePostUpdate = "PostUpdate"
	PhasePreRender  = "PreRender"
	PhaseRender     = "Render"
	PhasePostRender = "PostRender"
)

// DefaultPhases returns the default phase order of a host application.
func DefaultPhases() []string {
	return []string{PhasePreUpdate, PhaseUpdate, PhasePostUpdate, PhasePreRender, PhaseRender, PhasePostRender}
}

// State is the lifecycle state of a Scheduler.
type State int

const (
	Uninitialized State = iota
	Initialized
)

func (s State) String() string {
	if s == Initialized {
		return "initialized"
	}
	return "uninitialized"
}

// Scheduler owns the ordered phases of the host application and runs one
// tick at a time.
//
// Registration calls (AddPhase*, RemovePhase, AddSystem, RemoveSystem) are
// safe from any goroutine, including from a system's Run. While a tick is
// in progress they are validated and applied to a staged copy of the
// phases, so configuration errors are still returned to the caller; the
// staged phases replace the running ones, and the resulting Init and
// Uninit calls are made, when the tick ends.
//
// Init, Uninit and ReadConfig of a system are always called without the
// scheduler lock held.
type Scheduler struct {
	logger   *slog.Logger
	recorder Recorder
	ticks    *uid.Counter

	mu       sync.Mutex
	phases   []*Phase
	state    State
	running  bool
	ticking  bool
	staged   []*Phase // registration target while ticking, nil until needed
	afters   []func() // lifecycle calls owed by staged registrations
}

// mutation changes a phase layout under the scheduler lock and returns
// lifecycle calls to make once the lock is released.
type mutation func(phases *[]*Phase) (after func(), err error)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRecorder installs a Recorder notified of every system run.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) {
		s.recorder = r
	}
}

// WithTickCounter shares a tick counter with the caller. Ticks are
// numbered from 1.
func WithTickCounter(c *uid.Counter) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.ticks = c
		}
	}
}

// New creates an uninitialized scheduler with no phases. The running
// flag starts true.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:  slog.Default(),
		ticks:   uid.NewCounter(),
		running: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "scheduler")
	return s
}

// NewWithDefaultPhases creates a scheduler holding DefaultPhases.
func NewWithDefaultPhases(opts ...Option) *Scheduler {
	s := New(opts...)
	for _, name := range DefaultPhases() {
		s.phases = append(s.phases, newPhase(name))
	}
	return s
}

// NewWithPhases creates a scheduler holding the given phases in order.
func NewWithPhases(names []string, opts ...Option) (*Scheduler, error) {
	s := New(opts...)
	for _, name := range names {
		if err := insertPhase(&s.phases, name, len(s.phases)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// State returns the lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRunning reports the running flag toggled by Cancel and Resume.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Ticks returns the number of ticks started so far.
func (s *Scheduler) Ticks() uint64 {
	return s.ticks.Current()
}

// Cancel clears the running flag: subsequent ticks report false.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Resume sets the running flag again.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
}

// PhaseNames returns the phase names in execution order.
func (s *Scheduler) PhaseNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.phases))
	for i, p := range s.phases {
		names[i] = p.name
	}
	return names
}

// Systems describes the systems registered in phase.
func (s *Scheduler) Systems(phase string) ([]SystemInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := findPhase(s.phases, phase)
	if p == nil {
		return nil, newUnknownPhaseError(phase)
	}
	return p.Systems(), nil
}

// AddPhase appends a phase at the end of the order.
func (s *Scheduler) AddPhase(name string) error {
	return s.mutate(func(phases *[]*Phase) (func(), error) {
		return nil, insertPhase(phases, name, len(*phases))
	})
}

// AddPhaseAfter inserts a phase immediately after the phase named prev.
func (s *Scheduler) AddPhaseAfter(prev, name string) error {
	return s.mutate(func(phases *[]*Phase) (func(), error) {
		i := phaseIndex(*phases, prev)
		if i < 0 {
			return nil, newUnknownPhaseError(prev)
		}
		return nil, insertPhase(phases, name, i+1)
	})
}

// AddPhaseBefore inserts a phase immediately before the phase named next.
func (s *Scheduler) AddPhaseBefore(next, name string) error {
	return s.mutate(func(phases *[]*Phase) (func(), error) {
		i := phaseIndex(*phases, next)
		if i < 0 {
			return nil, newUnknownPhaseError(next)
		}
		return nil, insertPhase(phases, name, i)
	})
}

// RemovePhase removes a phase and all of its systems. Initialized systems
// are uninitialized, dependents first.
func (s *Scheduler) RemovePhase(name string) error {
	return s.mutate(func(phases *[]*Phase) (func(), error) {
		i := phaseIndex(*phases, name)
		if i < 0 {
			return nil, newUnknownPhaseError(name)
		}
		removed := (*phases)[i].removeAll()
		*phases = slices.Delete(*phases, i, i+1)
		return func() { uninitAll(removed) }, nil
	})
}

// AddSystem registers system in phase, after the systems listed in deps
// (all of which must already be registered in the same phase). It returns
// the system's SystemUID.
//
// When the system names a plugin (WithPlugin), ReadConfig is called first
// and a failure aborts the registration. If the scheduler is Initialized,
// Init is called once the system is registered.
func (s *Scheduler) AddSystem(phase string, system System, deps []SystemUID, opts ...SystemOption) (SystemUID, error) {
	if system == nil {
		return uid.Nil, &ConfigError{Code: ErrCodeInvalidSystem, Message: "system is nil", Phase: phase}
	}
	e := &entry{
		id:       UIDOf(system),
		name:     NameOf(system),
		system:   system,
		deps:     slices.Clone(deps),
		priority: DefaultPriority,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.plugin != "" {
		if err := system.ReadConfig(e.plugin); err != nil {
			return e.id, fmt.Errorf("read config of %s for plugin %s: %w", e.name, e.plugin, err)
		}
	}

	err := s.mutate(func(phases *[]*Phase) (func(), error) {
		p := findPhase(*phases, phase)
		if p == nil {
			return nil, newUnknownPhaseError(phase)
		}
		if err := p.add(e); err != nil {
			return nil, err
		}
		s.logger.Debug("system added", "phase", phase, "system", e.name, "id", e.id.Short())
		if s.state != Initialized {
			return nil, nil
		}
		e.initialized = true
		return e.system.Init, nil
	})
	return e.id, err
}

// RemoveSystem unregisters the system with id from phase, calling its
// Uninit if it was initialized. Systems that others depend on are
// rejected with ErrCodeHasDependents.
func (s *Scheduler) RemoveSystem(phase string, id SystemUID) error {
	return s.mutate(func(phases *[]*Phase) (func(), error) {
		p := findPhase(*phases, phase)
		if p == nil {
			return nil, newUnknownPhaseError(phase)
		}
		e, err := p.remove(id)
		if err != nil {
			return nil, err
		}
		s.logger.Debug("system removed", "phase", phase, "system", e.name)
		return func() { uninitAll([]*entry{e}) }, nil
	})
}

// Start initializes every registered system, in phase order then
// insertion order, and moves the scheduler to Initialized. Starting an
// initialized scheduler does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.state == Initialized {
		s.mu.Unlock()
		return
	}
	var toInit []*entry
	for _, p := range s.phases {
		for _, id := range p.order {
			e := p.entries[id]
			if !e.initialized {
				e.initialized = true
				toInit = append(toInit, e)
			}
		}
	}
	s.state = Initialized
	s.mu.Unlock()

	for _, e := range toInit {
		e.system.Init()
	}
	s.logger.Info("scheduler started", "systems", len(toInit))
}

// Uninit calls Uninit on every initialized system, in reverse phase order
// and reverse insertion order, then removes every system. Phases are kept
// so the scheduler can be populated and started again. It must not be
// called from a system's Run.
func (s *Scheduler) Uninit() {
	s.mu.Lock()
	var removed []*entry
	for i := len(s.phases) - 1; i >= 0; i-- {
		removed = append(removed, s.phases[i].removeAll()...)
	}
	s.state = Uninitialized
	s.running = false
	s.staged = nil
	s.afters = nil
	s.mu.Unlock()

	uninitAll(removed)
	s.logger.Info("scheduler uninitialized", "systems", len(removed))
}

// RunOnce executes one tick: every phase in order, each fully drained
// before the next starts. enabled is the host focus state; while false,
// only systems whose ShouldRunWhenNotFocused is true run.
//
// It returns false if any system returned false or panicked, if the
// scheduler was cancelled, or if ctx ended during the tick. It also
// returns false when the handler is stopped or cleared mid-tick. In both
// cases the interrupted phase waits for its running systems, its other
// systems never run, and the remaining phases are skipped. Before Start it
// runs nothing and returns the running flag.
//
// A nil handler, or one that is not running, executes every system on the
// calling goroutine.
func (s *Scheduler) RunOnce(ctx context.Context, enabled bool, h *jobs.Handler) bool {
	s.mu.Lock()
	if s.state != Initialized {
		running := s.running
		s.mu.Unlock()
		return running
	}
	if s.ticking {
		s.mu.Unlock()
		s.logger.Warn("RunOnce called during a tick")
		return false
	}
	s.ticking = true
	phases := slices.Clone(s.phases)
	canContinue := s.running
	s.mu.Unlock()
	defer s.endTick()

	tick := s.ticks.Next()
	logger := logging.FromContext(ctx)
	if logger == slog.Default() {
		logger = s.logger
	}
	logger = logger.With("tick", tick)

	for _, p := range phases {
		ok, err := runPhase(ctx, tick, p, enabled, h, logger, s.recorder)
		if err != nil {
			logger.Warn("tick interrupted", "phase", p.name, "error", err)
			return false
		}
		if !ok {
			logger.Debug("phase requested stop", "phase", p.name)
		}
		canContinue = canContinue && ok
	}
	return canContinue
}

// ForEachSystem calls fn for every registered system in phase order then
// insertion order. fn runs without the scheduler lock held.
func (s *Scheduler) ForEachSystem(fn func(phase string, id SystemUID, system System)) {
	type item struct {
		phase string
		e     *entry
	}
	s.mu.Lock()
	var items []item
	for _, p := range s.phases {
		for _, id := range p.order {
			items = append(items, item{p.name, p.entries[id]})
		}
	}
	s.mu.Unlock()

	for _, it := range items {
		fn(it.phase, it.e.id, it.e.system)
	}
}

// Find returns the first registered system of type T.
func Find[T System](s *Scheduler) (T, bool) {
	var found T
	ok := false
	s.ForEachSystem(func(_ string, _ SystemUID, system System) {
		if ok {
			return
		}
		if t, match := system.(T); match {
			found, ok = t, true
		}
	})
	return found, ok
}

// mutate applies m to the live phases, or to the staged copy while a
// tick is in progress.
func (s *Scheduler) mutate(m mutation) error {
	s.mu.Lock()
	if s.ticking {
		if s.staged == nil {
			s.staged = clonePhases(s.phases)
		}
		after, err := m(&s.staged)
		if err == nil && after != nil {
			s.afters = append(s.afters, after)
		}
		s.mu.Unlock()
		return err
	}
	after, err := m(&s.phases)
	s.mu.Unlock()

	if after != nil {
		after()
	}
	return err
}

// endTick clears the ticking flag, installs the staged phases and makes
// the lifecycle calls they owe.
func (s *Scheduler) endTick() {
	s.mu.Lock()
	s.ticking = false
	if s.staged != nil {
		s.phases = s.staged
		s.staged = nil
	}
	afters := s.afters
	s.afters = nil
	s.mu.Unlock()

	for _, after := range afters {
		after()
	}
}

func insertPhase(phases *[]*Phase, name string, at int) error {
	if name == "" {
		return &ConfigError{Code: ErrCodeInvalidSystem, Message: "phase name is empty"}
	}
	if findPhase(*phases, name) != nil {
		return &ConfigError{Code: ErrCodeDuplicatePhase, Message: "phase already exists", Phase: name}
	}
	*phases = slices.Insert(*phases, at, newPhase(name))
	return nil
}

func findPhase(phases []*Phase, name string) *Phase {
	if i := phaseIndex(phases, name); i >= 0 {
		return phases[i]
	}
	return nil
}

func phaseIndex(phases []*Phase, name string) int {
	return slices.IndexFunc(phases, func(p *Phase) bool { return p.name == name })
}

func clonePhases(phases []*Phase) []*Phase {
	out := make([]*Phase, len(phases))
	for i, p := range phases {
		out[i] = p.clone()
	}
	return out
}

func uninitAll(entries []*entry) {
	for _, e := range entries {
		if e.initialized {
			e.initialized = false
			e.system.Uninit()
		}
	}
}
