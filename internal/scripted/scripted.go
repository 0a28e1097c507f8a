// Package scripted builds schedule.Systems from configuration. A scripted
// system sleeps for its configured work time and returns its configured
// result, which is enough to exercise phases, dependencies and focus
// handling without writing Go code.
package scripted

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gents83/INOX-sub002/internal/config"
	"github.com/gents83/INOX-sub002/internal/schedule"
	"github.com/gents83/INOX-sub002/internal/sysconfig"
	"github.com/gents83/INOX-sub002/internal/uid"
)

// Journal receives lifecycle events as "<event> <name>".
type Journal interface {
	Record(event string) int64
}

// Settings is the per-plugin file a system reads in ReadConfig. Set fields
// override the values from the scheduler configuration.
type Settings struct {
	Work   *config.Duration `yaml:"work"`
	Result *bool            `yaml:"result"`
}

// System is a schedule.System driven by a config.SystemConfig.
type System struct {
	cfg     config.SystemConfig
	loader  *sysconfig.Loader
	journal Journal

	work   time.Duration
	result bool

	runs atomic.Int64
}

var (
	_ schedule.System     = (*System)(nil)
	_ schedule.Named      = (*System)(nil)
	_ schedule.Identified = (*System)(nil)
)

// Options configures how systems are built.
type Options struct {
	// Loader serves ReadConfig. Nil disables per-plugin files.
	Loader *sysconfig.Loader
	// Journal, if set, records lifecycle events.
	Journal Journal
}

// New builds the system described by cfg.
func New(cfg config.SystemConfig, opts Options) *System {
	return &System{
		cfg:     cfg,
		loader:  opts.Loader,
		journal: opts.Journal,
		work:    cfg.Work.Std(),
		result:  cfg.Returns(),
	}
}

// UIDFor returns the identity of the scripted system name in phase.
func UIDFor(phase, name string) schedule.SystemUID {
	return uid.FromString("scripted/" + phase + "/" + name)
}

func (s *System) Name() string { return s.cfg.Name }
func (s *System) Phase() string { return s.cfg.Phase }
func (s *System) SystemUID() schedule.SystemUID { return UIDFor(s.cfg.Phase, s.cfg.Name) }
func (s *System) ShouldRunWhenNotFocused() bool { return s.cfg.RunUnfocused }

// ReadConfig applies <plugin>/<name>.yaml from the loader directory.
func (s *System) ReadConfig(plugin string) error {
	s.record("config")
	if s.loader == nil {
		return nil
	}
	var st Settings
	if err := s.loader.Read(plugin, s.cfg.Name, &st); err != nil {
		return err
	}
	if st.Work != nil {
		s.work = st.Work.Std()
	}
	if st.Result != nil {
		s.result = *st.Result
	}
	return nil
}

func (s *System) Init() {
	s.record("init")
}

// Run sleeps for the configured work time. With stop_after set it returns
// false from that run on; otherwise it returns the configured result.
func (s *System) Run() bool {
	s.record("start")
	n := s.runs.Add(1)
	if s.cfg.Panic {
		panic(fmt.Sprintf("scripted system %s panicked on run %d", s.cfg.Name, n))
	}
	if s.work > 0 {
		time.Sleep(s.work)
	}
	s.record("end")
	if s.cfg.StopAfter > 0 {
		return n < int64(s.cfg.StopAfter)
	}
	return s.result
}

func (s *System) Uninit() {
	s.record("uninit")
}

// Runs returns how many times Run was called.
func (s *System) Runs() int64 { return s.runs.Load() }

func (s *System) record(event string) {
	if s.journal != nil {
		s.journal.Record(event + " " + s.cfg.Name)
	}
}

// Register builds every system in order and adds it to sched. Dependencies
// name systems of the same phase. The first registration error stops and
// is returned wrapped; schedule.HasCode still matches it.
func Register(sched *schedule.Scheduler, systems []config.SystemConfig, opts Options) ([]*System, error) {
	built := make([]*System, 0, len(systems))
	for _, cfg := range systems {
		priority, err := cfg.JobPriority()
		if err != nil {
			return built, fmt.Errorf("system %s: %w", cfg.Name, err)
		}
		deps := make([]schedule.SystemUID, 0, len(cfg.DependsOn))
		for _, dep := range cfg.DependsOn {
			deps = append(deps, UIDFor(cfg.Phase, dep))
		}

		sysOpts := []schedule.SystemOption{schedule.WithPriority(priority)}
		if cfg.Plugin != "" {
			sysOpts = append(sysOpts, schedule.WithPlugin(cfg.Plugin))
		}

		sys := New(cfg, opts)
		if _, err := sched.AddSystem(cfg.Phase, sys, deps, sysOpts...); err != nil {
			return built, fmt.Errorf("system %s: %w", cfg.Name, err)
		}
		built = append(built, sys)
	}
	return built, nil
}
