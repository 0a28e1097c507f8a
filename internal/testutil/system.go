package testutil

import (
	"sync/atomic"

	"github.com/gents83/INOX-sub002/internal/schedule"
	"github.com/gents83/INOX-sub002/internal/uid"
)

// System is a schedule.System whose identity is its name. It journals its
// lifecycle as "<event> <name>" (config, init, start, run, uninit), where
// "start" is written when Run begins and "run" when it returns.
type System struct {
	name    string
	journal *Journal

	// Work runs inside Run, if set.
	Work func()
	// Result is returned by Run when StopAfter is 0.
	Result bool
	// StopAfter makes Run return false from the StopAfter-th run on.
	StopAfter int32
	// Unfocused is returned by ShouldRunWhenNotFocused.
	Unfocused bool
	// ConfigErr is returned by ReadConfig.
	ConfigErr error

	runs    atomic.Int32
	inits   atomic.Int32
	uninits atomic.Int32
	plugin  atomic.Value
}

var (
	_ schedule.System     = (*System)(nil)
	_ schedule.Named      = (*System)(nil)
	_ schedule.Identified = (*System)(nil)
)

// NewSystem creates a system returning true from Run. journal may be nil.
func NewSystem(name string, journal *Journal) *System {
	return &System{name: name, journal: journal, Result: true}
}

// UIDFor returns the SystemUID of the system called name.
func UIDFor(name string) schedule.SystemUID {
	return uid.FromString("testutil/" + name)
}

func (s *System) Name() string { return s.name }
func (s *System) SystemUID() schedule.SystemUID { return UIDFor(s.name) }
func (s *System) ShouldRunWhenNotFocused() bool { return s.Unfocused }

func (s *System) ReadConfig(plugin string) error {
	s.plugin.Store(plugin)
	s.record("config")
	return s.ConfigErr
}

func (s *System) Init() {
	s.inits.Add(1)
	s.record("init")
}

func (s *System) Run() bool {
	s.record("start")
	n := s.runs.Add(1)
	if s.Work != nil {
		s.Work()
	}
	s.record("run")
	if s.StopAfter > 0 {
		return n < s.StopAfter
	}
	return s.Result
}

func (s *System) Uninit() {
	s.uninits.Add(1)
	s.record("uninit")
}

// Runs returns how many times Run was called.
func (s *System) Runs() int { return int(s.runs.Load()) }

// Inits returns how many times Init was called.
func (s *System) Inits() int { return int(s.inits.Load()) }

// Uninits returns how many times Uninit was called.
func (s *System) Uninits() int { return int(s.uninits.Load()) }

// Plugin returns the plugin name passed to ReadConfig, if any.
func (s *System) Plugin() string {
	p, _ := s.plugin.Load().(string)
	return p
}

func (s *System) record(event string) {
	if s.journal != nil {
		s.journal.Record(event + " " + s.name)
	}
}
