package schedule

import (
	"reflect"

	"github.com/gents83/INOX-sub002/internal/uid"
)

// SystemUID identifies a concrete System type. Two instances of the same
// type share the same SystemUID, so dependencies are expressed by type
// rather than by instance.
type SystemUID = uid.UID

// System is a schedulable unit of host application logic.
//
// Scheduler guarantees:
//   - ReadConfig is called before the first Init when a plugin name is known
//   - Init is called once before the first Run
//   - Run is never called concurrently with itself, nor with any of the
//     system's dependencies or dependents in the same phase
//   - Uninit is called once, on removal or scheduler shutdown
type System interface {
	// ReadConfig loads persisted configuration for the owning plugin.
	ReadConfig(pluginName string) error
	// ShouldRunWhenNotFocused reports whether the system runs while the host
	// is unfocused or disabled.
	ShouldRunWhenNotFocused() bool
	Init()
	// Run executes one tick of work. Returning false asks the host loop
	// to stop.
	Run() bool
	Uninit()
}

// Named is implemented by systems that provide a diagnostic name.
type Named interface {
	Name() string
}

// Identified is implemented by systems whose identity is not their Go type,
// for example data-driven systems built from configuration.
type Identified interface {
	SystemUID() SystemUID
}

// UIDOf returns the SystemUID of s.
func UIDOf(s System) SystemUID {
	if id, ok := s.(Identified); ok {
		return id.SystemUID()
	}
	return uid.Of(s)
}

// UIDFor returns the SystemUID of the concrete type T.
func UIDFor[T System]() SystemUID {
	return uid.For[T]()
}

// NameOf returns the diagnostic name of s: Name() when implemented,
// otherwise the short type name.
func NameOf(s System) string {
	if n, ok := s.(Named); ok {
		return n.Name()
	}
	t := reflect.TypeOf(s)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "<nil>"
	}
	return t.Name()
}
