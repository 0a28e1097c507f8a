package schedule

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gents83/INOX-sub002/internal/jobs"
	"github.com/gents83/INOX-sub002/internal/uid"
)

// DefaultPriority is the job priority of a system unless overridden with
// WithPriority.
const DefaultPriority = jobs.Medium

// entry is a system registered in a phase, with its dependency edges in
// both directions.
type entry struct {
	id          SystemUID
	name        string
	system      System
	deps        []SystemUID // systems this one waits for
	dependents  []SystemUID // systems waiting for this one
	priority    jobs.Priority
	plugin      string
	initialized bool
}

// SystemOption configures a system registration.
type SystemOption func(*entry)

// WithPriority sets the job priority used when the system is dispatched.
// Priority only orders ready jobs; dependencies are enforced regardless.
func WithPriority(p jobs.Priority) SystemOption {
	return func(e *entry) {
		e.priority = p
	}
}

// WithPlugin names the plugin owning the system. The scheduler calls
// ReadConfig(plugin) before registering it.
func WithPlugin(plugin string) SystemOption {
	return func(e *entry) {
		e.plugin = plugin
	}
}

// WithName overrides the diagnostic name of the system.
func WithName(name string) SystemOption {
	return func(e *entry) {
		e.name = name
	}
}

// SystemInfo describes a registered system.
type SystemInfo struct {
	ID           SystemUID
	Name         string
	Dependencies []SystemUID
	Dependents   []SystemUID
	Priority     jobs.Priority
	Plugin       string
}

// Phase is a named, ordered bucket of systems plus the dependency graph
// between them. Systems keep their insertion order.
//
// A Phase is mutated only by its Scheduler, never while a tick is running
// it; registrations during a tick edit a clone.
type Phase struct {
	name     string
	category jobs.CategoryID
	order    []SystemUID
	entries  map[SystemUID]*entry
}

// PhaseCategory returns the job category used for the phase's barrier.
func PhaseCategory(name string) jobs.CategoryID {
	return uid.FromString("phase/" + name)
}

func newPhase(name string) *Phase {
	return &Phase{
		name:     name,
		category: PhaseCategory(name),
		entries:  make(map[SystemUID]*entry),
	}
}

// Name returns the phase name.
func (p *Phase) Name() string {
	return p.name
}

// Category returns the job category of the phase's systems.
func (p *Phase) Category() jobs.CategoryID {
	return p.category
}

// Len returns the number of registered systems.
func (p *Phase) Len() int {
	return len(p.order)
}

// Has reports whether a system with id is registered.
func (p *Phase) Has(id SystemUID) bool {
	_, ok := p.entries[id]
	return ok
}

// ShouldRunWhenNotFocused reports whether at least one system of the phase
// runs while the host is unfocused.
func (p *Phase) ShouldRunWhenNotFocused() bool {
	for _, id := range p.order {
		if p.entries[id].system.ShouldRunWhenNotFocused() {
			return true
		}
	}
	return false
}

// Systems describes the registered systems in insertion order.
func (p *Phase) Systems() []SystemInfo {
	infos := make([]SystemInfo, 0, len(p.order))
	for _, id := range p.order {
		e := p.entries[id]
		infos = append(infos, SystemInfo{
			ID:           e.id,
			Name:         e.name,
			Dependencies: slices.Clone(e.deps),
			Dependents:   slices.Clone(e.dependents),
			Priority:     e.priority,
			Plugin:       e.plugin,
		})
	}
	return infos
}

// add registers e after validating its dependencies.
//
// Dependencies must reference systems already present in the phase, so a
// valid registration can never close a cycle except by depending on
// itself; the cycle check still runs over the whole graph so that any
// cycle is reported with its path.
func (p *Phase) add(e *entry) error {
	if _, exists := p.entries[e.id]; exists {
		return &ConfigError{
			Code:    ErrCodeDuplicateSystem,
			Message: "system already registered in this phase",
			Phase:   p.name,
			System:  e.name,
			Details: map[string]string{"system_id": e.id.String()},
		}
	}

	e.deps = dedupe(e.deps)
	for _, dep := range e.deps {
		if dep == e.id {
			continue // reported as a cycle below
		}
		if _, ok := p.entries[dep]; !ok {
			return &ConfigError{
				Code:    ErrCodeUnknownDependency,
				Message: "dependency is not registered in this phase",
				Phase:   p.name,
				System:  e.name,
				Details: map[string]string{"dependency_id": dep.String()},
			}
		}
	}

	nodes := append(slices.Clone(p.order), e.id)
	graph := make(dependencyGraph, len(nodes))
	for _, id := range p.order {
		graph[id] = p.entries[id].deps
	}
	graph[e.id] = e.deps
	if cycle := findCycle(nodes, graph); cycle != nil {
		return &ConfigError{
			Code:    ErrCodeDependencyCycle,
			Message: "dependencies form a cycle",
			Phase:   p.name,
			System:  e.name,
			Details: map[string]string{"path": p.describePath(cycle, e)},
		}
	}

	p.entries[e.id] = e
	p.order = append(p.order, e.id)
	for _, dep := range e.deps {
		d := p.entries[dep]
		d.dependents = append(d.dependents, e.id)
	}
	return nil
}

// clone copies the phase and its entries so the copy can be edited while
// the original is being dispatched.
func (p *Phase) clone() *Phase {
	c := &Phase{
		name:     p.name,
		category: p.category,
		order:    slices.Clone(p.order),
		entries:  make(map[SystemUID]*entry, len(p.entries)),
	}
	for id, e := range p.entries {
		ce := *e
		ce.deps = slices.Clone(e.deps)
		ce.dependents = slices.Clone(e.dependents)
		c.entries[id] = &ce
	}
	return c
}

// remove unregisters the system with id. Systems other systems depend on
// cannot be removed.
func (p *Phase) remove(id SystemUID) (*entry, error) {
	e, ok := p.entries[id]
	if !ok {
		return nil, &ConfigError{
			Code:    ErrCodeUnknownSystem,
			Message: "system is not registered in this phase",
			Phase:   p.name,
			Details: map[string]string{"system_id": id.String()},
		}
	}
	if len(e.dependents) > 0 {
		names := make([]string, 0, len(e.dependents))
		for _, d := range e.dependents {
			names = append(names, p.entries[d].name)
		}
		return nil, &ConfigError{
			Code:    ErrCodeHasDependents,
			Message: "other systems depend on this system",
			Phase:   p.name,
			System:  e.name,
			Details: map[string]string{"dependents": strings.Join(names, ", ")},
		}
	}

	for _, dep := range e.deps {
		d := p.entries[dep]
		d.dependents = slices.DeleteFunc(d.dependents, func(x SystemUID) bool { return x == id })
	}
	delete(p.entries, id)
	p.order = slices.DeleteFunc(p.order, func(x SystemUID) bool { return x == id })
	return e, nil
}

// removeAll unregisters every system, returning them in reverse insertion
// order (dependents before their dependencies).
func (p *Phase) removeAll() []*entry {
	removed := make([]*entry, 0, len(p.order))
	for i := len(p.order) - 1; i >= 0; i-- {
		removed = append(removed, p.entries[p.order[i]])
	}
	p.order = nil
	p.entries = make(map[SystemUID]*entry)
	return removed
}

func (p *Phase) describePath(path []SystemUID, pending *entry) string {
	names := make([]string, 0, len(path))
	for _, id := range path {
		switch {
		case id == pending.id:
			names = append(names, pending.name)
		case p.entries[id] != nil:
			names = append(names, p.entries[id].name)
		default:
			names = append(names, id.Short())
		}
	}
	return strings.Join(names, " → ")
}

func dedupe(ids []SystemUID) []SystemUID {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[SystemUID]bool, len(ids))
	out := make([]SystemUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func (e *entry) String() string {
	return fmt.Sprintf("%s(%s)", e.name, e.id.Short())
}
