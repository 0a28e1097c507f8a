// Package schedule turns one tick of the host application into an ordered
// sequence of phases, each executing its systems concurrently on a
// jobs.Handler.
//
// ARCHITECTURE:
//
// Phases run strictly in their configured order. Within a phase, systems
// are submitted as jobs tagged with the phase's category; a system with
// dependencies is submitted only after every dependency's job has
// finished (in-degree counters plus reverse-dependency lists, so each
// completion touches only its own dependents). The scheduler then blocks
// in WaitForCategory until the phase has drained: the barrier. Phase N+1
// is never submitted before phase N is complete.
//
// The boolean results of every system run in a tick are ANDed into the
// tick's continue signal. Systems skipped because the host is unfocused
// do not contribute.
//
// Configuration errors (unknown dependency, dependency cycle, duplicate
// registration, unknown phase) are detected when a system or phase is
// registered and returned as *ConfigError.
package schedule
