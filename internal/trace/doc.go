// Package trace persists what the scheduler did, tick by tick, in SQLite.
//
// Two tables are kept: ticks (one row per tick, keyed by its UUIDv7 token)
// and system_runs (one row per system per tick, including systems skipped
// while the host was unfocused). A Recorder buffers the runs of the tick in
// progress and writes the tick and its runs in a single transaction when
// the tick ends, so readers never observe a partial tick.
//
// Ordering is deterministic: ticks by number then token, runs by the order
// in which they were recorded.
package trace
