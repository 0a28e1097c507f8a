// Package testutil provides deterministic helpers shared by package tests:
// an ordered event journal and a configurable recording System.
package testutil

import (
	"slices"
	"strings"
	"sync"
)

// Entry is one journal event with its logical sequence number.
type Entry struct {
	Seq   int64
	Event string
}

// Journal records events in the order they happen, stamping each with a
// strictly increasing sequence number starting at 1.
//
// Thread-safety: all methods are safe for concurrent use.
type Journal struct {
	mu      sync.Mutex
	seq     int64
	entries []Entry
}

// NewJournal creates an empty journal.
func NewJournal() *Journal {
	return &Journal{}
}

// Record appends event and returns its sequence number.
func (j *Journal) Record(event string) int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.seq++
	j.entries = append(j.entries, Entry{Seq: j.seq, Event: event})
	return j.seq
}

// Events returns every recorded event in order.
func (j *Journal) Events() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	events := make([]string, len(j.entries))
	for i, e := range j.entries {
		events[i] = e.Event
	}
	return events
}

// WithPrefix returns the events starting with prefix, with the prefix
// removed.
func (j *Journal) WithPrefix(prefix string) []string {
	var out []string
	for _, e := range j.Events() {
		if rest, ok := strings.CutPrefix(e, prefix); ok {
			out = append(out, rest)
		}
	}
	return out
}

// SeqOf returns the sequence number of the first occurrence of event, or 0.
func (j *Journal) SeqOf(event string) int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	i := slices.IndexFunc(j.entries, func(e Entry) bool { return e.Event == event })
	if i < 0 {
		return 0
	}
	return j.entries[i].Seq
}

// Reset clears the journal. The next Record returns 1.
func (j *Journal) Reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.seq = 0
	j.entries = nil
}
