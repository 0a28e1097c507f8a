package uid

import (
	"fmt"
	"sync/atomic"
)

// Counter hands out strictly increasing numbers.
//
// A Counter is owned by the application context and passed to whatever
// needs unique names (for example dynamically loaded plugins), instead of a
// package-level variable.
//
// Thread-safety: Counter is safe for concurrent use.
type Counter struct {
	n atomic.Uint64
}

// NewCounter creates a counter whose first Next returns 1.
func NewCounter() *Counter {
	return &Counter{}
}

// NewCounterAt creates a counter whose first Next returns start+1.
func NewCounterAt(start uint64) *Counter {
	c := &Counter{}
	c.n.Store(start)
	return c
}

// Next increments and returns the counter.
func (c *Counter) Next() uint64 {
	return c.n.Add(1)
}

// Current returns the last value handed out.
func (c *Counter) Current() uint64 {
	return c.n.Load()
}

// Name returns prefix followed by the next counter value, e.g. "plugin_3".
func (c *Counter) Name(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, c.Next())
}
