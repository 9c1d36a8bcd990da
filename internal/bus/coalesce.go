package bus

import (
	"sync"
	"time"
)

// Coalescer absorbs bursts of display updates and flushes only the latest
// one after a quiet window. A store write, a cart refetch and a channel
// state change often land within milliseconds; without coalescing the
// screen would redraw three times.
type Coalescer struct {
	window  time.Duration
	flushFn func(DisplayState)

	mu      sync.Mutex
	pending *DisplayState
	timer   *time.Timer
}

// NewCoalescer creates a coalescer with the given quiet window. A window
// <= 0 disables coalescing and flushes every update immediately.
func NewCoalescer(window time.Duration, flushFn func(DisplayState)) *Coalescer {
	return &Coalescer{window: window, flushFn: flushFn}
}

// Push records an update, overwriting any still-pending one.
func (c *Coalescer) Push(state DisplayState) {
	if c.window <= 0 {
		c.flushFn(state)
		return
	}

	c.mu.Lock()
	c.pending = &state
	if c.timer == nil {
		c.timer = time.AfterFunc(c.window, c.flush)
	}
	c.mu.Unlock()
}

// Stop drops any pending update.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pending = nil
}

func (c *Coalescer) flush() {
	c.mu.Lock()
	state := c.pending
	c.pending = nil
	c.timer = nil
	c.mu.Unlock()

	if state != nil {
		c.flushFn(*state)
	}
}
