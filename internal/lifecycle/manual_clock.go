package lifecycle

import (
	"sync"
	"time"
)

// ManualClock is a deterministic Clock. Nothing fires until Advance is called;
// frames are timers FrameInterval apart, so advancing one second runs 60 frames.
type ManualClock struct {
	FrameInterval time.Duration

	loop    *Loop
	mu      sync.Mutex
	now     time.Time
	seq     uint64
	pending []*manualTimer
}

// NewManualClock returns a clock starting at a fixed instant. Callbacks run inside
// loop.Do when loop is non-nil.
func NewManualClock(loop *Loop) *ManualClock {
	return &ManualClock{
		FrameInterval: DefaultFrameInterval,
		loop:          loop,
		now:           time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC),
	}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) AfterFunc(d time.Duration, fn func()) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &manualTimer{clock: c, at: c.now.Add(d), seq: c.seq, fn: fn}
	c.pending = append(c.pending, t)
	return t
}

func (c *ManualClock) RequestFrame(fn func()) Handle {
	return c.AfterFunc(c.FrameInterval, fn)
}

// Advance moves time forward by d, firing every callback that comes due in order,
// including callbacks scheduled by callbacks.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.popDue(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = next.at
		c.mu.Unlock()

		if c.loop != nil {
			c.loop.Do(next.fn)
		} else {
			next.fn()
		}
	}
}

// Pending returns how many callbacks are still scheduled.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *ManualClock) popDue(target time.Time) *manualTimer {
	idx := -1
	for i, t := range c.pending {
		if t.at.After(target) {
			continue
		}
		if idx < 0 || t.at.Before(c.pending[idx].at) || (t.at.Equal(c.pending[idx].at) && t.seq < c.pending[idx].seq) {
			idx = i
		}
	}
	if idx < 0 {
		return nil
	}
	t := c.pending[idx]
	c.pending = append(c.pending[:idx], c.pending[idx+1:]...)
	t.done = true
	return t
}

type manualTimer struct {
	clock *ManualClock
	at    time.Time
	seq   uint64
	fn    func()
	done  bool
}

func (t *manualTimer) Cancel() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	for i, p := range c.pending {
		if p == t {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			break
		}
	}
	return true
}
