package lifecycle

import (
	"sync/atomic"
	"time"
)

// DefaultFrameInterval is the animation frame period of a 60Hz display.
const DefaultFrameInterval = time.Second / 60

// Handle cancels a pending timer or frame callback.
type Handle interface {
	// Cancel prevents the callback from running. It reports whether the callback
	// was still pending.
	Cancel() bool
}

// Clock is the tick source injected into the automaton and the scheduler.
// Callbacks are always delivered on the session Loop.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Handle
	RequestFrame(fn func()) Handle
}

// RealClock drives callbacks from wall-clock timers.
type RealClock struct {
	loop          *Loop
	frameInterval time.Duration
}

func NewRealClock(loop *Loop, frameInterval time.Duration) *RealClock {
	if frameInterval <= 0 {
		frameInterval = DefaultFrameInterval
	}
	return &RealClock{loop: loop, frameInterval: frameInterval}
}

func (c *RealClock) Now() time.Time { return time.Now() }

func (c *RealClock) AfterFunc(d time.Duration, fn func()) Handle {
	h := &realHandle{}
	h.timer = time.AfterFunc(d, func() {
		c.loop.Do(func() {
			// Cancel may have won the race for the loop after the timer fired.
			if h.cancelled.Load() {
				return
			}
			h.fired.Store(true)
			fn()
		})
	})
	return h
}

func (c *RealClock) RequestFrame(fn func()) Handle {
	return c.AfterFunc(c.frameInterval, fn)
}

type realHandle struct {
	timer     *time.Timer
	cancelled atomic.Bool
	fired     atomic.Bool
}

func (h *realHandle) Cancel() bool {
	if h.cancelled.Swap(true) {
		return false
	}
	h.timer.Stop()
	return !h.fired.Load()
}
