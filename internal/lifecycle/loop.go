// Package lifecycle owns the transient handles of a display session: the cooperative
// executor every reaction runs on, the injected frame clock, the handle tracker that
// guarantees release on document change or unmount, and cancellation tokens for
// superseded asynchronous work.
package lifecycle

import "sync"

// Loop serialises every reaction of a display session. Timer ticks, animation frames,
// completed async operations and operator actions all run inside Do, one at a time.
//
// Do is not reentrant: code already running inside the loop calls the unexported,
// unlocked variants directly.
type Loop struct {
	mu sync.Mutex
}

func NewLoop() *Loop {
	return &Loop{}
}

// Do runs fn on the loop.
func (l *Loop) Do(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn()
}
