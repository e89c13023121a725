// Package scroll implements the continuous scroll automaton: it measures a tall page
// sequence inside a fixed viewport once, scrolls it to the bottom a few pixels per
// frame, dwells at the end and signals completion.
package scroll

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Lllllllleong/signagedisplay/internal/lifecycle"
)

// State of a scroll session.
type State int

const (
	Idle State = iota
	Measuring
	Scrolling
	Settling
	Finished
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Measuring:
		return "measuring"
	case Scrolling:
		return "scrolling"
	case Settling:
		return "settling"
	case Finished:
		return "finished"
	case Paused:
		return "paused"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Speed is one of the fixed scroll presets.
type Speed string

const (
	Slow   Speed = "slow"
	Normal Speed = "normal"
	Fast   Speed = "fast"
)

// PixelsPerFrame returns the preset's step. Unknown presets scroll at normal speed.
func (s Speed) PixelsPerFrame() float64 {
	switch s {
	case Slow:
		return 1
	case Fast:
		return 5
	default:
		return 3
	}
}

// ParseSpeed maps an operator string to a preset.
func ParseSpeed(s string) (Speed, error) {
	switch Speed(strings.ToLower(strings.TrimSpace(s))) {
	case Slow:
		return Slow, nil
	case Normal, "":
		return Normal, nil
	case Fast:
		return Fast, nil
	}
	return Normal, fmt.Errorf("unknown scroll speed %q", s)
}

// Viewport is the scrollable surface a session drives. Scroll writes are observable
// side effects, not abstractions over them.
type Viewport interface {
	ContentHeight() int
	ViewportHeight() int
	SetScrollTop(px int)
}

// Options tune the session timings.
type Options struct {
	LayoutDelay  time.Duration // wait before measuring so images can lay out
	RetryDelay   time.Duration // wait before finishing when content does not overflow
	Dwell        time.Duration // hold at the bottom
	RestartDelay time.Duration // wait before the next session when AutoRestart is set
	AutoRestart  bool
	Epsilon      float64 // distance from the target at which scrolling stops
	Speed        Speed
}

// DefaultOptions mirrors the kiosk's timings.
func DefaultOptions() Options {
	return Options{
		LayoutDelay:  time.Second,
		RetryDelay:   2 * time.Second,
		Dwell:        2 * time.Second,
		RestartDelay: 3 * time.Second,
		AutoRestart:  true,
		Epsilon:      10,
		Speed:        Normal,
	}
}

// Automaton is one viewport's scroll state machine. All methods must be called on
// the session Loop; callbacks from the clock are delivered there too.
type Automaton struct {
	clock    lifecycle.Clock
	tracker  *lifecycle.Tracker
	viewport Viewport
	opts     Options
	logger   *slog.Logger

	onComplete func()

	state   State
	session uint64
	target  float64
	offset  float64
	speed   Speed
	frames  int
	// completed guards the once-per-session completion callback.
	completed bool
}

// New builds an idle automaton. onComplete runs once per finished session.
func New(clock lifecycle.Clock, tracker *lifecycle.Tracker, viewport Viewport, opts Options, onComplete func(), logger *slog.Logger) *Automaton {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Epsilon <= 0 {
		opts.Epsilon = 10
	}
	if opts.Speed == "" {
		opts.Speed = Normal
	}
	return &Automaton{
		clock:      clock,
		tracker:    tracker,
		viewport:   viewport,
		opts:       opts,
		logger:     logger,
		onComplete: onComplete,
		speed:      opts.Speed,
	}
}

func (a *Automaton) State() State    { return a.state }
func (a *Automaton) Offset() float64 { return a.offset }
func (a *Automaton) Target() float64 { return a.target }
func (a *Automaton) Frames() int     { return a.frames }
func (a *Automaton) Speed() Speed    { return a.speed }

// SetAutoRestart toggles the restart after completion. A pending restart is
// cancelled when turned off.
func (a *Automaton) SetAutoRestart(on bool) {
	a.opts.AutoRestart = on
	if !on {
		a.tracker.Release(lifecycle.KindRestart)
	}
}

// SetSpeed changes the step live; a running session keeps its offset and target.
func (a *Automaton) SetSpeed(speed Speed) {
	a.speed = speed
}

// Start tears down any previous session and begins a new one from offset zero.
func (a *Automaton) Start() {
	a.teardown()
	a.session++
	a.offset = 0
	a.target = 0
	a.frames = 0
	a.completed = false
	a.viewport.SetScrollTop(0)
	a.state = Measuring

	session := a.session
	a.tracker.Replace(lifecycle.KindMeasure, a.clock.AfterFunc(a.opts.LayoutDelay, func() {
		if session != a.session {
			return
		}
		a.tracker.Forget(lifecycle.KindMeasure)
		a.measure()
	}))
}

// Restart jumps back to the top and starts over.
func (a *Automaton) Restart() {
	a.Start()
}

// Stop ends the session without completing it.
func (a *Automaton) Stop() {
	a.teardown()
	a.session++
	a.state = Idle
}

// Pause freezes a scrolling or settling session, keeping the offset.
func (a *Automaton) Pause() bool {
	if a.state != Scrolling && a.state != Settling {
		return false
	}
	a.tracker.Release(lifecycle.KindFrame, lifecycle.KindDwell)
	a.state = Paused
	return true
}

// Resume continues a paused session from its frozen offset at the current speed.
func (a *Automaton) Resume() bool {
	if a.state != Paused {
		return false
	}
	a.state = Scrolling
	a.scheduleFrame()
	return true
}

func (a *Automaton) measure() {
	// Pinned for the whole session even if the content reflows later.
	a.target = float64(a.viewport.ContentHeight() - a.viewport.ViewportHeight())
	logCtx := a.logger.With("target", a.target, "contentHeight", a.viewport.ContentHeight(), "viewportHeight", a.viewport.ViewportHeight())

	if a.target <= 0 {
		logCtx.Info("Content does not overflow the viewport, finishing and retrying later.")
		a.target = 0
		session := a.session
		a.tracker.Replace(lifecycle.KindDwell, a.clock.AfterFunc(a.opts.RetryDelay, func() {
			if session != a.session {
				return
			}
			a.tracker.Forget(lifecycle.KindDwell)
			a.finish()
		}))
		return
	}

	logCtx.Info("Starting scroll session.", "speed", string(a.speed))
	a.state = Scrolling
	a.scheduleFrame()
}

func (a *Automaton) scheduleFrame() {
	session := a.session
	a.tracker.Replace(lifecycle.KindFrame, a.clock.RequestFrame(func() {
		if session != a.session || a.state != Scrolling {
			return
		}
		a.tracker.Forget(lifecycle.KindFrame)
		a.step()
	}))
}

func (a *Automaton) step() {
	if a.offset < a.target-a.opts.Epsilon {
		a.offset += a.speed.PixelsPerFrame()
		if a.offset > a.target {
			a.offset = a.target
		}
		a.frames++
		a.viewport.SetScrollTop(int(a.offset))
		a.scheduleFrame()
		return
	}

	a.offset = a.target
	a.viewport.SetScrollTop(int(a.target))
	a.state = Settling
	a.logger.Info("Scroll reached the end of the document.", "frames", a.frames)

	session := a.session
	a.tracker.Replace(lifecycle.KindDwell, a.clock.AfterFunc(a.opts.Dwell, func() {
		if session != a.session || a.state != Settling {
			return
		}
		a.tracker.Forget(lifecycle.KindDwell)
		a.finish()
	}))
}

func (a *Automaton) finish() {
	a.tracker.Release(lifecycle.KindFrame, lifecycle.KindDwell, lifecycle.KindMeasure)
	a.state = Finished
	if a.completed {
		return
	}
	a.completed = true

	// The restart is registered before the completion callback runs, so a document
	// switch made by the callback tears it down with everything else.
	if a.opts.AutoRestart {
		session := a.session
		a.tracker.Replace(lifecycle.KindRestart, a.clock.AfterFunc(a.opts.RestartDelay, func() {
			if session != a.session {
				return
			}
			a.tracker.Forget(lifecycle.KindRestart)
			a.Start()
		}))
	}
	if a.onComplete != nil {
		a.onComplete()
	}
}

func (a *Automaton) teardown() {
	a.tracker.Release(lifecycle.KindFrame, lifecycle.KindMeasure, lifecycle.KindDwell, lifecycle.KindRestart)
}
