package scroll

import (
	"math"
	"testing"
	"time"

	"github.com/Lllllllleong/signagedisplay/internal/lifecycle"
)

type fakeViewport struct {
	content  int
	viewport int
	writes   []int
	maxWrite int
}

func (v *fakeViewport) ContentHeight() int  { return v.content }
func (v *fakeViewport) ViewportHeight() int { return v.viewport }
func (v *fakeViewport) SetScrollTop(px int) {
	v.writes = append(v.writes, px)
	if px > v.maxWrite {
		v.maxWrite = px
	}
}

type harness struct {
	clock     *lifecycle.ManualClock
	tracker   *lifecycle.Tracker
	viewport  *fakeViewport
	automaton *Automaton
	completed int
	visited   map[State]bool
}

func newHarness(content, viewport int, opts Options) *harness {
	h := &harness{
		clock:    lifecycle.NewManualClock(nil),
		tracker:  lifecycle.NewTracker("test", nil),
		viewport: &fakeViewport{content: content, viewport: viewport},
		visited:  map[State]bool{},
	}
	h.automaton = New(h.clock, h.tracker, h.viewport, opts, func() { h.completed++ }, nil)
	return h
}

// run advances frame by frame, recording every state the automaton passes through.
func (h *harness) run(d time.Duration) {
	steps := int(d / h.clock.FrameInterval)
	for i := 0; i < steps; i++ {
		h.clock.Advance(h.clock.FrameInterval)
		h.visited[h.automaton.State()] = true
	}
}

func TestScenarioPinnedTargetNineHundred(t *testing.T) {
	opts := DefaultOptions()
	opts.AutoRestart = false
	h := newHarness(1900, 1000, opts)

	h.automaton.Start()
	if h.automaton.State() != Measuring {
		t.Fatalf("expected measuring after start, got %s", h.automaton.State())
	}

	h.run(opts.LayoutDelay + 10*time.Second)

	if h.automaton.Target() != 900 {
		t.Fatalf("expected pinned target 900, got %v", h.automaton.Target())
	}
	frames := h.automaton.Frames()
	lower := int(math.Floor((900 - opts.Epsilon) / 3))
	upper := int(math.Ceil(900.0/3)) + 1
	if frames < lower || frames > upper {
		t.Errorf("expected about 300 scroll frames, got %d (bounds %d..%d)", frames, lower, upper)
	}
	if h.viewport.maxWrite > 900 {
		t.Errorf("offset exceeded the pinned target: %d", h.viewport.maxWrite)
	}
	if h.completed != 1 {
		t.Errorf("expected exactly one completion, got %d", h.completed)
	}
	if h.automaton.State() != Finished {
		t.Errorf("expected finished, got %s", h.automaton.State())
	}
	if !h.visited[Settling] {
		t.Error("expected the session to dwell in settling")
	}
}

func TestDwellHoldsAtTarget(t *testing.T) {
	opts := DefaultOptions()
	opts.AutoRestart = false
	h := newHarness(1300, 1000, opts)
	h.automaton.Start()

	// 300px at 3px/frame is ~97 frames, well under two seconds.
	h.run(opts.LayoutDelay + 2*time.Second)
	if h.automaton.State() != Settling {
		t.Fatalf("expected settling, got %s", h.automaton.State())
	}
	if last := h.viewport.writes[len(h.viewport.writes)-1]; last != 300 {
		t.Errorf("expected snap to 300, got %d", last)
	}
	if h.completed != 0 {
		t.Fatal("completion fired before the dwell elapsed")
	}
	h.run(opts.Dwell + time.Second)
	if h.completed != 1 {
		t.Errorf("expected completion after dwell, got %d", h.completed)
	}
}

func TestNoOverflowFinishesWithoutScrolling(t *testing.T) {
	opts := DefaultOptions()
	opts.AutoRestart = false
	h := newHarness(800, 1000, opts)

	h.automaton.Start()
	h.run(opts.LayoutDelay + opts.RetryDelay + time.Second)

	if h.visited[Scrolling] {
		t.Error("non-overflowing content must not enter scrolling")
	}
	if h.automaton.State() != Finished {
		t.Errorf("expected finished, got %s", h.automaton.State())
	}
	if h.completed != 1 {
		t.Errorf("expected one completion, got %d", h.completed)
	}
}

func TestNoOverflowRetriesMeasuringWhenAutoRestart(t *testing.T) {
	opts := DefaultOptions()
	h := newHarness(800, 1000, opts)

	h.automaton.Start()
	h.run(opts.LayoutDelay + opts.RetryDelay + 100*time.Millisecond)
	if h.automaton.State() != Finished {
		t.Fatalf("expected finished, got %s", h.automaton.State())
	}

	// Images finished loading; the next session sees overflow.
	h.viewport.content = 1600
	h.run(opts.RestartDelay + opts.LayoutDelay + 200*time.Millisecond)
	if !h.visited[Scrolling] {
		t.Error("expected the restarted session to scroll once content overflows")
	}
	if h.automaton.Target() != 600 {
		t.Errorf("expected new pinned target 600, got %v", h.automaton.Target())
	}
}

func TestTargetIsPinnedAgainstReflow(t *testing.T) {
	opts := DefaultOptions()
	opts.AutoRestart = false
	h := newHarness(1600, 1000, opts)
	h.automaton.Start()
	h.run(opts.LayoutDelay + 500*time.Millisecond)

	h.viewport.content = 5000
	h.run(10 * time.Second)

	if h.automaton.Target() != 600 {
		t.Errorf("target recomputed mid-session: %v", h.automaton.Target())
	}
	if h.viewport.maxWrite > 600 {
		t.Errorf("scrolled past the pinned target: %d", h.viewport.maxWrite)
	}
}

func TestPauseFreezesAndResumeContinues(t *testing.T) {
	opts := DefaultOptions()
	opts.AutoRestart = false
	h := newHarness(3000, 1000, opts)
	h.automaton.Start()
	h.run(opts.LayoutDelay + time.Second)

	if !h.automaton.Pause() {
		t.Fatal("expected pause to succeed while scrolling")
	}
	frozen := h.automaton.Offset()
	framesAtPause := h.automaton.Frames()
	h.run(5 * time.Second)
	if h.automaton.Offset() != frozen || h.automaton.Frames() != framesAtPause {
		t.Fatalf("paused session moved: offset %v -> %v", frozen, h.automaton.Offset())
	}
	if h.tracker.Active(lifecycle.KindFrame) {
		t.Error("paused session still holds an animation frame")
	}

	h.automaton.SetSpeed(Fast)
	if !h.automaton.Resume() {
		t.Fatal("expected resume to succeed")
	}
	h.run(time.Second)
	if got := h.automaton.Offset() - frozen; got < 5*50 {
		t.Errorf("expected fast speed after resume, advanced only %v", got)
	}
}

func TestSpeedChangeDoesNotRestart(t *testing.T) {
	opts := DefaultOptions()
	opts.AutoRestart = false
	h := newHarness(10000, 1000, opts)
	h.automaton.Start()
	h.run(opts.LayoutDelay + time.Second)
	before := h.automaton.Offset()

	h.automaton.SetSpeed(Slow)
	h.run(time.Second)

	if h.automaton.Target() != 9000 {
		t.Errorf("target changed on speed change: %v", h.automaton.Target())
	}
	delta := h.automaton.Offset() - before
	if delta < 55 || delta > 61 {
		t.Errorf("expected ~60px at slow speed over one second, got %v", delta)
	}
}

func TestAutoRestartStartsNewSession(t *testing.T) {
	opts := DefaultOptions()
	h := newHarness(1300, 1000, opts)
	h.automaton.Start()
	h.run(opts.LayoutDelay + 2*time.Second + opts.Dwell)
	if h.completed != 1 {
		t.Fatalf("expected one completion, got %d", h.completed)
	}
	if !h.tracker.Active(lifecycle.KindRestart) {
		t.Fatal("expected a pending restart timer")
	}
	h.run(opts.RestartDelay + 100*time.Millisecond)
	if h.automaton.State() != Measuring {
		t.Errorf("expected a fresh measuring session, got %s", h.automaton.State())
	}
	if h.automaton.Offset() != 0 {
		t.Errorf("expected offset reset, got %v", h.automaton.Offset())
	}
}

func TestStopCancelsEverything(t *testing.T) {
	opts := DefaultOptions()
	h := newHarness(5000, 1000, opts)
	h.automaton.Start()
	h.run(opts.LayoutDelay + 500*time.Millisecond)

	h.automaton.Stop()
	if len(h.tracker.Kinds()) != 0 {
		t.Errorf("handles left after stop: %v", h.tracker.Kinds())
	}
	if h.clock.Pending() != 0 {
		t.Errorf("timers left on the clock after stop: %d", h.clock.Pending())
	}
	writes := len(h.viewport.writes)
	h.run(5 * time.Second)
	if len(h.viewport.writes) != writes {
		t.Error("stopped session kept writing scroll positions")
	}
}

func TestParseSpeed(t *testing.T) {
	cases := map[string]Speed{"slow": Slow, "NORMAL": Normal, "": Normal, " fast ": Fast}
	for in, want := range cases {
		got, err := ParseSpeed(in)
		if err != nil || got != want {
			t.Errorf("ParseSpeed(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseSpeed("warp"); err == nil {
		t.Error("expected error for unknown preset")
	}
}
