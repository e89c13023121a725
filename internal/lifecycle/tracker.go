package lifecycle

import (
	"log/slog"
	"sort"
)

// Kind names a slot of transient handle. A tracker holds at most one handle per kind.
type Kind string

const (
	KindFrame    Kind = "frame"
	KindMeasure  Kind = "measure"
	KindDwell    Kind = "dwell"
	KindRestart  Kind = "restart"
	KindRotation Kind = "rotation"
)

// Tracker registers every timer, frame and transient reference of one owner and
// releases them on document change, unmount, restart or stop. It is not safe for
// concurrent use; call it from the session Loop.
type Tracker struct {
	name       string
	handles    map[Kind]Handle
	transients map[string]func()
	logger     *slog.Logger
}

func NewTracker(name string, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		name:       name,
		handles:    make(map[Kind]Handle),
		transients: make(map[string]func()),
		logger:     logger,
	}
}

// Replace cancels the handle currently held for kind, then registers h.
// Two live handles of the same kind never coexist.
func (t *Tracker) Replace(kind Kind, h Handle) {
	if old, ok := t.handles[kind]; ok {
		old.Cancel()
	}
	if h == nil {
		delete(t.handles, kind)
		return
	}
	t.handles[kind] = h
}

// Release cancels and forgets the handle of the given kinds.
func (t *Tracker) Release(kinds ...Kind) {
	for _, kind := range kinds {
		if h, ok := t.handles[kind]; ok {
			h.Cancel()
			delete(t.handles, kind)
		}
	}
}

// Forget drops a handle whose callback is running, without cancelling it.
func (t *Tracker) Forget(kind Kind) {
	delete(t.handles, kind)
}

// Active reports whether a handle is registered for kind.
func (t *Tracker) Active(kind Kind) bool {
	_, ok := t.handles[kind]
	return ok
}

// Kinds lists the registered handle kinds, sorted.
func (t *Tracker) Kinds() []Kind {
	out := make([]Kind, 0, len(t.handles))
	for k := range t.handles {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TrackTransient registers a process-local reference and the func that frees it.
func (t *Tracker) TrackTransient(ref string, release func()) {
	if prev, ok := t.transients[ref]; ok && prev != nil {
		prev()
	}
	t.transients[ref] = release
}

// ReleaseTransients frees every tracked transient reference.
func (t *Tracker) ReleaseTransients() {
	if len(t.transients) == 0 {
		return
	}
	for ref, release := range t.transients {
		if release != nil {
			release()
		}
		delete(t.transients, ref)
	}
	t.logger.Debug("Released transient page references.", "owner", t.name)
}

// TransientCount returns how many transient references are held.
func (t *Tracker) TransientCount() int {
	return len(t.transients)
}

// ReleaseAll cancels every handle and frees every transient reference.
func (t *Tracker) ReleaseAll() {
	for kind, h := range t.handles {
		h.Cancel()
		delete(t.handles, kind)
	}
	t.ReleaseTransients()
}
