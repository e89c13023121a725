// Package surface implements the viewport a kiosk browser renders. The kiosk reports
// its laid-out heights; pages, scroll offsets and clears are streamed back to it.
package surface

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/Lllllllleong/signagedisplay/internal/models"
)

const (
	EventPages  = "pages"
	EventScroll = "scroll"
	EventClear  = "clear"

	subscriberBuffer = 64
)

var ErrClosed = errors.New("surface closed")

// Stats counts delivered and dropped events.
type Stats struct {
	Subscribers int
	Sent        uint64
	Dropped     uint64
	Evicted     uint64
}

// Remote is a viewport whose layout lives in a kiosk browser. It is safe for
// concurrent use: the session loop drives it while HTTP handlers report metrics
// and stream events.
type Remote struct {
	name string

	mu       sync.RWMutex
	content  int
	viewport int
	pages    *models.SurfaceEvent
	offset   int
	subs     map[uint64]chan models.SurfaceEvent
	nextID   uint64
	closed   bool

	sent    atomic.Uint64
	dropped atomic.Uint64
	evicted atomic.Uint64
}

func NewRemote(name string) *Remote {
	return &Remote{name: name, subs: make(map[uint64]chan models.SurfaceEvent)}
}

func (r *Remote) Name() string { return r.name }

func (r *Remote) ContentHeight() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.content
}

func (r *Remote) ViewportHeight() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.viewport
}

// UpdateMetrics records the heights measured by the kiosk.
func (r *Remote) UpdateMetrics(m models.ViewportMetrics) error {
	if m.ContentHeight < 0 || m.ViewportHeight <= 0 {
		return errors.New("heights must be positive")
	}
	r.mu.Lock()
	r.content = m.ContentHeight
	r.viewport = m.ViewportHeight
	r.mu.Unlock()
	return nil
}

func (r *Remote) SetScrollTop(px int) {
	r.mu.Lock()
	if r.offset == px {
		r.mu.Unlock()
		return
	}
	r.offset = px
	r.mu.Unlock()
	r.publish(models.SurfaceEvent{Type: EventScroll, Offset: px}, false)
}

func (r *Remote) ShowPages(title string, locations []string) {
	ev := models.SurfaceEvent{Type: EventPages, Title: title, Locations: append([]string(nil), locations...)}
	r.mu.Lock()
	r.pages = &ev
	r.offset = 0
	// Heights of the previous document no longer apply.
	r.content = 0
	r.mu.Unlock()
	r.publish(ev, true)
}

func (r *Remote) Clear() {
	r.mu.Lock()
	wasShowing := r.pages != nil
	r.pages = nil
	r.offset = 0
	r.content = 0
	r.mu.Unlock()
	if wasShowing {
		r.publish(models.SurfaceEvent{Type: EventClear}, true)
	}
}

// Subscribe returns a stream that starts with the current pages and offset. The
// channel is closed by cancel, by Close, or when the subscriber falls so far behind
// that it would miss a page change; the client is expected to reconnect.
func (r *Remote) Subscribe() (<-chan models.SurfaceEvent, func(), error) {
	ch := make(chan models.SurfaceEvent, subscriberBuffer)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, nil, ErrClosed
	}
	if r.pages != nil {
		ch <- *r.pages
		if r.offset > 0 {
			ch <- models.SurfaceEvent{Type: EventScroll, Offset: r.offset}
		}
	} else {
		ch <- models.SurfaceEvent{Type: EventClear}
	}
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	r.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() { r.unsubscribe(id) })
	}
	return ch, cancel, nil
}

func (r *Remote) Stats() Stats {
	r.mu.RLock()
	n := len(r.subs)
	r.mu.RUnlock()
	return Stats{Subscribers: n, Sent: r.sent.Load(), Dropped: r.dropped.Load(), Evicted: r.evicted.Load()}
}

// Close ends every stream.
func (r *Remote) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for id, ch := range r.subs {
		close(ch)
		delete(r.subs, id)
	}
}

func (r *Remote) unsubscribe(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.subs[id]; ok {
		close(ch)
		delete(r.subs, id)
	}
}

// publish never blocks. A full subscriber loses scroll events; one that would lose
// a page change is evicted instead.
func (r *Remote) publish(ev models.SurfaceEvent, mustDeliver bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ch := range r.subs {
		select {
		case ch <- ev:
			r.sent.Add(1)
		default:
			if !mustDeliver {
				r.dropped.Add(1)
				continue
			}
			r.evicted.Add(1)
			close(ch)
			delete(r.subs, id)
		}
	}
}
