// Package viewer is the per-viewport presentation handle. It resolves the attached
// document to pages, shows them on its surface and, for continuous viewports, drives
// the scroll automaton and reports completion.
package viewer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Lllllllleong/signagedisplay/internal/lifecycle"
	"github.com/Lllllllleong/signagedisplay/internal/models"
	"github.com/Lllllllleong/signagedisplay/internal/raster"
	"github.com/Lllllllleong/signagedisplay/internal/scroll"
)

// Resolver is the rasterization pipeline as seen by a viewer.
type Resolver interface {
	Resolve(ctx context.Context, doc models.Document, token lifecycle.Token, progress raster.Progress) (models.PageSequence, error)
	Release(seq models.PageSequence)
}

// Surface is where a viewer's pages are shown.
type Surface interface {
	scroll.Viewport
	ShowPages(title string, locations []string)
	Clear()
}

type Mode int

const (
	// Continuous viewports scroll their document to the end and restart it.
	Continuous Mode = iota
	// Static viewports show their document without scrolling.
	Static
)

// Display states reported in Status when no scroll session runs.
const (
	StateEmpty   = "empty"
	StateLoading = "loading"
	StateReady   = "ready"
	StateError   = "error"
)

type Options struct {
	Name           string
	Mode           Mode
	Scroll         scroll.Options
	ResolveTimeout time.Duration
}

// Viewer must be used from the session Loop, except Wait.
type Viewer struct {
	name     string
	mode     Mode
	loop     *lifecycle.Loop
	tracker  *lifecycle.Tracker
	resolver Resolver
	surface  Surface
	scroller *scroll.Automaton
	timeout  time.Duration
	logger   *slog.Logger

	gen    lifecycle.Generation
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	doc      *models.Document
	seq      *models.PageSequence
	state    string
	progress int
	failure  *models.Failure
	paused   bool
	closed   bool
	advance  []func(documentID string)
}

func New(loop *lifecycle.Loop, clock lifecycle.Clock, resolver Resolver, surface Surface, opts Options, logger *slog.Logger) *Viewer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ResolveTimeout <= 0 {
		opts.ResolveTimeout = 5 * time.Minute
	}
	logger = logger.With("viewport", opts.Name)
	ctx, cancel := context.WithCancel(context.Background())
	v := &Viewer{
		name:     opts.Name,
		mode:     opts.Mode,
		loop:     loop,
		tracker:  lifecycle.NewTracker(opts.Name, logger),
		resolver: resolver,
		surface:  surface,
		timeout:  opts.ResolveTimeout,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		state:    StateEmpty,
	}
	if opts.Mode == Continuous {
		v.scroller = scroll.New(clock, v.tracker, surface, opts.Scroll, v.completed, logger)
	}
	return v
}

func (v *Viewer) Name() string { return v.name }

// OnAdvanceRequested registers fn to run when the scroll session of a document completes.
func (v *Viewer) OnAdvanceRequested(fn func(documentID string)) {
	v.advance = append(v.advance, fn)
}

// Attach presents doc, tearing down whatever was shown before. A nil doc clears the
// viewport. Attaching the document already shown is a no-op.
func (v *Viewer) Attach(doc *models.Document) {
	if v.closed {
		return
	}
	if doc != nil && v.doc != nil && v.doc.SameSource(*doc) && v.state != StateError {
		v.doc = doc
		return
	}
	v.teardown()
	v.doc = doc
	v.seq = nil
	v.failure = nil
	v.progress = 0
	v.paused = false

	if doc == nil {
		v.state = StateEmpty
		v.surface.Clear()
		v.logger.Info("Nothing to display.")
		return
	}
	v.state = StateLoading
	v.surface.Clear()
	v.logger.Info("Attaching document.", "documentId", doc.ID, "url", doc.URL)
	v.resolve(*doc)
}

// Restart replays the current document from the top. A document that failed to load
// is resolved again.
func (v *Viewer) Restart() {
	if v.closed || v.doc == nil {
		return
	}
	if v.state != StateReady {
		doc := v.doc
		v.doc = nil
		v.Attach(doc)
		return
	}
	v.paused = false
	if v.scroller != nil {
		v.scroller.Restart()
	}
}

// Pause freezes the scroll session. It reports whether anything was paused.
func (v *Viewer) Pause() bool {
	if v.scroller == nil || !v.scroller.Pause() {
		return false
	}
	v.paused = true
	return true
}

func (v *Viewer) Resume() bool {
	if v.scroller == nil || !v.scroller.Resume() {
		return false
	}
	v.paused = false
	return true
}

func (v *Viewer) SetSpeed(speed scroll.Speed) {
	if v.scroller != nil {
		v.scroller.SetSpeed(speed)
	}
}

// Status is the read-only derived state shown to operators.
func (v *Viewer) Status() models.ViewerStatus {
	st := models.ViewerStatus{
		Viewport:        v.name,
		State:           v.state,
		LoadingProgress: v.progress,
		Paused:          v.paused,
	}
	if v.doc != nil {
		st.DocumentID = v.doc.ID
		st.Title = v.doc.Title
	}
	if v.seq != nil {
		st.CurrentPageCount = len(v.seq.Locations())
	}
	if v.failure != nil {
		st.LastError = v.failure.Error()
		st.Hints = v.failure.Hints
	}
	if v.scroller != nil {
		st.Speed = string(v.scroller.Speed())
		if v.state == StateReady {
			st.State = v.scroller.State().String()
		}
	}
	return st
}

// Close releases every handle and discards in-flight work. The viewer is unusable afterwards.
func (v *Viewer) Close() {
	if v.closed {
		return
	}
	v.closed = true
	v.teardown()
	v.cancel()
	v.surface.Clear()
	v.advance = nil
}

// Wait blocks until in-flight resolutions have delivered their result. Call it
// outside the Loop.
func (v *Viewer) Wait() {
	v.wg.Wait()
}

func (v *Viewer) teardown() {
	if v.scroller != nil {
		v.scroller.Stop()
	}
	v.gen.Invalidate()
	v.tracker.ReleaseAll()
}

func (v *Viewer) resolve(doc models.Document) {
	token := v.gen.Next()
	ctx, cancel := context.WithTimeout(v.ctx, v.timeout)

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		defer cancel()

		progress := func(percent int) {
			v.loop.Do(func() {
				if token.Valid() && v.state == StateLoading {
					v.progress = percent
				}
			})
		}
		seq, err := v.resolver.Resolve(ctx, doc, token, progress)
		v.loop.Do(func() { v.apply(token, seq, err) })
	}()
}

func (v *Viewer) apply(token lifecycle.Token, seq models.PageSequence, err error) {
	if !token.Valid() || v.closed {
		if err == nil {
			v.resolver.Release(seq)
		}
		v.logger.Debug("Discarding stale page sequence.", "documentId", seq.DocumentID)
		return
	}
	if err != nil {
		if errors.Is(err, models.ErrSuperseded) {
			return
		}
		// The token is still current, so nothing else will replace the loading state.
		v.state = StateError
		v.progress = 100
		v.failure = &models.Failure{Kind: models.ErrSourceUnavailable, Message: "Document could not be loaded", Details: err.Error()}
		v.surface.Clear()
		v.logger.Error("Resolving pages failed.", "error", err)
		return
	}

	if refs := seq.TransientRefs(); len(refs) > 0 {
		v.tracker.TrackTransient(seq.DocumentID+":"+refs[0], func() { v.resolver.Release(seq) })
	}
	v.seq = &seq
	v.progress = 100

	if seq.Failure != nil {
		v.state = StateError
		v.failure = seq.Failure
		v.surface.Clear()
		v.logger.Error("Document cannot be displayed.", "documentId", seq.DocumentID, "error", seq.Failure.Error())
		return
	}

	locations := seq.Locations()
	v.state = StateReady
	title := ""
	if v.doc != nil {
		title = v.doc.Title
	}
	v.surface.ShowPages(title, locations)
	v.logger.Info("Pages ready.", "documentId", seq.DocumentID, "pages", len(locations), "cacheHit", seq.CacheHit)

	if v.scroller != nil && len(locations) > 0 {
		v.scroller.Start()
	}
}

func (v *Viewer) completed() {
	if v.doc == nil {
		return
	}
	id := v.doc.ID
	for _, fn := range v.advance {
		fn(id)
	}
}
