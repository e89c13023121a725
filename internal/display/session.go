// Package display wires the rotation scheduler to the viewers of one display. It owns
// the session Loop; every exported method is safe to call from any goroutine.
package display

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/Lllllllleong/signagedisplay/internal/lifecycle"
	"github.com/Lllllllleong/signagedisplay/internal/models"
	"github.com/Lllllllleong/signagedisplay/internal/rotation"
	"github.com/Lllllllleong/signagedisplay/internal/scroll"
	"github.com/Lllllllleong/signagedisplay/internal/store"
	"github.com/Lllllllleong/signagedisplay/internal/surface"
	"github.com/Lllllllleong/signagedisplay/internal/viewer"
)

// MainViewport shows the continuous selection.
const MainViewport = "main"

var (
	ErrUnknownViewport = errors.New("unknown viewport")
	ErrUnknownAction   = errors.New("unknown action")
)

type Options struct {
	Scroll   scroll.Options
	Rotation rotation.Options
}

type Session struct {
	loop      *lifecycle.Loop
	clock     lifecycle.Clock
	resolver  viewer.Resolver
	scheduler *rotation.Scheduler
	opts      Options
	logger    *slog.Logger

	// Guarded by loop.
	viewers  map[string]*viewer.Viewer
	surfaces map[string]*surface.Remote
	groups   map[string]string // viewport name -> rotation group
	closed   bool

	transients func() int
}

// New builds a session with the main viewport. Static viewports are added as their
// rotation groups appear. clock must deliver its callbacks on loop.
func New(loop *lifecycle.Loop, clock lifecycle.Clock, resolver viewer.Resolver, opts Options, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		loop:      loop,
		clock:     clock,
		resolver:  resolver,
		scheduler: rotation.NewScheduler(clock, opts.Rotation, logger),
		opts:      opts,
		logger:    logger.With("component", "display"),
		viewers:   make(map[string]*viewer.Viewer),
		surfaces:  make(map[string]*surface.Remote),
		groups:    make(map[string]string),
	}
	if counter, ok := resolver.(interface{ TransientCount() int }); ok {
		s.transients = counter.TransientCount
	}

	main := s.addViewer(MainViewport, rotation.ContinuousGroup, viewer.Continuous)
	main.OnAdvanceRequested(func(documentID string) {
		s.scheduler.AdvanceRequested(documentID)
	})
	s.scheduler.OnSelection(s.present)
	return s
}

// ViewportName maps a rotation group key to the name of the viewport showing it.
func ViewportName(group string) string {
	if group == rotation.ContinuousGroup {
		return MainViewport
	}
	name := strings.NewReplacer("/", "-", " ", "-").Replace(group)
	if name == MainViewport {
		return "group-" + name
	}
	return name
}

// Update ingests a full document snapshot.
func (s *Session) Update(docs []models.Document) {
	s.loop.Do(func() {
		if s.closed {
			return
		}
		s.scheduler.Update(docs)
	})
}

// Run feeds the session from source until ctx is done.
func (s *Session) Run(ctx context.Context, source store.Source) error {
	return source.Watch(ctx, s.Update)
}

// Surface returns the remote surface of a viewport.
func (s *Session) Surface(name string) (*surface.Remote, bool) {
	var r *surface.Remote
	s.loop.Do(func() { r = s.surfaces[name] })
	return r, r != nil
}

// Control applies an operator action to a viewport.
func (s *Session) Control(name string, req models.ControlRequest) (models.ViewerStatus, error) {
	var (
		st  models.ViewerStatus
		err error
	)
	s.loop.Do(func() {
		v, ok := s.viewers[name]
		if !ok {
			err = fmt.Errorf("%w: %s", ErrUnknownViewport, name)
			return
		}
		switch strings.ToLower(strings.TrimSpace(req.Action)) {
		case "pause":
			v.Pause()
		case "resume":
			v.Resume()
		case "toggle":
			if v.Status().Paused {
				v.Resume()
			} else {
				v.Pause()
			}
		case "restart":
			v.Restart()
		case "speed":
			var speed scroll.Speed
			if speed, err = scroll.ParseSpeed(req.Speed); err != nil {
				return
			}
			v.SetSpeed(speed)
		default:
			err = fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
			return
		}
		s.logger.Info("Viewport control applied.", "viewport", name, "action", req.Action, "speed", req.Speed)
		st = v.Status()
	})
	return st, err
}

// Reload resolves the pages of a document again on every viewport showing it,
// typically after its cached pages were cleared. It returns the number of viewports
// reloaded.
func (s *Session) Reload(documentID string) int {
	n := 0
	s.loop.Do(func() {
		for _, name := range s.viewerNames() {
			sel := s.scheduler.Current(s.groups[name])
			if sel.Document == nil || sel.Document.ID != documentID {
				continue
			}
			v := s.viewers[name]
			v.Attach(nil)
			v.Attach(sel.Document)
			n++
		}
	})
	return n
}

// SetRotationInterval changes the interval of every rotation group.
func (s *Session) SetRotationInterval(req models.RotationRequest) int64 {
	var out int64
	s.loop.Do(func() {
		s.scheduler.SetInterval(req.Interval())
		out = s.scheduler.Interval().Milliseconds()
	})
	return out
}

func (s *Session) Status() models.DisplayStatus {
	var st models.DisplayStatus
	s.loop.Do(func() {
		for _, name := range s.viewerNames() {
			st.Viewers = append(st.Viewers, s.viewers[name].Status())
		}
		st.Groups = s.scheduler.Status()
		st.RotationInterval = s.scheduler.Interval().Milliseconds()
	})
	if s.transients != nil {
		st.TransientPages = s.transients()
	}
	return st
}

// Close tears down every viewer and waits for in-flight resolutions to settle.
func (s *Session) Close() {
	var viewers []*viewer.Viewer
	s.loop.Do(func() {
		if s.closed {
			return
		}
		s.closed = true
		s.scheduler.Close()
		for _, name := range s.viewerNames() {
			v := s.viewers[name]
			v.Close()
			viewers = append(viewers, v)
			s.surfaces[name].Close()
		}
	})
	for _, v := range viewers {
		v.Wait()
	}
	s.logger.Info("Display session closed.")
}

// Wait blocks until every in-flight resolution has been applied or discarded.
func (s *Session) Wait() {
	var viewers []*viewer.Viewer
	s.loop.Do(func() {
		for _, v := range s.viewers {
			viewers = append(viewers, v)
		}
	})
	for _, v := range viewers {
		v.Wait()
	}
}

func (s *Session) present(sel rotation.Selection) {
	name := ViewportName(sel.Group)
	v, ok := s.viewers[name]
	if !ok {
		if sel.Empty() {
			return
		}
		v = s.addViewer(name, sel.Group, viewer.Static)
	}
	v.Attach(sel.Document)
}

func (s *Session) addViewer(name, group string, mode viewer.Mode) *viewer.Viewer {
	r := surface.NewRemote(name)
	v := viewer.New(s.loop, s.clock, s.resolver, r, viewer.Options{Name: name, Mode: mode, Scroll: s.opts.Scroll}, s.logger)
	s.viewers[name] = v
	s.surfaces[name] = r
	s.groups[name] = group
	s.logger.Info("Viewport created.", "viewport", name, "group", group)
	return v
}

// viewerNames lists viewports with the main viewport first.
func (s *Session) viewerNames() []string {
	names := make([]string, 0, len(s.viewers))
	for name := range s.viewers {
		if name != MainViewport {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return append([]string{MainViewport}, names...)
}
