// Package rotation decides which document each display group presents. Continuous
// documents follow a last-activated-wins selection; static-rotating documents cycle
// round-robin per group on an interval timer.
package rotation

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Lllllllleong/signagedisplay/internal/lifecycle"
	"github.com/Lllllllleong/signagedisplay/internal/models"
)

const (
	// ContinuousGroup is the group key of the continuous selection.
	ContinuousGroup = "continuous"

	MinInterval     = 5 * time.Second
	MaxInterval     = 10 * time.Minute
	DefaultInterval = 30 * time.Second
)

// ClampInterval bounds an operator-supplied interval. Zero selects the default.
func ClampInterval(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return DefaultInterval
	case d < MinInterval:
		return MinInterval
	case d > MaxInterval:
		return MaxInterval
	}
	return d
}

// Selection is what one group should present. A nil Document means nothing to display.
type Selection struct {
	Group    string
	Document *models.Document
	Index    int
	Count    int
}

// Empty reports whether the selection is the nothing-to-display state.
func (s Selection) Empty() bool {
	return s.Document == nil
}

type Listener func(Selection)

type Options struct {
	Interval time.Duration
	// Playlist advances through every active continuous document on completion
	// instead of restarting the current one.
	Playlist bool
}

type group struct {
	key     string
	members []models.Document
	index   int
	// timerCount and timerInterval describe the running timer, zero when none.
	timerCount    int
	timerInterval time.Duration
}

func (g *group) selection() Selection {
	if len(g.members) == 0 {
		return Selection{Group: g.key}
	}
	doc := g.members[g.index]
	return Selection{Group: g.key, Document: &doc, Index: g.index, Count: len(g.members)}
}

// Scheduler is owned by the display session and must only be used from its Loop.
type Scheduler struct {
	clock    lifecycle.Clock
	tracker  *lifecycle.Tracker
	logger   *slog.Logger
	interval time.Duration
	playlist bool

	listeners []Listener
	groups    map[string]*group

	// Continuous selection state.
	seq        uint64
	activated  map[string]uint64
	continuous *group
	ticks      map[string]int
}

func NewScheduler(clock lifecycle.Clock, opts Options, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "rotation")
	return &Scheduler{
		clock:      clock,
		tracker:    lifecycle.NewTracker("rotation", logger),
		logger:     logger,
		interval:   ClampInterval(opts.Interval),
		playlist:   opts.Playlist,
		groups:     make(map[string]*group),
		activated:  make(map[string]uint64),
		continuous: &group{key: ContinuousGroup},
		ticks:      make(map[string]int),
	}
}

// OnSelection registers a listener for selection changes.
func (s *Scheduler) OnSelection(fn Listener) {
	s.listeners = append(s.listeners, fn)
}

func (s *Scheduler) Interval() time.Duration { return s.interval }

// Update ingests a full snapshot of the document records.
func (s *Scheduler) Update(docs []models.Document) {
	var continuous []models.Document
	grouped := make(map[string][]models.Document)
	for _, doc := range docs {
		if !doc.Active {
			continue
		}
		switch doc.Category {
		case models.CategoryContinuous:
			continuous = append(continuous, doc)
		case models.CategoryStaticRotating:
			key := doc.GroupKey()
			grouped[key] = append(grouped[key], doc)
		default:
			s.logger.Debug("Ignoring document with unknown category.", "documentId", doc.ID, "category", doc.Category)
		}
	}

	s.updateContinuous(continuous)

	keys := make([]string, 0, len(grouped)+len(s.groups))
	for key := range grouped {
		keys = append(keys, key)
	}
	for key := range s.groups {
		if _, ok := grouped[key]; !ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		s.updateGroup(key, grouped[key])
	}
}

func (s *Scheduler) updateContinuous(active []models.Document) {
	// Activation order: on the first snapshot older documents are treated as activated
	// first; afterwards documents are numbered in the order they turn active.
	sort.SliceStable(active, func(i, j int) bool {
		if !active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].CreatedAt.Before(active[j].CreatedAt)
		}
		return active[i].ID < active[j].ID
	})
	present := make(map[string]bool, len(active))
	for _, doc := range active {
		present[doc.ID] = true
		if _, ok := s.activated[doc.ID]; !ok {
			s.seq++
			s.activated[doc.ID] = s.seq
		}
	}
	for id := range s.activated {
		if !present[id] {
			delete(s.activated, id)
		}
	}

	sort.SliceStable(active, func(i, j int) bool {
		return s.activated[active[i].ID] < s.activated[active[j].ID]
	})

	g := s.continuous
	prev := g.selection()
	g.members = active

	switch {
	case len(active) == 0:
		g.index = 0
	case s.playlist:
		g.index = indexOf(active, prev.Document)
		if g.index < 0 {
			g.index = len(active) - 1
		}
	default:
		if len(active) > 1 {
			s.logger.Warn("Multiple continuous documents are active, presenting the most recently activated.",
				"count", len(active), "documentId", active[len(active)-1].ID)
		}
		g.index = len(active) - 1
	}

	s.emitIfChanged(prev, g.selection())
}

func (s *Scheduler) updateGroup(key string, members []models.Document) {
	sort.SliceStable(members, func(i, j int) bool {
		if !members[i].CreatedAt.Equal(members[j].CreatedAt) {
			return members[i].CreatedAt.Before(members[j].CreatedAt)
		}
		return members[i].ID < members[j].ID
	})

	g, ok := s.groups[key]
	if !ok {
		g = &group{key: key}
		s.groups[key] = g
	}
	prev := g.selection()
	prevCount := len(g.members)
	g.members = members

	switch {
	case len(members) == 0:
		g.index = 0
		delete(s.groups, key)
	case len(members) < prevCount:
		g.index = 0
	case g.index >= len(members):
		g.index = 0
	}

	s.syncTimer(g)
	s.emitIfChanged(prev, g.selection())
}

// syncTimer keeps exactly one timer for groups of two or more members, recreating it
// when the member count or the interval changed.
func (s *Scheduler) syncTimer(g *group) {
	kind := timerKind(g.key)
	count := len(g.members)
	if count < 2 {
		if s.tracker.Active(kind) {
			s.logger.Info("Stopping rotation timer.", "group", g.key, "count", count)
		}
		s.tracker.Release(kind)
		g.timerCount, g.timerInterval = 0, 0
		return
	}
	if s.tracker.Active(kind) && g.timerCount == count && g.timerInterval == s.interval {
		return
	}
	g.timerCount, g.timerInterval = count, s.interval
	s.logger.Info("Starting rotation timer.", "group", g.key, "count", count, "interval", s.interval.String())
	s.arm(g)
}

func (s *Scheduler) arm(g *group) {
	kind := timerKind(g.key)
	s.tracker.Replace(kind, s.clock.AfterFunc(g.timerInterval, func() {
		s.tracker.Forget(kind)
		if s.groups[g.key] != g || len(g.members) < 2 {
			return
		}
		s.tick(g)
		s.arm(g)
	}))
}

func (s *Scheduler) tick(g *group) {
	g.index = (g.index + 1) % len(g.members)
	s.ticks[g.key]++
	s.emit(g.selection())
}

// SetInterval changes the rotation interval, recreating every running timer.
func (s *Scheduler) SetInterval(d time.Duration) {
	d = ClampInterval(d)
	if d == s.interval {
		return
	}
	s.interval = d
	for _, key := range s.groupKeys() {
		s.syncTimer(s.groups[key])
	}
}

// AdvanceRequested is called when the presentation of a continuous document finished.
// In playlist mode the next active continuous document is selected; otherwise the
// current document keeps playing and the viewer restarts it. It reports whether the
// selection moved.
func (s *Scheduler) AdvanceRequested(documentID string) bool {
	g := s.continuous
	cur := g.selection()
	if cur.Document == nil || cur.Document.ID != documentID {
		s.logger.Debug("Ignoring advance request for a document that is not selected.", "documentId", documentID)
		return false
	}
	if !s.playlist || len(g.members) < 2 {
		s.logger.Info("Presentation completed, restarting the same document.", "documentId", documentID)
		return false
	}
	g.index = (g.index + 1) % len(g.members)
	s.emit(g.selection())
	return true
}

// Current returns the selection of a group.
func (s *Scheduler) Current(key string) Selection {
	if key == ContinuousGroup {
		return s.continuous.selection()
	}
	if g, ok := s.groups[key]; ok {
		return g.selection()
	}
	return Selection{Group: key}
}

// Selections returns the continuous selection followed by every group, sorted by key.
func (s *Scheduler) Selections() []Selection {
	out := []Selection{s.continuous.selection()}
	for _, key := range s.groupKeys() {
		out = append(out, s.groups[key].selection())
	}
	return out
}

// Status summarises every group for the status endpoint.
func (s *Scheduler) Status() []models.GroupStatus {
	var out []models.GroupStatus
	for _, sel := range s.Selections() {
		st := models.GroupStatus{Group: sel.Group, Index: sel.Index, Count: sel.Count}
		if sel.Document != nil {
			st.DocumentID = sel.Document.ID
		}
		if sel.Group != ContinuousGroup && sel.Count >= 2 {
			st.IntervalMS = s.interval.Milliseconds()
		}
		out = append(out, st)
	}
	return out
}

// ActiveTimers returns how many rotation timers are running.
func (s *Scheduler) ActiveTimers() int {
	return len(s.tracker.Kinds())
}

// Ticks returns how many times a group advanced on its timer.
func (s *Scheduler) Ticks(key string) int {
	return s.ticks[key]
}

// Close stops every timer. The scheduler emits nothing afterwards.
func (s *Scheduler) Close() {
	s.tracker.ReleaseAll()
	s.listeners = nil
}

func (s *Scheduler) groupKeys() []string {
	keys := make([]string, 0, len(s.groups))
	for key := range s.groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (s *Scheduler) emitIfChanged(prev, next Selection) {
	if sameSelection(prev, next) {
		return
	}
	if next.Empty() {
		s.logger.Info("Nothing to display.", "group", next.Group)
	}
	s.emit(next)
}

func (s *Scheduler) emit(sel Selection) {
	for _, fn := range s.listeners {
		fn(sel)
	}
}

func sameSelection(a, b Selection) bool {
	if a.Count != b.Count || a.Index != b.Index {
		return false
	}
	if a.Document == nil || b.Document == nil {
		return a.Document == nil && b.Document == nil
	}
	return a.Document.SameSource(*b.Document) && a.Document.Title == b.Document.Title
}

func indexOf(docs []models.Document, doc *models.Document) int {
	if doc == nil {
		return -1
	}
	for i := range docs {
		if docs[i].ID == doc.ID {
			return i
		}
	}
	return -1
}

func timerKind(key string) lifecycle.Kind {
	return lifecycle.Kind(string(lifecycle.KindRotation) + ":" + strings.ToLower(key))
}
