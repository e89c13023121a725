package rotation

import (
	"testing"
	"time"

	"github.com/Lllllllleong/signagedisplay/internal/lifecycle"
	"github.com/Lllllllleong/signagedisplay/internal/models"
)

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func static(id, kind string, minutes int) models.Document {
	return models.Document{
		ID:        id,
		URL:       "https://files.example/" + id + ".pdf",
		Category:  models.CategoryStaticRotating,
		Kind:      kind,
		Active:    true,
		CreatedAt: base.Add(time.Duration(minutes) * time.Minute),
	}
}

func continuous(id string, minutes int) models.Document {
	return models.Document{
		ID:        id,
		URL:       "https://files.example/" + id + ".pdf",
		Category:  models.CategoryContinuous,
		Kind:      "plasa",
		Active:    true,
		CreatedAt: base.Add(time.Duration(minutes) * time.Minute),
	}
}

func newTestScheduler(opts Options) (*Scheduler, *lifecycle.ManualClock, *[]Selection) {
	clock := lifecycle.NewManualClock(nil)
	s := NewScheduler(clock, opts, nil)
	var got []Selection
	s.OnSelection(func(sel Selection) { got = append(got, sel) })
	return s, clock, &got
}

func TestEmptyGroupNeverStartsTimer(t *testing.T) {
	s, clock, _ := newTestScheduler(Options{Interval: 10 * time.Second})
	s.Update(nil)
	s.Update([]models.Document{{ID: "x", Category: models.CategoryStaticRotating, Kind: "menu", Active: false}})

	if s.ActiveTimers() != 0 || clock.Pending() != 0 {
		t.Fatalf("expected no timers, got %d tracked and %d pending", s.ActiveTimers(), clock.Pending())
	}
}

func TestTimerExistsOnlyForTwoOrMoreMembers(t *testing.T) {
	s, clock, _ := newTestScheduler(Options{Interval: 10 * time.Second})

	s.Update([]models.Document{static("a", "escala", 0)})
	if s.ActiveTimers() != 0 {
		t.Fatalf("single member should not rotate, got %d timers", s.ActiveTimers())
	}

	s.Update([]models.Document{static("a", "escala", 0), static("b", "escala", 1)})
	if s.ActiveTimers() != 1 || clock.Pending() != 1 {
		t.Fatalf("expected exactly one timer, got %d tracked and %d pending", s.ActiveTimers(), clock.Pending())
	}

	// Same snapshot again must not recreate the timer.
	s.Update([]models.Document{static("a", "escala", 0), static("b", "escala", 1)})
	if clock.Pending() != 1 {
		t.Fatalf("expected the timer to be kept, got %d pending", clock.Pending())
	}

	s.Update([]models.Document{static("a", "escala", 0)})
	if s.ActiveTimers() != 0 || clock.Pending() != 0 {
		t.Fatalf("expected timer removed, got %d tracked and %d pending", s.ActiveTimers(), clock.Pending())
	}
}

func TestRoundRobinAdvancesExactlyTwiceIn25Seconds(t *testing.T) {
	s, clock, got := newTestScheduler(Options{Interval: 10 * time.Second})
	s.Update([]models.Document{static("a", "cardapio", 0), static("b", "cardapio", 1)})
	*got = nil

	clock.Advance(25 * time.Second)

	if s.Ticks("cardapio") != 2 {
		t.Fatalf("expected 2 ticks, got %d", s.Ticks("cardapio"))
	}
	if len(*got) != 2 {
		t.Fatalf("expected 2 selections, got %d", len(*got))
	}
	if (*got)[0].Document.ID != "b" || (*got)[1].Document.ID != "a" {
		t.Errorf("unexpected rotation order: %s, %s", (*got)[0].Document.ID, (*got)[1].Document.ID)
	}
	if cur := s.Current("cardapio"); cur.Index != 0 || cur.Count != 2 {
		t.Errorf("expected index 0 of 2, got %d of %d", cur.Index, cur.Count)
	}
}

func TestIntervalChangeRecreatesTimer(t *testing.T) {
	s, clock, _ := newTestScheduler(Options{Interval: 10 * time.Second})
	s.Update([]models.Document{static("a", "escala", 0), static("b", "escala", 1)})
	clock.Advance(8 * time.Second)

	s.SetInterval(20 * time.Second)
	clock.Advance(5 * time.Second)
	if s.Ticks("escala") != 0 {
		t.Fatalf("old timer fired after interval change")
	}
	clock.Advance(15 * time.Second)
	if s.Ticks("escala") != 1 {
		t.Errorf("expected one tick at the new interval, got %d", s.Ticks("escala"))
	}
	if clock.Pending() != 1 {
		t.Errorf("expected one pending timer, got %d", clock.Pending())
	}
}

func TestShrinkResetsIndex(t *testing.T) {
	s, clock, _ := newTestScheduler(Options{Interval: 10 * time.Second})
	docs := []models.Document{static("a", "escala", 0), static("b", "escala", 1), static("c", "escala", 2)}
	s.Update(docs)
	clock.Advance(20 * time.Second)
	if s.Current("escala").Index != 2 {
		t.Fatalf("expected index 2, got %d", s.Current("escala").Index)
	}

	s.Update(docs[:2])
	if cur := s.Current("escala"); cur.Index != 0 || cur.Document.ID != "a" {
		t.Errorf("expected reset to a at index 0, got %d %v", cur.Index, cur.Document)
	}
}

func TestEmptyGroupEmitsNothingToDisplay(t *testing.T) {
	s, clock, got := newTestScheduler(Options{Interval: 10 * time.Second})
	s.Update([]models.Document{static("a", "escala", 0), static("b", "escala", 1)})
	*got = nil

	s.Update(nil)

	if len(*got) != 1 {
		t.Fatalf("expected one selection, got %d", len(*got))
	}
	sel := (*got)[0]
	if !sel.Empty() || sel.Group != "escala" || sel.Index != 0 || sel.Count != 0 {
		t.Errorf("expected nothing-to-display for escala, got %+v", sel)
	}
	if clock.Pending() != 0 {
		t.Errorf("expected timer removed, got %d pending", clock.Pending())
	}
}

func TestSubcategoriesRotateIndependently(t *testing.T) {
	s, clock, _ := newTestScheduler(Options{Interval: 10 * time.Second})
	oficial := []models.Document{static("o1", "escala", 0), static("o2", "escala", 1)}
	praca := []models.Document{static("p1", "escala", 0), static("p2", "escala", 1), static("p3", "escala", 2)}
	for i := range oficial {
		oficial[i].Subcategory = "oficial"
	}
	for i := range praca {
		praca[i].Subcategory = "praca"
	}
	s.Update(append(oficial, praca...))

	if s.ActiveTimers() != 2 {
		t.Fatalf("expected a timer per subgroup, got %d", s.ActiveTimers())
	}
	clock.Advance(30 * time.Second)
	if s.Current("escala/oficial").Index != 1 || s.Current("escala/praca").Index != 0 {
		t.Errorf("unexpected indexes: oficial=%d praca=%d", s.Current("escala/oficial").Index, s.Current("escala/praca").Index)
	}
}

func TestContinuousLastActivatedWins(t *testing.T) {
	s, _, got := newTestScheduler(Options{})
	s.Update([]models.Document{continuous("old", 0), continuous("new", 5)})
	if cur := s.Current(ContinuousGroup); cur.Document == nil || cur.Document.ID != "new" {
		t.Fatalf("expected newest on first snapshot, got %+v", cur)
	}

	// An older record activated later takes over.
	s.Update([]models.Document{continuous("new", 5)})
	s.Update([]models.Document{continuous("new", 5), continuous("old", 0)})
	if cur := s.Current(ContinuousGroup); cur.Document.ID != "old" {
		t.Errorf("expected the most recently activated, got %s", cur.Document.ID)
	}

	s.Update(nil)
	last := (*got)[len(*got)-1]
	if !last.Empty() || last.Group != ContinuousGroup {
		t.Errorf("expected nothing-to-display, got %+v", last)
	}
}

func TestContinuousURLChangeReselects(t *testing.T) {
	s, _, got := newTestScheduler(Options{})
	doc := continuous("bulletin", 0)
	s.Update([]models.Document{doc})
	*got = nil

	s.Update([]models.Document{doc})
	if len(*got) != 0 {
		t.Fatalf("unchanged snapshot emitted %d selections", len(*got))
	}

	doc.URL = "https://files.example/bulletin-v2.pdf"
	s.Update([]models.Document{doc})
	if len(*got) != 1 || (*got)[0].Document.URL != doc.URL {
		t.Errorf("expected reselection with the new URL, got %+v", *got)
	}
}

func TestAdvanceRequestedRestartsSameDocument(t *testing.T) {
	s, _, got := newTestScheduler(Options{})
	s.Update([]models.Document{continuous("a", 0), continuous("b", 1)})
	*got = nil

	if s.AdvanceRequested("b") {
		t.Error("expected no advance outside playlist mode")
	}
	if len(*got) != 0 {
		t.Errorf("expected no selection change, got %d", len(*got))
	}
}

func TestAdvanceRequestedPlaylist(t *testing.T) {
	s, _, got := newTestScheduler(Options{Playlist: true})
	s.Update([]models.Document{continuous("a", 0), continuous("b", 1), continuous("c", 2)})
	if s.Current(ContinuousGroup).Document.ID != "c" {
		t.Fatalf("expected c selected first")
	}
	*got = nil

	if !s.AdvanceRequested("c") {
		t.Fatal("expected advance in playlist mode")
	}
	if s.Current(ContinuousGroup).Document.ID != "a" {
		t.Errorf("expected wrap to a, got %s", s.Current(ContinuousGroup).Document.ID)
	}
	if s.AdvanceRequested("c") {
		t.Error("stale completion must not advance")
	}
	if len(*got) != 1 {
		t.Errorf("expected one emission, got %d", len(*got))
	}
}

func TestClampInterval(t *testing.T) {
	cases := []struct {
		in, want time.Duration
	}{
		{0, DefaultInterval},
		{time.Second, MinInterval},
		{time.Hour, MaxInterval},
		{45 * time.Second, 45 * time.Second},
	}
	for _, tc := range cases {
		if got := ClampInterval(tc.in); got != tc.want {
			t.Errorf("ClampInterval(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestCloseStopsTimers(t *testing.T) {
	s, clock, got := newTestScheduler(Options{Interval: 10 * time.Second})
	s.Update([]models.Document{static("a", "escala", 0), static("b", "escala", 1)})
	*got = nil
	s.Close()
	clock.Advance(time.Minute)
	if clock.Pending() != 0 || len(*got) != 0 {
		t.Errorf("scheduler kept running after close: %d pending, %d emitted", clock.Pending(), len(*got))
	}
}

func TestTitleEditReselects(t *testing.T) {
	s, _, got := newTestScheduler(Options{})
	doc := continuous("bulletin", 0)
	doc.Title = "PLASA"
	s.Update([]models.Document{doc})
	*got = nil

	doc.Title = "PLASA 2025-03"
	s.Update([]models.Document{doc})
	if len(*got) != 1 || (*got)[0].Document.Title != "PLASA 2025-03" {
		t.Errorf("expected the retitled document selected again, got %+v", *got)
	}
}
