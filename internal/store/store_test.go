package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/signagedisplay/internal/models"
)

func TestPollDeliversOnlyChangedSnapshots(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	snapshots := [][]models.Document{
		{{ID: "b", CreatedAt: t0.Add(time.Minute)}, {ID: "a", CreatedAt: t0}},
		{{ID: "a", CreatedAt: t0}, {ID: "b", CreatedAt: t0.Add(time.Minute)}},
		nil,
		{{ID: "a", CreatedAt: t0, Active: true}},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	calls := 0
	list := func(context.Context) ([]models.Document, error) {
		mu.Lock()
		defer mu.Unlock()
		i := calls
		calls++
		switch {
		case i == 2:
			return nil, errors.New("connection reset")
		case i >= len(snapshots):
			cancel()
			return nil, context.Canceled
		}
		return append([]models.Document(nil), snapshots[i]...), nil
	}

	var got [][]models.Document
	err := poll(ctx, time.Millisecond, list, func(docs []models.Document) { got = append(got, docs) }, discardLogger())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected the reordered duplicate and the error to be skipped, got %d deliveries", len(got))
	}
	if got[0][0].ID != "a" || got[0][1].ID != "b" {
		t.Errorf("snapshot not ordered by creation time: %+v", got[0])
	}
	if !got[1][0].Active {
		t.Errorf("expected the activation delivered, got %+v", got[1])
	}
}

func TestPollDeliversEmptyFirstSnapshot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	delivered := 0
	list := func(context.Context) ([]models.Document, error) { return []models.Document{}, nil }
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_ = poll(ctx, time.Millisecond, list, func([]models.Document) { delivered++ }, discardLogger())
	if delivered != 1 {
		t.Errorf("expected exactly one delivery of the empty collection, got %d", delivered)
	}
}

type fakeRows struct {
	rows [][]any
	i    int
	err  error
}

func (r *fakeRows) Next() bool {
	r.i++
	return r.i <= len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.i-1]
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = row[i].(string)
		case *bool:
			*p = row[i].(bool)
		case *int:
			*p = row[i].(int)
		case *time.Time:
			*p = row[i].(time.Time)
		}
	}
	return nil
}

func (r *fakeRows) Err() error { return r.err }

func TestScanDocuments(t *testing.T) {
	created := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	rows := &fakeRows{rows: [][]any{
		{"plasa", "PLASA March", "/uploads/plasa.pdf", "continuous", "plasa", "", true, 12, created},
		{"menu", "Menu", "/uploads/menu.jpg", "static-rotating", "cardapio", "lunch", false, 0, created},
	}}
	docs, err := scanDocuments(rows)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 || docs[0].Category != models.CategoryContinuous || docs[0].PageCount != 12 {
		t.Fatalf("unexpected documents %+v", docs)
	}
	if docs[1].GroupKey() != "cardapio/lunch" {
		t.Errorf("unexpected group key %q", docs[1].GroupKey())
	}

	if _, err := scanDocuments(&fakeRows{err: errors.New("boom")}); err == nil {
		t.Error("expected iteration error")
	}
}
