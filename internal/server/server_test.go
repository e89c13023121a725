package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/signagedisplay/internal/display"
	"github.com/Lllllllleong/signagedisplay/internal/lifecycle"
	"github.com/Lllllllleong/signagedisplay/internal/models"
	"github.com/Lllllllleong/signagedisplay/internal/raster"
	"github.com/Lllllllleong/signagedisplay/internal/rotation"
	"github.com/Lllllllleong/signagedisplay/internal/scroll"
)

type stubResolver struct{}

func (stubResolver) Resolve(ctx context.Context, doc models.Document, token lifecycle.Token, progress raster.Progress) (models.PageSequence, error) {
	seq := models.PageSequence{DocumentID: doc.ID, CacheKey: doc.ID, PageCount: 3}
	for i := 1; i <= 3; i++ {
		seq.Pages = append(seq.Pages, models.Persisted(i, fmt.Sprintf("/document-pages/plasa/%s/page-%d.jpg", doc.ID, i)))
	}
	return seq, nil
}

func (stubResolver) Release(models.PageSequence) {}

type fakeClearer struct {
	mu      sync.Mutex
	cleared []string
	forgot  []string
}

func (c *fakeClearer) ClearPages(ctx context.Context, documentID, kind string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleared = append(c.cleared, kind+"/"+documentID)
	return 3, nil
}

func (c *fakeClearer) Forget(locator, kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forgot = append(c.forgot, locator)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newSession(t *testing.T) *display.Session {
	t.Helper()
	loop := lifecycle.NewLoop()
	clock := lifecycle.NewManualClock(loop)
	session := display.New(loop, clock, stubResolver{}, display.Options{Scroll: scroll.DefaultOptions(), Rotation: rotation.Options{}}, discard())
	t.Cleanup(session.Close)
	session.Update([]models.Document{{
		ID: "plasa-03", Title: "PLASA", URL: "/uploads/plasa-03.pdf", Kind: "plasa",
		Category: models.CategoryContinuous, Active: true, CreatedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}})
	session.Wait()
	return session
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var out map[string]any
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode response %q: %v", rr.Body.String(), err)
		}
	}
	return rr, out
}

func TestStatus(t *testing.T) {
	h := New(Options{Session: newSession(t)}, discard()).Handler()
	rr, _ := do(t, h, http.MethodGet, "/api/status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var st models.DisplayStatus
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if len(st.Viewers) != 1 || st.Viewers[0].DocumentID != "plasa-03" || st.Viewers[0].CurrentPageCount != 3 {
		t.Errorf("unexpected status %+v", st)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id")
	}
}

func TestMetrics(t *testing.T) {
	session := newSession(t)
	h := New(Options{Session: session}, discard()).Handler()

	rr, body := do(t, h, http.MethodPost, "/api/viewports/lobby/metrics", `{"contentHeight":10,"viewportHeight":10}`)
	if rr.Code != http.StatusNotFound || body["code"] != "VIEWPORT_NOT_FOUND" {
		t.Errorf("expected not found envelope, got %d %v", rr.Code, body)
	}
	rr, body = do(t, h, http.MethodPost, "/api/viewports/main/metrics", `{"height":1}`)
	if rr.Code != http.StatusBadRequest || body["code"] != "INVALID_BODY" {
		t.Errorf("expected invalid body, got %d %v", rr.Code, body)
	}
	rr, _ = do(t, h, http.MethodPost, "/api/viewports/main/metrics", `{"contentHeight":2400,"viewportHeight":1080}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	remote, _ := session.Surface("main")
	if remote.ContentHeight() != 2400 || remote.ViewportHeight() != 1080 {
		t.Errorf("metrics not applied: %d/%d", remote.ContentHeight(), remote.ViewportHeight())
	}
}

func TestControl(t *testing.T) {
	h := New(Options{Session: newSession(t)}, discard()).Handler()

	rr, body := do(t, h, http.MethodPost, "/api/viewports/main/control", `{"action":"speed","speed":"slow"}`)
	if rr.Code != http.StatusOK || body["speed"] != "slow" {
		t.Errorf("expected slow speed, got %d %v", rr.Code, body)
	}
	rr, body = do(t, h, http.MethodPost, "/api/viewports/main/control", `{"action":"rewind"}`)
	if rr.Code != http.StatusBadRequest || body["code"] != "INVALID_ACTION" {
		t.Errorf("expected invalid action, got %d %v", rr.Code, body)
	}
	rr, body = do(t, h, http.MethodPost, "/api/viewports/main/control", `{"action":"speed","speed":"warp"}`)
	if rr.Code != http.StatusBadRequest || body["code"] != "INVALID_SPEED" {
		t.Errorf("expected invalid speed, got %d %v", rr.Code, body)
	}
	rr, _ = do(t, h, http.MethodGet, "/api/viewports/main/control", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestRotation(t *testing.T) {
	h := New(Options{Session: newSession(t)}, discard()).Handler()
	rr, body := do(t, h, http.MethodPut, "/api/rotation", `{"intervalSeconds":900}`)
	if rr.Code != http.StatusOK || body["intervalMs"] != float64(600000) {
		t.Errorf("expected the interval clamped to 10m, got %d %v", rr.Code, body)
	}
	rr, _ = do(t, h, http.MethodPut, "/api/rotation", `{"intervalSeconds":0}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestClearCache(t *testing.T) {
	session := newSession(t)
	rr, body := do(t, New(Options{Session: session}, discard()).Handler(), http.MethodPost, "/api/cache/clear", `{"url":"/uploads/plasa-03.pdf"}`)
	if rr.Code != http.StatusNotImplemented || body["code"] != "NOT_SUPPORTED" {
		t.Errorf("expected not supported without a clearer, got %d %v", rr.Code, body)
	}

	clearer := &fakeClearer{}
	h := New(Options{Session: session, Clearer: clearer, Forget: clearer}, discard()).Handler()
	rr, body = do(t, h, http.MethodPost, "/api/cache/clear", `{"documentId":"plasa-03","url":"/uploads/plasa-03.pdf","kind":"PLASA"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %v", rr.Code, body)
	}
	if body["cacheKey"] != "plasa-03" || body["removed"] != float64(3) || body["reloaded"] != float64(1) {
		t.Errorf("unexpected response %v", body)
	}
	if len(clearer.cleared) != 1 || clearer.cleared[0] != "plasa/plasa-03" || len(clearer.forgot) != 1 {
		t.Errorf("unexpected clearer calls %+v", clearer)
	}

	rr, _ = do(t, h, http.MethodPost, "/api/cache/clear", `{"documentId":"x"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without url, got %d", rr.Code)
	}
}

func TestPreflightAndTransientPages(t *testing.T) {
	store := raster.NewMemoryStore()
	ref := store.Put([]byte("jpeg"))
	h := New(Options{Session: newSession(t), Transients: store}, discard()).Handler()

	rr, _ := do(t, h, http.MethodOptions, "/api/viewports/main/metrics", "")
	if rr.Code != http.StatusNoContent || rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("unexpected preflight response %d %v", rr.Code, rr.Header())
	}
	rr, _ = do(t, h, http.MethodGet, ref, "")
	if rr.Code != http.StatusOK || rr.Body.String() != "jpeg" {
		t.Errorf("unexpected transient page response %d %q", rr.Code, rr.Body.String())
	}
}

func TestEventsStreamCurrentPages(t *testing.T) {
	srv := httptest.NewServer(New(Options{Session: newSession(t), Heartbeat: time.Hour}, discard()).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/viewports/main/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %s", ct)
	}

	reader := bufio.NewReader(resp.Body)
	var eventType string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("stream ended early: %v", err)
		}
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "event: ") {
			eventType = strings.TrimPrefix(line, "event: ")
		}
		if strings.HasPrefix(line, "data: ") {
			var ev models.SurfaceEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				t.Fatal(err)
			}
			if eventType != "pages" || len(ev.Locations) != 3 || ev.Title != "PLASA" {
				t.Errorf("unexpected first event %s %+v", eventType, ev)
			}
			return
		}
	}
}

func TestEventsUnknownViewport(t *testing.T) {
	h := New(Options{Session: newSession(t)}, discard()).Handler()
	rr, body := do(t, h, http.MethodGet, "/api/viewports/lobby/events", "")
	if rr.Code != http.StatusNotFound || body["code"] != "VIEWPORT_NOT_FOUND" {
		t.Errorf("expected not found, got %d %v", rr.Code, body)
	}
}
