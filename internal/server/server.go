// Package server exposes the display session to kiosk browsers and operators.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/signagedisplay/internal/display"
	"github.com/Lllllllleong/signagedisplay/internal/models"
	"github.com/Lllllllleong/signagedisplay/internal/pagecache"
	"github.com/Lllllllleong/signagedisplay/internal/raster"
	"github.com/Lllllllleong/signagedisplay/internal/scroll"
)

const heartbeatInterval = 15 * time.Second

// Forgetter drops what the pipeline remembers about a source.
type Forgetter interface {
	Forget(locator, kind string)
}

type Options struct {
	Session *display.Session
	// Transients serves pages that could not be persisted.
	Transients http.Handler
	// Pages serves persisted pages when the cache lives on the local filesystem.
	Pages   http.Handler
	Clearer pagecache.Clearer
	Forget  Forgetter
	// Heartbeat keeps idle event streams open through proxies.
	Heartbeat time.Duration
}

type Server struct {
	opts   Options
	mux    *http.ServeMux
	logger *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = heartbeatInterval
	}
	s := &Server{opts: opts, mux: http.NewServeMux(), logger: logger.With("component", "server")}

	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/viewports/{name}/metrics", s.handleMetrics)
	s.mux.HandleFunc("POST /api/viewports/{name}/control", s.handleControl)
	s.mux.HandleFunc("GET /api/viewports/{name}/events", s.handleEvents)
	s.mux.HandleFunc("PUT /api/rotation", s.handleRotation)
	s.mux.HandleFunc("POST /api/cache/clear", s.handleClearCache)
	if opts.Transients != nil {
		s.mux.Handle(raster.TransientPrefix, opts.Transients)
	}
	if opts.Pages != nil {
		s.mux.Handle("/document-pages/", http.StripPrefix("/document-pages", opts.Pages))
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.withMiddleware(s.mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Session.Status())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	remote, ok := s.opts.Session.Surface(name)
	if !ok {
		writeError(w, http.StatusNotFound, "VIEWPORT_NOT_FOUND", "Unknown viewport", map[string]any{"viewport": name})
		return
	}
	var metrics models.ViewportMetrics
	if err := decodeBody(r, &metrics); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid metrics payload", err.Error())
		return
	}
	if err := remote.UpdateMetrics(metrics); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_METRICS", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var req models.ControlRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid control payload", err.Error())
		return
	}
	st, err := s.opts.Session.Control(r.PathValue("name"), req)
	switch {
	case errors.Is(err, display.ErrUnknownViewport):
		writeError(w, http.StatusNotFound, "VIEWPORT_NOT_FOUND", "Unknown viewport", map[string]any{"viewport": r.PathValue("name")})
	case errors.Is(err, display.ErrUnknownAction):
		writeError(w, http.StatusBadRequest, "INVALID_ACTION", err.Error(), map[string]any{"allowed": []string{"pause", "resume", "toggle", "restart", "speed"}})
	case err != nil:
		writeError(w, http.StatusBadRequest, "INVALID_SPEED", err.Error(), map[string]any{"allowed": []scroll.Speed{scroll.Slow, scroll.Normal, scroll.Fast}})
	default:
		writeJSON(w, http.StatusOK, st)
	}
}

func (s *Server) handleRotation(w http.ResponseWriter, r *http.Request) {
	var req models.RotationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid rotation payload", err.Error())
		return
	}
	if req.IntervalSeconds <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_INTERVAL", "intervalSeconds must be positive", nil)
		return
	}
	ms := s.opts.Session.SetRotationInterval(req)
	writeJSON(w, http.StatusOK, map[string]any{"intervalMs": ms})
}

// ClearCacheRequest names the source whose rendered pages are dropped.
type ClearCacheRequest struct {
	DocumentID string `json:"documentId"`
	URL        string `json:"url"`
	Kind       string `json:"kind"`
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if s.opts.Clearer == nil {
		writeError(w, http.StatusNotImplemented, "NOT_SUPPORTED", "The page cache backend cannot delete pages", nil)
		return
	}
	var req ClearCacheRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid clear-cache payload", err.Error())
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "URL_REQUIRED", "url is required", nil)
		return
	}
	kind := models.Document{Kind: req.Kind}.CacheKind()
	key := raster.CacheKey(req.URL)
	logCtx := s.logger.With("cacheKey", key, "kind", kind, "documentId", req.DocumentID)

	removed, err := s.opts.Clearer.ClearPages(r.Context(), key, kind)
	if err != nil {
		logCtx.Error("Failed to clear cached pages.", "error", err)
		writeError(w, http.StatusBadGateway, "CLEAR_FAILED", "Failed to clear cached pages", err.Error())
		return
	}
	if s.opts.Forget != nil {
		s.opts.Forget.Forget(req.URL, kind)
	}
	reloaded := 0
	if req.DocumentID != "" {
		reloaded = s.opts.Session.Reload(req.DocumentID)
	}
	logCtx.Info("Cleared cached pages.", "removed", removed, "reloaded", reloaded)
	writeJSON(w, http.StatusOK, map[string]any{"cacheKey": key, "removed": removed, "reloaded": reloaded})
}

// handleEvents streams a viewport's surface events as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	remote, ok := s.opts.Session.Surface(name)
	if !ok {
		writeError(w, http.StatusNotFound, "VIEWPORT_NOT_FOUND", "Unknown viewport", map[string]any{"viewport": name})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "Streaming unsupported", nil)
		return
	}
	events, cancel, err := remote.Subscribe()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", err.Error(), nil)
		return
	}
	defer cancel()

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logCtx := s.logger.With("viewport", name)
	logCtx.Info("Kiosk connected.")
	defer logCtx.Info("Kiosk disconnected.")

	heartbeat := time.NewTicker(s.opts.Heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				logCtx.Warn("Failed to write event.", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev models.SurfaceEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		header := writer.Header()
		header.Set("X-Request-ID", requestID)
		header.Set("Access-Control-Allow-Origin", "*")
		header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
		header.Set("Cache-Control", "no-store")

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(writer, r)

		// Page fetches are too frequent to log.
		if strings.HasPrefix(r.URL.Path, "/api/") {
			s.logger.Debug("Request served.",
				"requestId", requestID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", writer.status,
				"durationMs", time.Since(started).Milliseconds(),
			)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}
