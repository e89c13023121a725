package models

import "time"

// These structs define the JSON payloads exchanged with the kiosk client and
// the admin collaborator over HTTP.

// ViewportMetrics is posted by the kiosk once its page images have laid out.
type ViewportMetrics struct {
	ContentHeight  int `json:"contentHeight"`
	ViewportHeight int `json:"viewportHeight"`
}

// ControlRequest is the operator action posted to a viewport.
type ControlRequest struct {
	Action string `json:"action"`          // pause, resume, restart, speed
	Speed  string `json:"speed,omitempty"` // slow, normal, fast
}

// SurfaceEvent is streamed to the kiosk client for one viewport.
type SurfaceEvent struct {
	Type      string   `json:"type"` // pages, scroll, clear
	Locations []string `json:"locations,omitempty"`
	Title     string   `json:"title,omitempty"`
	Offset    int      `json:"offset,omitempty"`
}

// ViewerStatus is the read-only derived state exposed for status display.
type ViewerStatus struct {
	Viewport         string   `json:"viewport"`
	DocumentID       string   `json:"documentId,omitempty"`
	Title            string   `json:"title,omitempty"`
	State            string   `json:"state"`
	CurrentPageCount int      `json:"currentPageCount"`
	LoadingProgress  int      `json:"loadingProgress"`
	LastError        string   `json:"lastError,omitempty"`
	Hints            []string `json:"hints,omitempty"`
	Paused           bool     `json:"paused"`
	Speed            string   `json:"speed"`
}

// GroupStatus describes one rotation group.
type GroupStatus struct {
	Group      string `json:"group"`
	DocumentID string `json:"documentId,omitempty"`
	Index      int    `json:"index"`
	Count      int    `json:"count"`
	IntervalMS int64  `json:"intervalMs"`
}

// PrerenderResponse is the outcome of a cache pre-warm run.
type PrerenderResponse struct {
	Status     string `json:"status"`
	DocumentID string `json:"documentId"`
	PageCount  int    `json:"pageCount"`
	Persisted  int    `json:"persisted"`
	Transient  int    `json:"transient"`
	Failed     int    `json:"failed"`
}

// DisplayStatus is the body of the status endpoint.
type DisplayStatus struct {
	Viewers          []ViewerStatus `json:"viewers"`
	Groups           []GroupStatus  `json:"groups"`
	TransientPages   int            `json:"transientPages"`
	RotationInterval int64          `json:"rotationIntervalMs"`
}

// RotationRequest changes the rotation interval of every static group.
type RotationRequest struct {
	IntervalSeconds int `json:"intervalSeconds"`
}

func (r RotationRequest) Interval() time.Duration {
	return time.Duration(r.IntervalSeconds) * time.Second
}
