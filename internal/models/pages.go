package models

import (
	"errors"
	"fmt"
)

// Failure kinds surfaced by the rendering core. Pipeline-level ones become a display
// state; page-level ones are logged and the page is skipped or degraded.
var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrDecodeFailed      = errors.New("decode failed")
	ErrPageRenderFailed  = errors.New("page render failed")
	ErrCacheUploadFailed = errors.New("cache upload failed")
	ErrSuperseded        = errors.New("superseded")
)

// PageState tags how a page's location was obtained.
type PageState int

const (
	PagePersisted PageState = iota // stored by the page cache service
	PageTransient                  // held in process memory only
	PageFailed                     // could not be rendered
)

func (s PageState) String() string {
	switch s {
	case PagePersisted:
		return "persisted"
	case PageTransient:
		return "transient"
	case PageFailed:
		return "failed"
	}
	return fmt.Sprintf("PageState(%d)", int(s))
}

// PageResult is the outcome for one page of a document.
type PageResult struct {
	Number   int // 1-based
	State    PageState
	Location string
	Err      error
}

func Persisted(number int, location string) PageResult {
	return PageResult{Number: number, State: PagePersisted, Location: location}
}

func Transient(number int, ref string) PageResult {
	return PageResult{Number: number, State: PageTransient, Location: ref}
}

func Failed(number int, err error) PageResult {
	return PageResult{Number: number, State: PageFailed, Err: err}
}

// Failure is a pipeline-level error turned into something the screen can show.
type Failure struct {
	Kind    error
	Message string
	Details string
	Hints   []string
}

func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	if f.Details != "" {
		return fmt.Sprintf("%s: %s", f.Message, f.Details)
	}
	return f.Message
}

func (f *Failure) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.Kind
}

// PageSequence is the ordered list of raster pages for one document.
type PageSequence struct {
	DocumentID string
	CacheKey   string
	Source     string
	PageCount  int
	Pages      []PageResult
	CacheHit   bool
	Failure    *Failure
}

// Locations returns the locations of every page that can be shown, in page order.
func (s PageSequence) Locations() []string {
	out := make([]string, 0, len(s.Pages))
	for _, p := range s.Pages {
		if p.State != PageFailed && p.Location != "" {
			out = append(out, p.Location)
		}
	}
	return out
}

// TransientRefs returns the process-local references held by this sequence.
func (s PageSequence) TransientRefs() []string {
	var out []string
	for _, p := range s.Pages {
		if p.State == PageTransient {
			out = append(out, p.Location)
		}
	}
	return out
}

// Count returns how many pages ended in the given state.
func (s PageSequence) Count(state PageState) int {
	n := 0
	for _, p := range s.Pages {
		if p.State == state {
			n++
		}
	}
	return n
}
