package models

import (
	"strings"
	"time"
)

// Category partitions documents by how the display presents them.
type Category string

const (
	// CategoryContinuous documents are scrolled to the end and restarted. At most one is on screen.
	CategoryContinuous Category = "continuous"
	// CategoryStaticRotating documents are shown statically and cycled within their rotation group.
	CategoryStaticRotating Category = "static-rotating"
)

// Document is the admin-owned record of something the display can show.
// The rendering core only ever reads it.
type Document struct {
	ID          string    `firestore:"id,omitempty" json:"id"`
	Title       string    `firestore:"title,omitempty" json:"title"`
	URL         string    `firestore:"url,omitempty" json:"url"`
	Category    Category  `firestore:"category,omitempty" json:"category"`
	Kind        string    `firestore:"kind,omitempty" json:"kind"`
	Subcategory string    `firestore:"subcategory,omitempty" json:"subcategory,omitempty"`
	Active      bool      `firestore:"active" json:"active"`
	PageCount   int       `firestore:"pageCount,omitempty" json:"pageCount,omitempty"` // 0 when unknown
	CreatedAt   time.Time `firestore:"createdAt,omitempty" json:"createdAt"`
}

// GroupKey names the rotation group a static-rotating document belongs to.
func (d Document) GroupKey() string {
	kind := strings.ToLower(strings.TrimSpace(d.Kind))
	if kind == "" {
		kind = string(d.Category)
	}
	if sub := strings.ToLower(strings.TrimSpace(d.Subcategory)); sub != "" {
		return kind + "/" + sub
	}
	return kind
}

// CacheKind is the kind label sent to the page cache for this document.
func (d Document) CacheKind() string {
	if k := strings.ToLower(strings.TrimSpace(d.Kind)); k != "" {
		return k
	}
	return "document"
}

// SameSource reports whether two records point at the same rendered content.
// A page sequence built for one is reusable for the other.
func (d Document) SameSource(other Document) bool {
	return d.ID == other.ID && d.URL == other.URL
}
