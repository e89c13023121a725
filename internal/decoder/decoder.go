// Package decoder opens paginated source documents and renders single pages to
// raster images.
package decoder

import (
	"fmt"
	"image"
	"strings"
)

// Decoder opens a source document held in memory.
type Decoder interface {
	Open(data []byte) (Document, error)
	Name() string
}

// Document is an opened source. Page indexes start at 0; sizes are in points.
type Document interface {
	PageCount() int
	PageSize(index int) (width, height float64, err error)
	RenderPage(index int, scale float64) (image.Image, error)
	Close() error
}

// Type selects a decoder implementation.
type Type string

const (
	// TypeFitz renders through MuPDF (cgo).
	TypeFitz Type = "fitz"
	// TypePDFCPU is pure Go and renders the embedded page images of scanned documents.
	TypePDFCPU Type = "pdfcpu"
)

// New returns the decoder named by t. An empty type selects fitz.
func New(t Type) (Decoder, error) {
	switch Type(strings.ToLower(string(t))) {
	case TypeFitz, "":
		return NewFitz(), nil
	case TypePDFCPU:
		return NewPDFCPU(), nil
	}
	return nil, fmt.Errorf("unknown decoder %q", t)
}

func checkIndex(index, count int) error {
	if index < 0 || index >= count {
		return fmt.Errorf("page index %d out of range [0, %d)", index, count)
	}
	return nil
}
