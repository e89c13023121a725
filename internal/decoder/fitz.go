package decoder

import (
	"fmt"
	"image"
	"sync"

	"github.com/Lllllllleong/signagedisplay/internal/models"
	"github.com/gen2brain/go-fitz"
)

// Fitz decodes with MuPDF. It handles PDF as well as the other formats MuPDF opens.
type Fitz struct{}

func NewFitz() *Fitz {
	return &Fitz{}
}

func (f *Fitz) Name() string { return string(TypeFitz) }

func (f *Fitz) Open(data []byte) (Document, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to open document: %v", models.ErrDecodeFailed, err)
	}
	n := doc.NumPage()
	if n < 1 {
		_ = doc.Close()
		return nil, fmt.Errorf("%w: document has no pages", models.ErrDecodeFailed)
	}
	return &fitzDocument{doc: doc, pages: n}, nil
}

type fitzDocument struct {
	// MuPDF contexts are not safe for concurrent use.
	mu    sync.Mutex
	doc   *fitz.Document
	pages int
}

func (d *fitzDocument) PageCount() int { return d.pages }

func (d *fitzDocument) PageSize(index int) (float64, float64, error) {
	if err := checkIndex(index, d.pages); err != nil {
		return 0, 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	rect, err := d.doc.Bound(index)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read bounds of page %d: %w", index+1, err)
	}
	return float64(rect.Dx()), float64(rect.Dy()), nil
}

// RenderPage renders at scale times the page's point size, i.e. 72*scale DPI.
func (d *fitzDocument) RenderPage(index int, scale float64) (image.Image, error) {
	if err := checkIndex(index, d.pages); err != nil {
		return nil, err
	}
	if scale <= 0 {
		return nil, fmt.Errorf("invalid render scale %v", scale)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	img, err := d.doc.ImageDPI(index, 72*scale)
	if err != nil {
		return nil, fmt.Errorf("%w: page %d: %v", models.ErrPageRenderFailed, index+1, err)
	}
	return img, nil
}

func (d *fitzDocument) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Close()
}
