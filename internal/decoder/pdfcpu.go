package decoder

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"strconv"

	"github.com/Lllllllleong/signagedisplay/internal/models"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// PDFCPU is a pure-Go decoder. pdfcpu validates the file and reports page geometry;
// a page is rendered from the largest image embedded on it, which covers scanned
// bulletins and rosters. Pages without an embedded image fail to render.
type PDFCPU struct {
	conf *model.Configuration
}

func NewPDFCPU() *PDFCPU {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFCPU{conf: conf}
}

func (p *PDFCPU) Name() string { return string(TypePDFCPU) }

func (p *PDFCPU) Open(data []byte) (Document, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF-")) {
		return nil, fmt.Errorf("%w: missing PDF header", models.ErrDecodeFailed)
	}
	dims, err := api.PageDims(bytes.NewReader(data), p.conf)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read page geometry: %v", models.ErrDecodeFailed, err)
	}
	if len(dims) == 0 {
		return nil, fmt.Errorf("%w: document has no pages", models.ErrDecodeFailed)
	}
	sizes := make([][2]float64, len(dims))
	for i, d := range dims {
		sizes[i] = [2]float64{d.Width, d.Height}
	}
	return &pdfcpuDocument{data: data, conf: p.conf, sizes: sizes}, nil
}

type pdfcpuDocument struct {
	data  []byte
	conf  *model.Configuration
	sizes [][2]float64
}

func (d *pdfcpuDocument) PageCount() int { return len(d.sizes) }

func (d *pdfcpuDocument) PageSize(index int) (float64, float64, error) {
	if err := checkIndex(index, len(d.sizes)); err != nil {
		return 0, 0, err
	}
	return d.sizes[index][0], d.sizes[index][1], nil
}

func (d *pdfcpuDocument) RenderPage(index int, scale float64) (image.Image, error) {
	if err := checkIndex(index, len(d.sizes)); err != nil {
		return nil, err
	}
	if scale <= 0 {
		return nil, fmt.Errorf("invalid render scale %v", scale)
	}
	pageNr := index + 1
	pages, err := api.ExtractImagesRaw(bytes.NewReader(d.data), []string{strconv.Itoa(pageNr)}, d.conf)
	if err != nil {
		return nil, fmt.Errorf("%w: page %d: failed to extract images: %v", models.ErrPageRenderFailed, pageNr, err)
	}

	var best *model.Image
	for _, imgs := range pages {
		for objNr := range imgs {
			img := imgs[objNr]
			if img.PageNr != 0 && img.PageNr != pageNr {
				continue
			}
			if best == nil || img.Width*img.Height > best.Width*best.Height {
				best = &img
			}
		}
	}
	if best == nil || best.Reader == nil {
		return nil, fmt.Errorf("%w: page %d has no embedded image", models.ErrPageRenderFailed, pageNr)
	}

	src, _, err := image.Decode(best.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: page %d: unsupported %s image: %v", models.ErrPageRenderFailed, pageNr, best.FileType, err)
	}

	w := int(math.Round(d.sizes[index][0] * scale))
	h := int(math.Round(d.sizes[index][1] * scale))
	return fit(src, w, h), nil
}

func (d *pdfcpuDocument) Close() error {
	d.data = nil
	return nil
}

// fit scales src onto a white w x h canvas, preserving its aspect ratio.
func fit(src image.Image, w, h int) image.Image {
	sb := src.Bounds()
	if w <= 0 || h <= 0 || sb.Dx() == 0 || sb.Dy() == 0 {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)

	ratio := math.Min(float64(w)/float64(sb.Dx()), float64(h)/float64(sb.Dy()))
	tw := int(math.Round(float64(sb.Dx()) * ratio))
	th := int(math.Round(float64(sb.Dy()) * ratio))
	off := image.Pt((w-tw)/2, (h-th)/2)
	draw.CatmullRom.Scale(dst, image.Rect(off.X, off.Y, off.X+tw, off.Y+th), src, sb, draw.Over, nil)
	return dst
}
