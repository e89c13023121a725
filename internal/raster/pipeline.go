// Package raster turns a paginated source document into an ordered sequence of cached
// page images, reusing the page cache when every page is already stored.
package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"math"
	"sync"

	"github.com/Lllllllleong/signagedisplay/internal/decoder"
	"github.com/Lllllllleong/signagedisplay/internal/fetch"
	"github.com/Lllllllleong/signagedisplay/internal/lifecycle"
	"github.com/Lllllllleong/signagedisplay/internal/models"
	"github.com/Lllllllleong/signagedisplay/internal/pagecache"
)

// Progress receives the share of pages processed, 0 to 100.
type Progress func(percent int)

type Options struct {
	MaxScale       float64
	MaxDimension   float64
	JPEGQuality    int
	MinSourceBytes int
}

func DefaultOptions() Options {
	return Options{
		MaxScale:       1.5,
		MaxDimension:   2048,
		JPEGQuality:    85,
		MinSourceBytes: 100,
	}
}

var decodeHints = []string{
	"Confirm the file was uploaded completely.",
	"Re-export the document as PDF and upload it again.",
	"Upload the page as an image (JPG or PNG) instead.",
}

var sourceHints = []string{
	"Check that the document server is reachable from the display.",
	"Confirm the document URL is still valid.",
}

// Pipeline resolves documents to page sequences. It is safe for concurrent use.
type Pipeline struct {
	cache      pagecache.Service
	decoder    decoder.Decoder
	fetcher    fetch.Fetcher
	transients *MemoryStore
	opts       Options
	logger     *slog.Logger

	mu     sync.Mutex
	counts map[string]int
}

func New(cache pagecache.Service, dec decoder.Decoder, fetcher fetch.Fetcher, transients *MemoryStore, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.MaxScale <= 0 {
		opts.MaxScale = def.MaxScale
	}
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = def.MaxDimension
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = def.JPEGQuality
	}
	if opts.MinSourceBytes <= 0 {
		opts.MinSourceBytes = def.MinSourceBytes
	}
	if transients == nil {
		transients = NewMemoryStore()
	}
	return &Pipeline{
		cache:      cache,
		decoder:    dec,
		fetcher:    fetcher,
		transients: transients,
		opts:       opts,
		logger:     logger.With("component", "raster"),
		counts:     make(map[string]int),
	}
}

// Transients returns the store serving pages that could not be persisted.
func (p *Pipeline) Transients() *MemoryStore {
	return p.transients
}

// Resolve produces the page sequence of doc. Pipeline failures are reported in the
// sequence's Failure, never as an error. The returned error is non-nil only when the
// work was superseded (token invalidated or ctx cancelled); the partial result is then
// released and must not be shown. Running out of ctx's deadline is a failure.
func (p *Pipeline) Resolve(ctx context.Context, doc models.Document, token lifecycle.Token, progress Progress) (models.PageSequence, error) {
	seq, err := p.resolve(ctx, doc, token, progress)
	if errors.Is(err, context.DeadlineExceeded) && token.Valid() {
		key := CacheKey(doc.URL)
		p.logger.Error("Resolving pages timed out.", "documentId", doc.ID, "cacheKey", key, "error", err)
		base := models.PageSequence{DocumentID: doc.ID, CacheKey: key, Source: doc.URL}
		return p.failed(base, models.ErrSourceUnavailable, "Document took too long to load", err.Error(), sourceHints), nil
	}
	return seq, err
}

func (p *Pipeline) resolve(ctx context.Context, doc models.Document, token lifecycle.Token, progress Progress) (models.PageSequence, error) {
	key := CacheKey(doc.URL)
	kind := doc.CacheKind()
	logCtx := p.logger.With("documentId", doc.ID, "cacheKey", key, "kind", kind)
	seq := models.PageSequence{DocumentID: doc.ID, CacheKey: key, Source: doc.URL}
	report := func(percent int) {
		if progress != nil {
			progress(percent)
		}
	}

	if IsImageLocator(doc.URL) {
		logCtx.Info("Source is an image, skipping rasterization.")
		report(100)
		return p.imageSequence(seq, doc.URL), nil
	}

	expected := doc.PageCount
	if expected <= 0 {
		expected = p.rememberedCount(key, kind)
	}
	checked := false
	if expected > 0 {
		checked = true
		if hit, ok := p.checkCache(ctx, logCtx, key, kind, expected); ok {
			seq.PageCount = expected
			seq.Pages = hit
			seq.CacheHit = true
			report(100)
			return seq, nil
		}
	}
	if err := superseded(ctx, token); err != nil {
		return models.PageSequence{}, err
	}

	src, err := p.fetcher.Fetch(ctx, doc.URL)
	if err != nil {
		if serr := superseded(ctx, token); serr != nil {
			return models.PageSequence{}, serr
		}
		logCtx.Error("Failed to fetch source.", "error", err)
		return p.failed(seq, models.ErrSourceUnavailable, "Document source is unavailable", err.Error(), sourceHints), nil
	}
	if err := superseded(ctx, token); err != nil {
		return models.PageSequence{}, err
	}

	if IsImageContent(src.ContentType) {
		logCtx.Info("Fetched source is an image, skipping rasterization.", "contentType", src.ContentType)
		report(100)
		return p.imageSequence(seq, src.Locator), nil
	}
	if len(src.Data) < p.opts.MinSourceBytes {
		logCtx.Error("Source is too small to be a document.", "bytes", len(src.Data))
		return p.failed(seq, models.ErrDecodeFailed, "Invalid or too small document file", fmt.Sprintf("%d bytes", len(src.Data)), decodeHints), nil
	}

	opened, err := p.decoder.Open(src.Data)
	if err != nil {
		logCtx.Error("Failed to decode source.", "decoder", p.decoder.Name(), "error", err)
		return p.failed(seq, models.ErrDecodeFailed, "Failed to process document", err.Error(), decodeHints), nil
	}
	defer opened.Close()

	n := opened.PageCount()
	if n == 0 {
		logCtx.Error("Decoded document has no pages.", "decoder", p.decoder.Name())
		return p.failed(seq, models.ErrDecodeFailed, "Document has no pages", "", decodeHints), nil
	}
	p.remember(key, kind, n)
	seq.PageCount = n
	logCtx = logCtx.With("pageCount", n)

	// The page count was only learned by decoding; the cache may still hold every page.
	if !checked || n != expected {
		if hit, ok := p.checkCache(ctx, logCtx, key, kind, n); ok {
			seq.Pages = hit
			seq.CacheHit = true
			report(100)
			return seq, nil
		}
	}

	logCtx.Info("Rasterizing document.")
	seq.Pages = make([]models.PageResult, 0, n)
	for i := 0; i < n; i++ {
		if err := superseded(ctx, token); err != nil {
			p.Release(seq)
			logCtx.Info("Rasterization superseded.", "page", i+1)
			return models.PageSequence{}, err
		}
		seq.Pages = append(seq.Pages, p.renderPage(ctx, logCtx, opened, key, kind, i))
		report((i + 1) * 100 / n)
	}
	if err := superseded(ctx, token); err != nil {
		p.Release(seq)
		return models.PageSequence{}, err
	}

	if len(seq.Locations()) == 0 {
		logCtx.Error("No page could be rendered.", "decoder", p.decoder.Name())
		seq.Failure = &models.Failure{
			Kind:    models.ErrPageRenderFailed,
			Message: "No page of the document could be rendered",
			Details: fmt.Sprintf("%d of %d pages failed with the %s decoder", n, n, p.decoder.Name()),
			Hints:   decodeHints,
		}
		return seq, nil
	}

	logCtx.Info("Document rasterized.",
		"persisted", seq.Count(models.PagePersisted),
		"transient", seq.Count(models.PageTransient),
		"failed", seq.Count(models.PageFailed),
	)
	return seq, nil
}

// Release frees the transient pages of a sequence that will not be shown.
func (p *Pipeline) Release(seq models.PageSequence) {
	for _, ref := range seq.TransientRefs() {
		p.transients.Release(ref)
	}
}

// Forget drops the remembered page count of a source, e.g. after its cache was cleared.
func (p *Pipeline) Forget(locator, kind string) {
	p.mu.Lock()
	delete(p.counts, kind+"/"+CacheKey(locator))
	p.mu.Unlock()
}

func (p *Pipeline) renderPage(ctx context.Context, logCtx *slog.Logger, doc decoder.Document, key, kind string, index int) models.PageResult {
	number := index + 1
	logCtx = logCtx.With("page", number)

	w, h, err := doc.PageSize(index)
	if err != nil {
		logCtx.Error("Failed to read page size, skipping page.", "error", err)
		return models.Failed(number, fmt.Errorf("%w: %v", models.ErrPageRenderFailed, err))
	}
	img, err := doc.RenderPage(index, p.scaleFor(w, h))
	if err != nil {
		logCtx.Error("Failed to render page, skipping page.", "error", err)
		if !errors.Is(err, models.ErrPageRenderFailed) {
			err = fmt.Errorf("%w: %v", models.ErrPageRenderFailed, err)
		}
		return models.Failed(number, err)
	}
	data, err := p.encode(img)
	if err != nil {
		logCtx.Error("Failed to encode page, skipping page.", "error", err)
		return models.Failed(number, fmt.Errorf("%w: %v", models.ErrPageRenderFailed, err))
	}

	location, err := p.cache.UploadPage(ctx, data, number, key, kind)
	if err != nil {
		ref := p.transients.Put(data)
		logCtx.Warn("Failed to upload page, serving it from memory.", "ref", ref, "error", fmt.Errorf("%w: %v", models.ErrCacheUploadFailed, err))
		return models.Transient(number, ref)
	}
	return models.Persisted(number, location)
}

// scaleFor keeps the longest side of the rendered page within MaxDimension pixels.
func (p *Pipeline) scaleFor(w, h float64) float64 {
	longest := math.Max(w, h)
	if longest <= 0 {
		return p.opts.MaxScale
	}
	return math.Min(p.opts.MaxScale, p.opts.MaxDimension/longest)
}

func (p *Pipeline) encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.opts.JPEGQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *Pipeline) checkCache(ctx context.Context, logCtx *slog.Logger, key, kind string, expected int) ([]models.PageResult, bool) {
	res, err := p.cache.CheckPages(ctx, key, expected, kind)
	if err != nil {
		logCtx.Warn("Cache check failed, rendering instead.", "error", err)
		return nil, false
	}
	if !res.AllPresent || len(res.Locations) != expected {
		logCtx.Info("Cache miss.", "found", res.Found, "expected", expected)
		return nil, false
	}
	pages := make([]models.PageResult, expected)
	for i, loc := range res.Locations {
		pages[i] = models.Persisted(i+1, loc)
	}
	logCtx.Info("Cache hit, reusing stored pages.", "pageCount", expected)
	return pages, true
}

func (p *Pipeline) imageSequence(seq models.PageSequence, location string) models.PageSequence {
	seq.PageCount = 1
	seq.Pages = []models.PageResult{models.Persisted(1, location)}
	return seq
}

func (p *Pipeline) failed(seq models.PageSequence, kind error, message, details string, hints []string) models.PageSequence {
	failure := &models.Failure{Kind: kind, Message: message, Details: details, Hints: hints}
	seq.PageCount = 1
	seq.Pages = []models.PageResult{models.Failed(1, failure)}
	seq.Failure = failure
	return seq
}

func (p *Pipeline) rememberedCount(key, kind string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[kind+"/"+key]
}

func (p *Pipeline) remember(key, kind string, n int) {
	p.mu.Lock()
	p.counts[kind+"/"+key] = n
	p.mu.Unlock()
}

func superseded(ctx context.Context, token lifecycle.Token) error {
	if !token.Valid() {
		return models.ErrSuperseded
	}
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", models.ErrSuperseded, err)
	}
	return nil
}

// TransientCount returns how many transient pages are currently held in memory.
func (p *Pipeline) TransientCount() int {
	return p.transients.Len()
}
