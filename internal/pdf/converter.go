// Package pdf turns an uploaded PDF into an ordered set of page images.
package pdf

import (
	"context"
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"

	"github.com/spherical/takeoff/internal/domain"
	"github.com/spherical/takeoff/internal/observability"
)

const (
	// DefaultDPI renders pages at 1.5x the PDF's 72 dpi user space.
	DefaultDPI = 108
	// DefaultThumbnailWidth is the width of generated thumbnails in pixels.
	DefaultThumbnailWidth = 160
	// DefaultWorkers bounds parallel PNG encoding.
	DefaultWorkers = 4
)

// Converter rasterizes PDFs with MuPDF. It implements domain.PageSource.
type Converter struct {
	dpi            float64
	thumbnailWidth int
	workers        int
	logger         *observability.Logger
	onPage         func(done, total int)
}

// ConverterOption configures a Converter.
type ConverterOption func(*Converter)

// WithDPI sets the render resolution.
func WithDPI(dpi float64) ConverterOption {
	return func(c *Converter) {
		if dpi > 0 {
			c.dpi = dpi
		}
	}
}

// WithThumbnailWidth sets the thumbnail width; 0 disables thumbnails.
func WithThumbnailWidth(w int) ConverterOption {
	return func(c *Converter) {
		if w >= 0 {
			c.thumbnailWidth = w
		}
	}
}

// WithWorkers bounds the number of pages encoded concurrently.
func WithWorkers(n int) ConverterOption {
	return func(c *Converter) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithLogger sets the converter logger.
func WithLogger(logger *observability.Logger) ConverterOption {
	return func(c *Converter) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPageProgress registers a callback invoked after each page is encoded.
// Calls may come from several goroutines.
func WithPageProgress(fn func(done, total int)) ConverterOption {
	return func(c *Converter) {
		c.onPage = fn
	}
}

// NewConverter creates a PDF converter.
func NewConverter(opts ...ConverterOption) *Converter {
	c := &Converter{
		dpi:            DefaultDPI,
		thumbnailWidth: DefaultThumbnailWidth,
		workers:        DefaultWorkers,
		logger:         observability.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("pdf")
	return c
}

// DPI returns the render resolution.
func (c *Converter) DPI() float64 {
	return c.dpi
}

// Pages renders every page of file, ordered by page number.
func (c *Converter) Pages(ctx context.Context, file domain.UploadedFile) ([]domain.PageImage, error) {
	data, err := file.ReadAll()
	if err != nil {
		return nil, err
	}
	if !HasPDFHeader(data) {
		return nil, domain.ValidationError("file is not a PDF: "+file.Name, nil)
	}

	images, err := c.rasterize(ctx, data)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().Str("file", file.Name).Int("pages", len(images)).Msg("rasterized document")

	return encodePages(ctx, images, encodeOptions{
		thumbnailWidth: c.thumbnailWidth,
		workers:        c.workers,
		onPage:         c.onPage,
	})
}

// rasterize renders pages sequentially; a fitz.Document is not safe for
// concurrent use.
func (c *Converter) rasterize(ctx context.Context, data []byte) ([]image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, domain.ConversionError("Failed to open PDF", err)
	}
	defer doc.Close()

	count := doc.NumPage()
	if count == 0 {
		return nil, domain.ValidationError("PDF has no pages", nil)
	}

	images := make([]image.Image, 0, count)
	for n := 0; n < count; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := doc.ImageDPI(n, c.dpi)
		if err != nil {
			return nil, domain.ConversionError(fmt.Sprintf("Failed to render page %d", n+1), err)
		}
		images = append(images, img)
	}
	return images, nil
}
