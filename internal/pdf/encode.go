package pdf

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sync/atomic"

	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"github.com/spherical/takeoff/internal/domain"
)

type encodeOptions struct {
	thumbnailWidth int
	workers        int
	onPage         func(done, total int)
}

// encodePages PNG-encodes rendered pages in parallel. The result keeps the
// input order; page numbers start at 1.
func encodePages(ctx context.Context, images []image.Image, opts encodeOptions) ([]domain.PageImage, error) {
	pages := make([]domain.PageImage, len(images))
	var done atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	if opts.workers > 0 {
		g.SetLimit(opts.workers)
	}

	for i, img := range images {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			page, err := encodePage(i+1, img, opts.thumbnailWidth)
			if err != nil {
				return err
			}
			pages[i] = page
			if opts.onPage != nil {
				opts.onPage(int(done.Add(1)), len(images))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pages, nil
}

func encodePage(number int, img image.Image, thumbWidth int) (domain.PageImage, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return domain.PageImage{}, domain.ConversionError(fmt.Sprintf("Failed to encode page %d", number), err)
	}

	bounds := img.Bounds()
	page := domain.PageImage{
		PageNumber: number,
		Image:      buf.Bytes(),
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
	}

	if thumbWidth > 0 {
		thumb, err := encodeThumbnail(img, thumbWidth)
		if err != nil {
			return domain.PageImage{}, domain.ConversionError(fmt.Sprintf("Failed to encode thumbnail for page %d", number), err)
		}
		page.Thumbnail = thumb
	}
	return page, nil
}

// Thumbnail scales img to width pixels wide, keeping its aspect ratio.
// Images already narrower than width are returned unscaled.
func Thumbnail(img image.Image, width int) image.Image {
	b := img.Bounds()
	if b.Dx() <= width || b.Dx() == 0 {
		return img
	}
	height := max(1, b.Dy()*width/b.Dx())
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func encodeThumbnail(img image.Image, width int) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, Thumbnail(img, width)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
