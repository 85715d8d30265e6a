package extract

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"image/png"
	"sync"

	"github.com/gen2brain/go-fitz"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ImageFormat is the encoding of rasterized pages.
type ImageFormat string

const (
	FormatPNG  ImageFormat = "png"
	FormatJPEG ImageFormat = "jpeg"

	DefaultDPI = 300
)

// Rasterizer renders every page of a PDF to an encoded image, in page order.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdfPath string) ([][]byte, error)
}

// FitzRasterizer renders pages with MuPDF.
type FitzRasterizer struct {
	DPI     float64
	Format  ImageFormat
	Workers int
}

// NewFitzRasterizer returns a PNG rasterizer at dpi, DefaultDPI when dpi <= 0.
func NewFitzRasterizer(dpi int) *FitzRasterizer {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &FitzRasterizer{DPI: float64(dpi), Format: FormatPNG, Workers: 4}
}

func (r *FitzRasterizer) Rasterize(ctx context.Context, pdfPath string) ([][]byte, error) {
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("error opening PDF for rasterization: %w", err)
	}
	defer doc.Close()

	total := doc.NumPage()
	images := make([][]byte, total)

	// MuPDF documents are not safe for concurrent rendering; only encoding
	// runs in parallel.
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if r.Workers > 0 {
		g.SetLimit(r.Workers)
	}

	for n := 0; n < total; n++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			mu.Lock()
			img, err := doc.ImageDPI(n, r.DPI)
			mu.Unlock()
			if err != nil {
				return fmt.Errorf("error rendering page %d: %w", n+1, err)
			}

			var buf bytes.Buffer
			switch r.Format {
			case FormatJPEG:
				err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
			default:
				err = png.Encode(&buf, img)
			}
			if err != nil {
				return fmt.Errorf("error encoding page %d: %w", n+1, err)
			}
			images[n] = buf.Bytes()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"pages": total,
		"dpi":   r.DPI,
	}).Debug("Rasterized PDF")
	return images, nil
}
