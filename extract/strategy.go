package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"resume-gpt/ocr"
)

// Method names an extraction method.
type Method string

const (
	DirectText Method = "DirectText"
	OcrEngineA Method = "OcrEngineA"
	OcrEngineB Method = "OcrEngineB"
)

// ErrNoText is returned by a strategy that ran but produced only blank text.
var ErrNoText = errors.New("no text extracted")

// PageReport describes one page of an OCR attempt.
type PageReport struct {
	Number   int
	Lines    int
	Chars    int
	Coverage float64
}

// Attempt is the output of one successful strategy run.
type Attempt struct {
	Text string
	// PageCount is -1 when the strategy cannot tell.
	PageCount int
	Engine    string
	Pages     []PageReport
}

// Strategy is one link of the fallback chain.
type Strategy interface {
	Method() Method
	Extract(ctx context.Context, src *Source) (*Attempt, error)
}

// Source is the PDF under extraction. Page images are rendered at most once
// and shared by every OCR strategy of the chain.
type Source struct {
	Path string

	rasterizer Rasterizer
	once       sync.Once
	images     [][]byte
	err        error
}

// NewSource wraps pdfPath; rasterizer may be nil when no strategy needs images.
func NewSource(pdfPath string, rasterizer Rasterizer) *Source {
	return &Source{Path: pdfPath, rasterizer: rasterizer}
}

// Images returns the rasterized pages.
func (s *Source) Images(ctx context.Context) ([][]byte, error) {
	s.once.Do(func() {
		if s.rasterizer == nil {
			s.err = errors.New("no rasterizer configured")
			return
		}
		s.images, s.err = s.rasterizer.Rasterize(ctx, s.Path)
	})
	return s.images, s.err
}

// Recognizer is the OCR engine contract: one page image in, ordered
// confident fragments out, never an error.
type Recognizer interface {
	Name() string
	Recognize(ctx context.Context, imageContent []byte, pageNumber int) ocr.Page
}

// OCRStrategy rasterizes the PDF and runs a Recognizer over each page.
type OCRStrategy struct {
	method Method
	engine Recognizer
}

// NewOCRStrategy returns a strategy reporting method and backed by engine.
func NewOCRStrategy(method Method, engine Recognizer) *OCRStrategy {
	return &OCRStrategy{method: method, engine: engine}
}

func (s *OCRStrategy) Method() Method { return s.method }

// Extract recognizes pages in order. A page that yields nothing contributes
// empty text; pages are joined with blank lines.
func (s *OCRStrategy) Extract(ctx context.Context, src *Source) (*Attempt, error) {
	images, err := src.Images(ctx)
	if err != nil {
		return nil, fmt.Errorf("rasterization failed: %w", err)
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}

	attempt := &Attempt{PageCount: len(images), Engine: s.engine.Name()}
	texts := make([]string, len(images))
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := s.engine.Recognize(ctx, img, i+1)
		texts[i] = page.Text()

		report := PageReport{Number: i + 1, Lines: len(page.Lines), Chars: len(texts[i])}
		if page.Layout != nil {
			if bounds, ok := imageBounds(img); ok {
				report.Coverage = page.Layout.Coverage(bounds)
			}
		}
		attempt.Pages = append(attempt.Pages, report)

		log.WithFields(logrus.Fields{
			"engine": s.engine.Name(),
			"page":   i + 1,
			"lines":  len(page.Lines),
		}).Debug("Page recognized")
	}

	attempt.Text = strings.Join(texts, "\n\n")
	if strings.TrimSpace(attempt.Text) == "" {
		return nil, ErrNoText
	}
	return attempt, nil
}

func imageBounds(img []byte) (image.Rectangle, bool) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return image.Rectangle{}, false
	}
	return image.Rect(0, 0, cfg.Width, cfg.Height), true
}
