package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultConfidenceThreshold drops fragments the engine is unsure about.
	DefaultConfidenceThreshold = 0.5
	// DefaultMinLines is the line count below which a preprocessed retry is attempted.
	DefaultMinLines = 5
)

// EngineOptions tune an Engine.
type EngineOptions struct {
	ConfidenceThreshold float64
	// Preprocess enables one retry on a cleaned-up image when fewer than
	// MinLines fragments survive.
	Preprocess bool
	MinLines   int
}

// Page is the recognition result for one page image.
type Page struct {
	Number int
	// Lines are in reading order and above the confidence threshold.
	Lines []Line
	// Layout holds the positioned lines, nil when the provider reports no
	// geometry.
	Layout *Layout
}

// Text returns the page text, see PageText.
func (p Page) Text() string {
	return PageText(p.Lines)
}

// Engine adapts a Provider to the recognition contract used by extraction:
// image in, ordered confident fragments out, and never an error.
type Engine struct {
	name     string
	provider Provider
	opts     EngineOptions
}

// NewEngine wraps provider under name.
func NewEngine(name string, provider Provider, opts EngineOptions) *Engine {
	if opts.MinLines <= 0 {
		opts.MinLines = DefaultMinLines
	}
	return &Engine{name: name, provider: provider, opts: opts}
}

// Name returns the engine name.
func (e *Engine) Name() string {
	return e.name
}

// Recognize returns the page's fragments in reading order. A failing image
// yields a page without lines; the failure is logged.
func (e *Engine) Recognize(ctx context.Context, imageContent []byte, pageNumber int) Page {
	logger := log.WithFields(logrus.Fields{
		"engine": e.name,
		"page":   pageNumber,
	})

	page := e.recognizeOnce(ctx, logger, imageContent, pageNumber)
	if !e.opts.Preprocess || len(page.Lines) >= e.opts.MinLines {
		return page
	}

	logger.WithField("lines", len(page.Lines)).Debug("Few lines recognized, retrying on preprocessed image")
	processed, err := PreprocessImage(imageContent)
	if err != nil {
		logger.WithError(err).Warn("Failed to preprocess image")
		return page
	}
	retry := e.recognizeOnce(ctx, logger, processed, pageNumber)
	if len(retry.Lines) > len(page.Lines) {
		logger.WithField("lines", len(retry.Lines)).Info("Preprocessed image gave a better result")
		return retry
	}
	return page
}

func (e *Engine) recognizeOnce(ctx context.Context, logger *logrus.Entry, imageContent []byte, pageNumber int) (page Page) {
	page.Number = pageNumber
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", fmt.Sprint(r)).Error("OCR provider panicked")
			page = Page{Number: pageNumber}
		}
	}()

	result, err := e.provider.ProcessImage(ctx, imageContent, pageNumber)
	if err != nil {
		logger.WithError(err).Error("OCR failed for page")
		return page
	}
	if result == nil {
		return page
	}

	raw := result.Lines
	if len(raw) == 0 && strings.TrimSpace(result.Text) != "" {
		raw = textToLines(result.Text)
	}
	page.Lines = OrderLines(FilterConfidence(raw, e.opts.ConfidenceThreshold))
	page.Layout = buildLayout(pageNumber, page.Lines)
	return page
}
