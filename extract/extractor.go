package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// SetLogLevel sets the logging level for the extract package.
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}

// ErrExtractionFailed is returned when every method of the chain failed.
var ErrExtractionFailed = errors.New("extraction failed")

// Result is the outcome of one extraction. It is never modified after
// Extract returns it.
type Result struct {
	Method    Method
	Engine    string
	Source    string
	Text      string
	PageCount int
	Succeeded bool
	Pages     []PageReport
	Duration  time.Duration
}

// Sink receives every extraction result for postmortem debugging.
type Sink interface {
	Record(uploadID string, result Result) error
}

// Extractor runs an ordered chain of strategies until one yields text.
type Extractor struct {
	strategies []Strategy
	rasterizer Rasterizer
	sink       Sink
}

// NewExtractor builds a chain. rasterizer is shared by the OCR strategies;
// sink may be nil.
func NewExtractor(rasterizer Rasterizer, sink Sink, strategies ...Strategy) *Extractor {
	return &Extractor{strategies: strategies, rasterizer: rasterizer, sink: sink}
}

// Methods lists the chain in order.
func (e *Extractor) Methods() []Method {
	methods := make([]Method, len(e.strategies))
	for i, s := range e.strategies {
		methods[i] = s.Method()
	}
	return methods
}

// Extract returns the text of the first strategy that succeeds. The error
// wraps ErrExtractionFailed together with every strategy's failure.
func (e *Extractor) Extract(ctx context.Context, uploadID, pdfPath string) (Result, error) {
	logger := log.WithFields(logrus.Fields{
		"upload_id": uploadID,
		"source":    pdfPath,
	})
	start := time.Now()
	src := NewSource(pdfPath, e.rasterizer)

	var errs []error
	for _, strategy := range e.strategies {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		methodLogger := logger.WithField("method", strategy.Method())
		methodLogger.Info("Attempting extraction")

		attempt, err := runStrategy(ctx, strategy, src)
		if err != nil {
			methodLogger.WithError(err).Warn("Extraction method failed")
			errs = append(errs, fmt.Errorf("%s: %w", strategy.Method(), err))
			continue
		}

		result := Result{
			Method:    strategy.Method(),
			Engine:    attempt.Engine,
			Source:    pdfPath,
			Text:      strings.TrimSpace(attempt.Text),
			PageCount: attempt.PageCount,
			Succeeded: true,
			Pages:     attempt.Pages,
			Duration:  time.Since(start),
		}
		methodLogger.WithField("characters", len(result.Text)).Info("Extraction succeeded")
		e.record(logger, uploadID, result)
		return result, nil
	}

	if len(errs) == 0 {
		errs = append(errs, errors.New("no extraction methods configured"))
	}
	result := Result{Source: pdfPath, PageCount: -1, Duration: time.Since(start)}
	e.record(logger, uploadID, result)
	logger.Error("All extraction methods failed")
	return result, fmt.Errorf("%w: %w", ErrExtractionFailed, errors.Join(errs...))
}

// runStrategy contains panics from a strategy so the chain can continue.
func runStrategy(ctx context.Context, s Strategy, src *Source) (attempt *Attempt, err error) {
	defer func() {
		if r := recover(); r != nil {
			attempt, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	attempt, err = s.Extract(ctx, src)
	if err == nil && (attempt == nil || strings.TrimSpace(attempt.Text) == "") {
		err = ErrNoText
	}
	return attempt, err
}

func (e *Extractor) record(logger *logrus.Entry, uploadID string, result Result) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Record(uploadID, result); err != nil {
		logger.WithError(err).Warn("Failed to record extraction diagnostics")
	}
}

// Chain resolves an ordered list of strategy names, as configured, against
// the strategies available at startup.
func Chain(names []string, available map[string]Strategy) ([]Strategy, error) {
	var chain []Strategy
	seen := map[string]bool{}
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if seen[name] {
			return nil, fmt.Errorf("extraction method %q listed twice", name)
		}
		s, ok := available[name]
		if !ok || s == nil {
			return nil, fmt.Errorf("unknown or unavailable extraction method %q", name)
		}
		seen[name] = true
		chain = append(chain, s)
	}
	if len(chain) == 0 {
		return nil, errors.New("extraction chain is empty")
	}
	return chain, nil
}
