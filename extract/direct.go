package extract

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/sirupsen/logrus"
)

// DefaultMinCharsPerPage is the average glyph density below which a PDF with
// image streams is treated as a scan with a stray text layer.
const DefaultMinCharsPerPage = 20

// PDFInspector reports structural facts about a PDF without extracting text.
type PDFInspector interface {
	Inspect(pdfPath string) (PDFFacts, error)
}

// PDFFacts is the structural summary of a PDF.
type PDFFacts struct {
	PageCount       int
	HasImageStreams bool
}

// PageTextReader returns the embedded text of every page, in order.
type PageTextReader interface {
	PageTexts(pdfPath string) ([]string, error)
}

// DirectTextStrategy reads the embedded text layer. It never rasterizes.
type DirectTextStrategy struct {
	reader          PageTextReader
	inspector       PDFInspector
	minCharsPerPage int
}

// NewDirectTextStrategy returns the MuPDF text reader with a pdfcpu inspector.
func NewDirectTextStrategy() *DirectTextStrategy {
	return &DirectTextStrategy{
		reader:          FitzTextReader{},
		inspector:       PdfcpuInspector{},
		minCharsPerPage: DefaultMinCharsPerPage,
	}
}

func (s *DirectTextStrategy) Method() Method { return DirectText }

// Extract joins page texts with newlines. A PDF whose text layer is too thin
// for its page count and that carries images is reported as failed so the
// chain moves on to OCR.
func (s *DirectTextStrategy) Extract(_ context.Context, src *Source) (*Attempt, error) {
	pages, err := s.reader.PageTexts(src.Path)
	if err != nil {
		return nil, fmt.Errorf("reading text layer: %w", err)
	}

	var b strings.Builder
	pageCount := len(pages)
	for _, t := range pages {
		if t != "" {
			b.WriteString(t)
			b.WriteByte('\n')
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return nil, ErrNoText
	}

	if s.inspector != nil {
		facts, err := s.inspector.Inspect(src.Path)
		if err != nil {
			log.WithError(err).Debug("PDF inspection failed, trusting text layer")
		} else {
			if facts.PageCount > 0 {
				pageCount = facts.PageCount
			}
			if facts.HasImageStreams && pageCount > 0 {
				density := nonSpaceCount(text) / pageCount
				if density < s.minCharsPerPage {
					log.WithFields(logrus.Fields{
						"chars_per_page": density,
						"pages":          pageCount,
					}).Info("Text layer too thin for an image-bearing PDF")
					return nil, fmt.Errorf("%w: %d characters per page on a scanned PDF", ErrNoText, density)
				}
			}
		}
	}

	return &Attempt{Text: text, PageCount: pageCount, Engine: "mupdf"}, nil
}

func nonSpaceCount(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// FitzTextReader reads page text with MuPDF.
type FitzTextReader struct{}

func (FitzTextReader) PageTexts(pdfPath string) ([]string, error) {
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("error opening PDF: %w", err)
	}
	defer doc.Close()

	pages := make([]string, doc.NumPage())
	for n := range pages {
		text, err := doc.Text(n)
		if err != nil {
			log.WithError(err).WithField("page", n+1).Warn("Failed to read page text")
			continue
		}
		pages[n] = text
	}
	return pages, nil
}

// PdfcpuInspector inspects the PDF object graph with pdfcpu.
type PdfcpuInspector struct{}

func (PdfcpuInspector) Inspect(pdfPath string) (PDFFacts, error) {
	f, err := os.Open(pdfPath)
	if err != nil {
		return PDFFacts{}, err
	}
	defer f.Close()

	ctx, err := api.ReadValidateAndOptimize(f, model.NewDefaultConfiguration())
	if err != nil {
		return PDFFacts{}, fmt.Errorf("pdfcpu read: %w", err)
	}

	result := PDFFacts{PageCount: ctx.PageCount}
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		if len(pdfcpu.ImageObjNrs(ctx, pageNr)) > 0 {
			result.HasImageStreams = true
			break
		}
	}
	return result, nil
}
