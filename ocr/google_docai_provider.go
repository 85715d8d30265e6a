package ocr

import (
	"context"
	"fmt"
	"image"
	"strconv"
	"strings"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/gabriel-vasile/mimetype"
	"github.com/googleapis/gax-go/v2"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// docAIProcessor is the part of the Document AI client the provider calls.
type docAIProcessor interface {
	ProcessDocument(ctx context.Context, req *documentaipb.ProcessRequest, opts ...gax.CallOption) (*documentaipb.ProcessResponse, error)
}

// GoogleDocAIProvider implements OCR using a Google Document AI OCR processor.
type GoogleDocAIProvider struct {
	name   string
	client docAIProcessor
	closer func() error
}

func newGoogleDocAIProvider(config Config) (*GoogleDocAIProvider, error) {
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", config.GoogleLocation)
	client, err := documentai.NewDocumentProcessorClient(context.Background(), option.WithEndpoint(endpoint))
	if err != nil {
		return nil, fmt.Errorf("error creating Document AI client: %w", err)
	}
	return &GoogleDocAIProvider{
		name:   fmt.Sprintf("projects/%s/locations/%s/processors/%s", config.GoogleProjectID, config.GoogleLocation, config.GoogleProcessorID),
		client: client,
		closer: client.Close,
	}, nil
}

func (p *GoogleDocAIProvider) ProcessImage(ctx context.Context, imageContent []byte, pageNumber int) (*OCRResult, error) {
	logger := log.WithFields(logrus.Fields{
		"provider": "google_docai",
		"page":     pageNumber,
	})

	mtype := mimetype.Detect(imageContent).String()
	if !isImageMIMEType(mtype) {
		return nil, fmt.Errorf("unsupported file type: %s", mtype)
	}

	resp, err := p.client.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: p.name,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  imageContent,
				MimeType: mtype,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("error processing document: %w", err)
	}
	if resp == nil || resp.Document == nil {
		return nil, fmt.Errorf("received nil document from Document AI")
	}
	if resp.Document.Error != nil {
		return nil, fmt.Errorf("document processing error: %s", resp.Document.Error.Message)
	}

	lines := docAILines(resp.Document)
	result := &OCRResult{
		Text:  strings.TrimSpace(resp.Document.Text),
		Lines: lines,
		Metadata: map[string]string{
			"provider":  "google_docai",
			"mime_type": mtype,
			"page":      strconv.Itoa(pageNumber),
		},
	}
	if pages := resp.Document.GetPages(); len(pages) > 0 {
		if langs := pages[0].GetDetectedLanguages(); len(langs) > 0 {
			result.Metadata["lang_code"] = langs[0].GetLanguageCode()
		}
	}

	logger.WithField("lines", len(lines)).Debug("Document AI lines recognized")
	return result, nil
}

// docAILines converts the document's page lines into fragments, resolving
// text anchors against the document text and scaling normalized vertices by
// the page dimension.
func docAILines(doc *documentaipb.Document) []Line {
	var lines []Line
	for _, page := range doc.GetPages() {
		width := page.GetDimension().GetWidth()
		height := page.GetDimension().GetHeight()
		for _, l := range page.GetLines() {
			layout := l.GetLayout()
			text := strings.TrimSpace(anchorText(doc.GetText(), layout.GetTextAnchor()))
			if text == "" {
				continue
			}
			lines = append(lines, Line{
				Text:       text,
				Confidence: float64(layout.GetConfidence()),
				Box:        polyBox(layout.GetBoundingPoly(), width, height),
			})
		}
	}
	return lines
}

func anchorText(text string, anchor *documentaipb.Document_TextAnchor) string {
	var b strings.Builder
	for _, seg := range anchor.GetTextSegments() {
		start, end := seg.GetStartIndex(), seg.GetEndIndex()
		if start < 0 || end > int64(len(text)) || start >= end {
			continue
		}
		b.WriteString(text[start:end])
	}
	return b.String()
}

// polyBox returns the pixel bounding rectangle of a polygon. Absolute
// vertices win over normalized ones when both are present.
func polyBox(poly *documentaipb.BoundingPoly, width, height float32) image.Rectangle {
	var pts []image.Point
	if vs := poly.GetVertices(); len(vs) > 0 {
		for _, v := range vs {
			pts = append(pts, image.Pt(int(v.GetX()), int(v.GetY())))
		}
	} else {
		for _, v := range poly.GetNormalizedVertices() {
			pts = append(pts, image.Pt(int(v.GetX()*width), int(v.GetY()*height)))
		}
	}
	if len(pts) == 0 {
		return image.Rectangle{}
	}
	r := image.Rectangle{Min: pts[0], Max: pts[0]}
	for _, pt := range pts[1:] {
		r.Min.X, r.Min.Y = min(r.Min.X, pt.X), min(r.Min.Y, pt.Y)
		r.Max.X, r.Max.Y = max(r.Max.X, pt.X), max(r.Max.Y, pt.Y)
	}
	return r
}

func isImageMIMEType(mimeType string) bool {
	switch mimeType {
	case "image/jpeg", "image/png", "image/tiff", "image/bmp", "image/gif", "image/webp":
		return true
	}
	return false
}

// Close releases the Document AI connection.
func (p *GoogleDocAIProvider) Close() error {
	if p.closer != nil {
		return p.closer()
	}
	return nil
}
