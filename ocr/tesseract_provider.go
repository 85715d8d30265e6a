package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"github.com/sirupsen/logrus"
)

// tesseractClient is the subset of *gosseract.Client the provider uses.
type tesseractClient interface {
	SetImageFromBytes(data []byte) error
	SetLanguage(langs ...string) error
	SetVariable(key gosseract.SettableVariable, value string) error
	Text() (string, error)
	GetBoundingBoxes(level gosseract.PageIteratorLevel) ([]gosseract.BoundingBox, error)
	Close() error
}

type tesseractMode int

const (
	// tesseractLines reports one fragment per text line with its box.
	tesseractLines tesseractMode = iota
	// tesseractText reads the whole image as plain text.
	tesseractText
)

// TesseractProvider implements OCR with a local Tesseract installation.
// A fresh client is created per image, as gosseract clients are not safe for
// concurrent use.
type TesseractProvider struct {
	languages     []string
	dpi           int
	mode          tesseractMode
	clientFactory func() tesseractClient
}

func newTesseractProvider(config Config, mode tesseractMode) *TesseractProvider {
	return &TesseractProvider{
		languages: config.Languages,
		dpi:       config.DPI,
		mode:      mode,
		clientFactory: func() tesseractClient {
			return gosseract.NewClient()
		},
	}
}

func (p *TesseractProvider) ProcessImage(ctx context.Context, imageContent []byte, pageNumber int) (*OCRResult, error) {
	logger := log.WithFields(logrus.Fields{
		"provider": "tesseract",
		"page":     pageNumber,
	})
	logger.Debug("Starting Tesseract processing")

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client := p.clientFactory()
	defer client.Close()

	if err := client.SetImageFromBytes(imageContent); err != nil {
		return nil, fmt.Errorf("error setting tesseract image: %w", err)
	}
	if len(p.languages) > 0 {
		if err := client.SetLanguage(p.languages...); err != nil {
			return nil, fmt.Errorf("error setting tesseract languages: %w", err)
		}
	}
	if p.dpi > 0 {
		if err := client.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(p.dpi)); err != nil {
			return nil, fmt.Errorf("error setting tesseract dpi: %w", err)
		}
	}

	result := &OCRResult{
		Metadata: map[string]string{
			"provider":  "tesseract",
			"languages": strings.Join(p.languages, "+"),
		},
	}

	if p.mode == tesseractText {
		text, err := client.Text()
		if err != nil {
			return nil, fmt.Errorf("error recognizing text: %w", err)
		}
		result.Text = strings.TrimSpace(text)
		logger.WithField("content_length", len(result.Text)).Debug("Tesseract text recognized")
		return result, nil
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("error reading tesseract line boxes: %w", err)
	}
	texts := make([]string, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		result.Lines = append(result.Lines, Line{
			Text:       text,
			Confidence: b.Confidence / 100.0,
			Box:        b.Box,
		})
		texts = append(texts, text)
	}
	result.Text = strings.Join(texts, "\n")

	logger.WithField("lines", len(result.Lines)).Debug("Tesseract lines recognized")
	return result, nil
}
