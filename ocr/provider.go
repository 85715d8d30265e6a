package ocr

import (
	"context"
	"fmt"
	"image"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// Line is one recognized text fragment. Confidence is in [0, 1]. Box is the
// fragment's bounding box in image pixels; a zero Box means the provider does
// not report geometry.
type Line struct {
	Text       string
	Confidence float64
	Box        image.Rectangle
}

// HasBox reports whether the line carries geometry.
func (l Line) HasBox() bool {
	return !l.Box.Empty()
}

// OCRResult holds the output from OCR processing
type OCRResult struct {
	// Plain text output
	Text string

	// Recognized fragments in the order the provider returned them
	Lines []Line

	// Additional provider-specific metadata
	Metadata map[string]string
}

// Provider defines the interface for OCR processing
type Provider interface {
	ProcessImage(ctx context.Context, imageContent []byte, pageNumber int) (*OCRResult, error)
}

// Config holds the OCR provider configuration
type Config struct {
	// Provider type. Line engines: "tesseract", "paddle", "google_docai",
	// "azure". Whole-image engines: "tesseract_text", "llm", "docling",
	// "mistral_ocr".
	Provider string

	// Tesseract settings
	Languages []string
	DPI       int

	// PaddleOCR serving endpoint
	PaddleURL string

	// Google Document AI settings
	GoogleProjectID   string
	GoogleLocation    string
	GoogleProcessorID string

	// Vision LLM settings
	VisionLLMProvider string
	VisionLLMModel    string
	VisionLLMPrompt   string

	// Docling settings
	DoclingURL string

	// Azure Document Intelligence settings
	AzureEndpoint string
	AzureAPIKey   string
	AzureModelID  string
	AzureTimeout  int // seconds

	// Mistral OCR settings
	MistralAPIKey   string
	MistralOCRModel string
	MistralBaseURL  string
}

// NewProvider creates a new OCR provider based on configuration
func NewProvider(config Config) (Provider, error) {
	log.Info("Initializing OCR provider: ", config.Provider)

	switch config.Provider {
	case "tesseract":
		log.WithField("languages", config.Languages).Info("Using Tesseract line provider")
		return newTesseractProvider(config, tesseractLines), nil

	case "tesseract_text":
		log.WithField("languages", config.Languages).Info("Using Tesseract whole-image provider")
		return newTesseractProvider(config, tesseractText), nil

	case "paddle":
		if config.PaddleURL == "" {
			return nil, fmt.Errorf("missing required PaddleOCR configuration (PADDLE_OCR_URL)")
		}
		log.WithField("url", config.PaddleURL).Info("Using PaddleOCR provider")
		return newPaddleProvider(config), nil

	case "google_docai":
		if config.GoogleProjectID == "" || config.GoogleLocation == "" || config.GoogleProcessorID == "" {
			return nil, fmt.Errorf("missing required Google Document AI configuration")
		}
		log.WithFields(logrus.Fields{
			"location":     config.GoogleLocation,
			"processor_id": config.GoogleProcessorID,
		}).Info("Using Google Document AI provider")
		p, err := newGoogleDocAIProvider(config)
		if err != nil {
			return nil, err
		}
		return p, nil

	case "azure":
		log.WithFields(logrus.Fields{
			"endpoint": config.AzureEndpoint,
			"model_id": config.AzureModelID,
		}).Info("Using Azure Document Intelligence provider")
		p, err := newAzureProvider(config)
		if err != nil {
			return nil, err
		}
		return p, nil

	case "llm":
		if config.VisionLLMProvider == "" || config.VisionLLMModel == "" {
			return nil, fmt.Errorf("missing required LLM configuration")
		}
		log.WithFields(logrus.Fields{
			"provider": config.VisionLLMProvider,
			"model":    config.VisionLLMModel,
		}).Info("Using LLM OCR provider")
		p, err := newLLMProvider(config)
		if err != nil {
			return nil, err
		}
		return p, nil

	case "docling":
		if config.DoclingURL == "" {
			return nil, fmt.Errorf("missing required Docling configuration (DOCLING_URL)")
		}
		log.WithField("url", config.DoclingURL).Info("Using Docling provider")
		return newDoclingProvider(config), nil

	case "mistral_ocr":
		log.WithField("model", config.MistralOCRModel).Info("Using Mistral OCR provider")
		p, err := newMistralOCRProvider(config)
		if err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, fmt.Errorf("unsupported OCR provider: %s", config.Provider)
	}
}

// SetLogLevel sets the logging level for the OCR package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}
