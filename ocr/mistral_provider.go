package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

const (
	mistralDefaultBaseURL  = "https://api.mistral.ai/v1"
	mistralDefaultOCRModel = "mistral-ocr-latest"
)

// Markdown decoration Mistral OCR puts around plain résumé text.
var (
	markdownHeading = regexp.MustCompile(`(?m)^#{1,6}[ \t]+`)
	markdownList    = regexp.MustCompile(`(?m)^[ \t]*[-*+][ \t]+`)
	markdownEmph    = regexp.MustCompile(`\*{1,3}([^*\n]+)\*{1,3}`)
	markdownImage   = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
)

// MistralOCRProvider recognizes a whole page image with Mistral's OCR API.
// The API answers with markdown, which is reduced to plain lines.
type MistralOCRProvider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *retryablehttp.Client
}

type mistralOCRRequest struct {
	Model    string             `json:"model"`
	Document mistralOCRDocument `json:"document"`
}

type mistralOCRDocument struct {
	Type     string `json:"type"`
	ImageURL string `json:"image_url"`
}

type mistralOCRResponse struct {
	Pages []struct {
		Index    int    `json:"index"`
		Markdown string `json:"markdown"`
	} `json:"pages"`
	Model string `json:"model"`
}

func newMistralOCRProvider(config Config) (*MistralOCRProvider, error) {
	if config.MistralAPIKey == "" {
		return nil, fmt.Errorf("missing required Mistral API key")
	}
	model := config.MistralOCRModel
	if model == "" {
		model = mistralDefaultOCRModel
	}
	baseURL := config.MistralBaseURL
	if baseURL == "" {
		baseURL = mistralDefaultBaseURL
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 10 * time.Second
	client.Logger = log.WithField("provider", "mistral_ocr")

	return &MistralOCRProvider{
		apiKey:     config.MistralAPIKey,
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
	}, nil
}

func (p *MistralOCRProvider) ProcessImage(ctx context.Context, imageContent []byte, pageNumber int) (*OCRResult, error) {
	logger := log.WithFields(logrus.Fields{
		"provider": "mistral_ocr",
		"model":    p.model,
		"page":     pageNumber,
	})

	mtype := mimetype.Detect(imageContent).String()
	if !isImageMIMEType(mtype) {
		return nil, fmt.Errorf("unsupported image type for Mistral OCR: %s", mtype)
	}

	body, err := json.Marshal(mistralOCRRequest{
		Model: p.model,
		Document: mistralOCRDocument{
			Type:     "image_url",
			ImageURL: "data:" + mtype + ";base64," + base64.StdEncoding.EncodeToString(imageContent),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("error marshaling Mistral OCR request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/ocr", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("error creating Mistral OCR request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request to Mistral OCR: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading Mistral OCR response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mistral OCR returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed mistralOCRResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("error parsing Mistral OCR response: %w", err)
	}

	pages := make([]string, 0, len(parsed.Pages))
	for _, page := range parsed.Pages {
		if text := markdownToText(page.Markdown); text != "" {
			pages = append(pages, text)
		}
	}
	text := strings.Join(pages, "\n")
	logger.WithField("content_length", len(text)).Debug("Mistral OCR text received")

	return &OCRResult{
		Text:  text,
		Lines: textToLines(text),
		Metadata: map[string]string{
			"provider": "mistral_ocr",
			"model":    p.model,
			"page":     strconv.Itoa(pageNumber),
		},
	}, nil
}

// markdownToText drops headings, list bullets, emphasis and image references.
func markdownToText(markdown string) string {
	text := markdownImage.ReplaceAllString(markdown, "")
	text = markdownHeading.ReplaceAllString(text, "")
	text = markdownList.ReplaceAllString(text, "")
	text = markdownEmph.ReplaceAllString(text, "$1")
	return cleanTranscription(text)
}
