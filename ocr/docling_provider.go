package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

const doclingConvertPath = "/v1alpha/convert/file"

// DoclingProvider sends page images to a docling-serve instance and reads
// back plain text, one fragment per output line.
type DoclingProvider struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

func newDoclingProvider(config Config) *DoclingProvider {
	logger := log.WithField("url", config.DoclingURL)

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 10 * time.Second
	client.Logger = logger

	return &DoclingProvider{
		baseURL:    strings.TrimRight(config.DoclingURL, "/"),
		httpClient: client,
	}
}

type doclingConvertResponse struct {
	Document doclingDocument `json:"document"`
	Status   string          `json:"status"`
	Errors   []any           `json:"errors"`
}

type doclingDocument struct {
	Filename    string `json:"filename"`
	MdContent   string `json:"md_content"`
	TextContent string `json:"text_content"`
}

func (p *DoclingProvider) ProcessImage(ctx context.Context, imageContent []byte, pageNumber int) (*OCRResult, error) {
	logger := log.WithFields(logrus.Fields{
		"provider": "docling",
		"page":     pageNumber,
	})
	logger.Debug("Starting Docling processing")

	body, contentType, err := doclingForm(imageContent, pageNumber)
	if err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+doclingConvertPath, body)
	if err != nil {
		return nil, fmt.Errorf("error creating Docling request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request to Docling: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading Docling response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		logger.WithField("status_code", resp.StatusCode).Error("Received non-OK status from Docling")
		return nil, fmt.Errorf("docling returned status %d: %s", resp.StatusCode, string(raw))
	}

	var converted doclingConvertResponse
	if err := json.Unmarshal(raw, &converted); err != nil {
		return nil, fmt.Errorf("error parsing Docling JSON response: %w", err)
	}
	if converted.Status != "success" {
		return nil, fmt.Errorf("docling conversion failed with status %q: %v", converted.Status, converted.Errors)
	}

	text := converted.Document.TextContent
	if strings.TrimSpace(text) == "" {
		text = converted.Document.MdContent
	}
	text = strings.TrimSpace(text)

	logger.WithField("content_length", len(text)).Debug("Docling text received")
	return &OCRResult{
		Text:  text,
		Lines: textToLines(text),
		Metadata: map[string]string{
			"provider":    "docling",
			"page":        strconv.Itoa(pageNumber),
			"has_content": strconv.FormatBool(text != ""),
		},
	}, nil
}

// doclingForm builds the multipart body for one page image.
func doclingForm(imageContent []byte, pageNumber int) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	filename := fmt.Sprintf("page_%d%s", pageNumber, mimetype.Detect(imageContent).Extension())
	part, err := writer.CreateFormFile("files", filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageContent); err != nil {
		return nil, "", fmt.Errorf("failed to write image to form: %w", err)
	}

	fields := [][2]string{
		{"to_formats", "text"},
		{"to_formats", "md"},
		{"do_ocr", "true"},
		{"image_export_mode", "placeholder"},
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write form field %s: %w", f[0], err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}
