package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

const (
	azureAPIVersion      = "2024-11-30"
	azureDefaultModelID  = "prebuilt-read"
	azureDefaultTimeout  = 120 * time.Second
	azurePollingInterval = 2 * time.Second
)

// AzureProvider recognizes page images with Azure Document Intelligence.
// Every reported line keeps its polygon as a pixel box and the mean
// confidence of the words it covers.
type AzureProvider struct {
	endpoint     string
	apiKey       string
	modelID      string
	timeout      time.Duration
	pollInterval time.Duration
	httpClient   *retryablehttp.Client
}

type azureAnalyzeRequest struct {
	Base64Source string `json:"base64Source"`
}

type azureOperation struct {
	Status        string             `json:"status"`
	AnalyzeResult azureAnalyzeResult `json:"analyzeResult"`
	Error         *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type azureAnalyzeResult struct {
	APIVersion string      `json:"apiVersion"`
	ModelID    string      `json:"modelId"`
	Content    string      `json:"content"`
	Pages      []azurePage `json:"pages"`
}

type azurePage struct {
	PageNumber int         `json:"pageNumber"`
	Unit       string      `json:"unit"`
	Words      []azureWord `json:"words"`
	Lines      []azureLine `json:"lines"`
}

type azureWord struct {
	Content    string    `json:"content"`
	Polygon    []float64 `json:"polygon"`
	Confidence float64   `json:"confidence"`
	Span       azureSpan `json:"span"`
}

type azureLine struct {
	Content string      `json:"content"`
	Polygon []float64   `json:"polygon"`
	Spans   []azureSpan `json:"spans"`
}

type azureSpan struct {
	Offset int `json:"offset"`
	Length int `json:"length"`
}

func (s azureSpan) contains(o azureSpan) bool {
	return o.Offset >= s.Offset && o.Offset+o.Length <= s.Offset+s.Length
}

func newAzureProvider(config Config) (*AzureProvider, error) {
	logger := log.WithFields(logrus.Fields{
		"endpoint": config.AzureEndpoint,
		"model_id": config.AzureModelID,
	})

	if config.AzureEndpoint == "" || config.AzureAPIKey == "" {
		return nil, fmt.Errorf("missing required Azure Document Intelligence configuration")
	}

	modelID := azureDefaultModelID
	if config.AzureModelID != "" {
		modelID = config.AzureModelID
	}
	timeout := azureDefaultTimeout
	if config.AzureTimeout > 0 {
		timeout = time.Duration(config.AzureTimeout) * time.Second
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 5 * time.Second
	client.Logger = logger

	return &AzureProvider{
		endpoint:     strings.TrimRight(config.AzureEndpoint, "/"),
		apiKey:       config.AzureAPIKey,
		modelID:      modelID,
		timeout:      timeout,
		pollInterval: azurePollingInterval,
		httpClient:   client,
	}, nil
}

func (p *AzureProvider) ProcessImage(ctx context.Context, imageContent []byte, pageNumber int) (*OCRResult, error) {
	logger := log.WithFields(logrus.Fields{
		"provider": "azure",
		"model_id": p.modelID,
		"page":     pageNumber,
	})

	mtype := mimetype.Detect(imageContent).String()
	if !isImageMIMEType(mtype) {
		return nil, fmt.Errorf("unsupported file type: %s", mtype)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	operationLocation, err := p.submit(ctx, imageContent)
	if err != nil {
		return nil, fmt.Errorf("error submitting page to Azure: %w", err)
	}
	result, err := p.poll(ctx, operationLocation)
	if err != nil {
		return nil, fmt.Errorf("error polling Azure for results: %w", err)
	}

	var lines []Line
	for _, page := range result.Pages {
		lines = append(lines, azureLines(page)...)
	}
	logger.WithField("lines", len(lines)).Debug("Azure recognition finished")

	return &OCRResult{
		Text:  strings.TrimSpace(result.Content),
		Lines: lines,
		Metadata: map[string]string{
			"provider":    "azure",
			"page":        strconv.Itoa(pageNumber),
			"api_version": result.APIVersion,
		},
	}, nil
}

func (p *AzureProvider) submit(ctx context.Context, imageContent []byte) (string, error) {
	url := fmt.Sprintf("%s/documentintelligence/documentModels/%s:analyze?api-version=%s",
		p.endpoint, p.modelID, azureAPIVersion)

	body, err := json.Marshal(azureAnalyzeRequest{
		Base64Source: base64.StdEncoding.EncodeToString(imageContent),
	})
	if err != nil {
		return "", fmt.Errorf("error marshaling request body: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("error sending HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(raw))
	}
	location := resp.Header.Get("Operation-Location")
	if location == "" {
		return "", fmt.Errorf("no Operation-Location header in response")
	}
	return location, nil
}

func (p *AzureProvider) poll(ctx context.Context, operationLocation string) (*azureAnalyzeResult, error) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("operation timed out after %v: %w", p.timeout, ctx.Err())
		case <-ticker.C:
		}

		op, err := p.fetch(ctx, operationLocation)
		if err != nil {
			return nil, err
		}
		switch op.Status {
		case "succeeded":
			return &op.AnalyzeResult, nil
		case "failed":
			if op.Error != nil {
				return nil, fmt.Errorf("analysis failed: %s: %s", op.Error.Code, op.Error.Message)
			}
			return nil, fmt.Errorf("analysis failed")
		case "notStarted", "running":
		default:
			return nil, fmt.Errorf("unexpected status: %s", op.Status)
		}
	}
}

func (p *AzureProvider) fetch(ctx context.Context, operationLocation string) (*azureOperation, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, operationLocation, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating poll request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending poll request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d while polling", resp.StatusCode)
	}
	var op azureOperation
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		return nil, fmt.Errorf("error decoding poll response: %w", err)
	}
	return &op, nil
}

// azureLines converts the lines of one analyzed page. A line's confidence is
// the mean of the words inside its spans, 1 when no word matches.
func azureLines(page azurePage) []Line {
	lines := make([]Line, 0, len(page.Lines))
	for _, l := range page.Lines {
		text := strings.TrimSpace(l.Content)
		if text == "" {
			continue
		}
		box, _ := azurePolygonBox(l.Polygon)
		lines = append(lines, Line{
			Text:       text,
			Confidence: azureLineConfidence(l, page.Words),
			Box:        box,
		})
	}
	return lines
}

func azureLineConfidence(line azureLine, words []azureWord) float64 {
	sum, n := 0.0, 0
	for _, w := range words {
		for _, span := range line.Spans {
			if span.contains(w.Span) {
				sum += w.Confidence
				n++
				break
			}
		}
	}
	if n == 0 {
		return 1
	}
	return sum / float64(n)
}

// azurePolygonBox bounds a flat [x1, y1, x2, y2, ...] polygon.
func azurePolygonBox(polygon []float64) (image.Rectangle, bool) {
	if len(polygon) < 4 {
		return image.Rectangle{}, false
	}
	points := make([][]float64, 0, len(polygon)/2)
	for i := 0; i+1 < len(polygon); i += 2 {
		points = append(points, []float64{math.Round(polygon[i]), math.Round(polygon[i+1])})
	}
	return regionBox(points)
}
