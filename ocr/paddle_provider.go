package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// PaddleProvider talks to a PaddleOCR serving endpoint (hub serving
// "ocr_system" or a compatible wrapper). The endpoint receives base64 images
// and answers with detected text boxes.
type PaddleProvider struct {
	url        string
	httpClient *retryablehttp.Client
}

func newPaddleProvider(config Config) *PaddleProvider {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 10 * time.Second
	client.Logger = log.WithField("url", config.PaddleURL)

	return &PaddleProvider{
		url:        config.PaddleURL,
		httpClient: client,
	}
}

type paddleRequest struct {
	Images []string `json:"images"`
}

type paddleResponse struct {
	Status  string              `json:"status"`
	Msg     string              `json:"msg"`
	Results [][]json.RawMessage `json:"results"`
}

// paddleObject is the object form of a detection.
type paddleObject struct {
	Text       string      `json:"text"`
	Confidence *float64    `json:"confidence"`
	Region     [][]float64 `json:"text_region"`
	Position   [][]float64 `json:"text_box_position"`
}

func (p *PaddleProvider) ProcessImage(ctx context.Context, imageContent []byte, pageNumber int) (*OCRResult, error) {
	logger := log.WithFields(logrus.Fields{
		"provider": "paddle",
		"page":     pageNumber,
	})

	payload, err := json.Marshal(paddleRequest{Images: []string{base64.StdEncoding.EncodeToString(imageContent)}})
	if err != nil {
		return nil, fmt.Errorf("error encoding PaddleOCR request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("error creating PaddleOCR request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request to PaddleOCR: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading PaddleOCR response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("paddleocr returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed paddleResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("error parsing PaddleOCR response: %w", err)
	}
	if parsed.Status != "" && parsed.Status != "000" && parsed.Status != "0" {
		return nil, fmt.Errorf("paddleocr failed with status %s: %s", parsed.Status, parsed.Msg)
	}

	var lines []Line
	skipped := 0
	for _, detections := range parsed.Results {
		for _, item := range detections {
			line, ok := parsePaddleItem(item)
			if !ok {
				skipped++
				continue
			}
			lines = append(lines, line)
		}
	}
	if skipped > 0 {
		logger.WithField("skipped", skipped).Debug("Skipped malformed PaddleOCR detections")
	}

	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.Text
	}
	return &OCRResult{
		Text:  strings.Join(texts, "\n"),
		Lines: lines,
		Metadata: map[string]string{
			"provider": "paddle",
			"page":     strconv.Itoa(pageNumber),
		},
	}, nil
}

// parsePaddleItem reads one detection. Two shapes are accepted: the classic
// [box, [text, confidence]] array and an object with text, confidence and a
// region. Detections without text, confidence or a usable box are rejected.
func parsePaddleItem(raw json.RawMessage) (Line, bool) {
	var obj paddleObject
	if err := json.Unmarshal(raw, &obj); err == nil {
		region := obj.Region
		if len(region) == 0 {
			region = obj.Position
		}
		return paddleLine(obj.Text, obj.Confidence, region)
	}

	var tuple []json.RawMessage
	if err := json.Unmarshal(raw, &tuple); err != nil || len(tuple) < 2 {
		return Line{}, false
	}
	var region [][]float64
	if err := json.Unmarshal(tuple[0], &region); err != nil {
		return Line{}, false
	}
	var rec []json.RawMessage
	if err := json.Unmarshal(tuple[1], &rec); err != nil || len(rec) < 2 {
		return Line{}, false
	}
	var text string
	var conf float64
	if json.Unmarshal(rec[0], &text) != nil || json.Unmarshal(rec[1], &conf) != nil {
		return Line{}, false
	}
	return paddleLine(text, &conf, region)
}

func paddleLine(text string, conf *float64, region [][]float64) (Line, bool) {
	text = strings.TrimSpace(text)
	if text == "" || conf == nil {
		return Line{}, false
	}
	box, ok := regionBox(region)
	if !ok {
		return Line{}, false
	}
	return Line{Text: text, Confidence: *conf, Box: box}, true
}

// regionBox returns the axis-aligned rectangle around a list of [x, y] points.
func regionBox(points [][]float64) (image.Rectangle, bool) {
	var r image.Rectangle
	n := 0
	for _, pt := range points {
		if len(pt) < 2 {
			continue
		}
		p := image.Pt(int(pt[0]), int(pt[1]))
		if n == 0 {
			r = image.Rectangle{Min: p, Max: p}
		} else {
			r.Min.X, r.Min.Y = min(r.Min.X, p.X), min(r.Min.Y, p.Y)
			r.Max.X, r.Max.Y = max(r.Max.X, p.X), max(r.Max.Y, p.Y)
		}
		n++
	}
	if n == 0 || r.Empty() {
		return image.Rectangle{}, false
	}
	return r, true
}
