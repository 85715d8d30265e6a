package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPaddleProvider(url string) *PaddleProvider {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.Logger = nil
	return &PaddleProvider{url: url, httpClient: client}
}

func TestParsePaddleItem(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want *Line
	}{
		{
			name: "classic tuple",
			raw:  `[[[10,20],[110,20],[110,40],[10,40]],["Jane Doe",0.97]]`,
			want: &Line{Text: "Jane Doe", Confidence: 0.97, Box: image.Rect(10, 20, 110, 40)},
		},
		{
			name: "object with text_region",
			raw:  `{"text":"Experience","confidence":0.8,"text_region":[[5,5],[50,5],[50,15],[5,15]]}`,
			want: &Line{Text: "Experience", Confidence: 0.8, Box: image.Rect(5, 5, 50, 15)},
		},
		{
			name: "object with text_box_position",
			raw:  `{"text":"Skills","confidence":0.6,"text_box_position":[[0,0],[30,10]]}`,
			want: &Line{Text: "Skills", Confidence: 0.6, Box: image.Rect(0, 0, 30, 10)},
		},
		{name: "tuple without confidence", raw: `[[[0,0],[10,10]],"Jane"]`},
		{name: "bare string", raw: `"Jane"`},
		{name: "empty box", raw: `[[],["Jane",0.9]]`},
		{name: "degenerate box", raw: `[[[5,5],[5,5]],["Jane",0.9]]`},
		{name: "object without confidence", raw: `{"text":"Jane","text_region":[[0,0],[10,10]]}`},
		{name: "blank text", raw: `[[[0,0],[10,10]],["  ",0.9]]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, ok := parsePaddleItem(json.RawMessage(tt.raw))
			if tt.want == nil {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, *tt.want, line)
		})
	}
}

func TestPaddleProvider_ProcessImage(t *testing.T) {
	img := []byte("png bytes")

	t.Run("success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req paddleRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Len(t, req.Images, 1)
			decoded, err := base64.StdEncoding.DecodeString(req.Images[0])
			require.NoError(t, err)
			assert.Equal(t, img, decoded)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"000","msg":"","results":[[
				[[[10,20],[110,20],[110,40],[10,40]],["Jane Doe",0.97]],
				"garbage",
				{"text":"Engineer","confidence":0.4,"text_region":[[10,50],[90,50],[90,70],[10,70]]}
			]]}`))
		}))
		defer server.Close()

		result, err := newTestPaddleProvider(server.URL).ProcessImage(context.Background(), img, 1)
		require.NoError(t, err)
		require.Len(t, result.Lines, 2)
		assert.Equal(t, "Jane Doe\nEngineer", result.Text)
		assert.InDelta(t, 0.4, result.Lines[1].Confidence, 1e-9)
		assert.Equal(t, "paddle", result.Metadata["provider"])
	})

	t.Run("service status error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":"101","msg":"model not loaded","results":[]}`))
		}))
		defer server.Close()

		_, err := newTestPaddleProvider(server.URL).ProcessImage(context.Background(), img, 1)
		assert.ErrorContains(t, err, "model not loaded")
	})

	t.Run("http error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad request", http.StatusBadRequest)
		}))
		defer server.Close()

		_, err := newTestPaddleProvider(server.URL).ProcessImage(context.Background(), img, 1)
		assert.ErrorContains(t, err, "status 400")
	})

	t.Run("invalid json", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>"))
		}))
		defer server.Close()

		_, err := newTestPaddleProvider(server.URL).ProcessImage(context.Background(), img, 1)
		assert.ErrorContains(t, err, "error parsing PaddleOCR response")
	})
}
