package ocr

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDocAI struct {
	resp *documentaipb.ProcessResponse
	err  error
	req  *documentaipb.ProcessRequest
}

func (f *fakeDocAI) ProcessDocument(_ context.Context, req *documentaipb.ProcessRequest, _ ...gax.CallOption) (*documentaipb.ProcessResponse, error) {
	f.req = req
	return f.resp, f.err
}

func normalizedPoly(x1, y1, x2, y2 float32) *documentaipb.BoundingPoly {
	return &documentaipb.BoundingPoly{
		NormalizedVertices: []*documentaipb.NormalizedVertex{
			{X: x1, Y: y1}, {X: x2, Y: y1}, {X: x2, Y: y2}, {X: x1, Y: y2},
		},
	}
}

func docAILine(start, end int64, conf float32, poly *documentaipb.BoundingPoly) *documentaipb.Document_Page_Line {
	return &documentaipb.Document_Page_Line{
		Layout: &documentaipb.Document_Page_Layout{
			TextAnchor: &documentaipb.Document_TextAnchor{
				TextSegments: []*documentaipb.Document_TextAnchor_TextSegment{{StartIndex: start, EndIndex: end}},
			},
			Confidence:   conf,
			BoundingPoly: poly,
		},
	}
}

func samplePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(2, 2, color.Black)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDocAILines(t *testing.T) {
	doc := &documentaipb.Document{
		Text: "Jane Doe\nEngineer\n",
		Pages: []*documentaipb.Document_Page{{
			Dimension: &documentaipb.Document_Page_Dimension{Width: 1000, Height: 2000},
			Lines: []*documentaipb.Document_Page_Line{
				docAILine(0, 9, 0.98, normalizedPoly(0.125, 0.125, 0.5, 0.25)),
				docAILine(9, 18, 0.4, normalizedPoly(0.1, 0.2, 0.3, 0.22)),
				docAILine(18, 40, 0.9, nil),
			},
		}},
	}

	lines := docAILines(doc)
	require.Len(t, lines, 2)
	assert.Equal(t, "Jane Doe", lines[0].Text)
	assert.InDelta(t, 0.98, lines[0].Confidence, 1e-6)
	assert.Equal(t, image.Rect(125, 250, 500, 500), lines[0].Box)
	assert.Equal(t, "Engineer", lines[1].Text)
}

func TestPolyBoxPrefersAbsoluteVertices(t *testing.T) {
	poly := &documentaipb.BoundingPoly{
		Vertices:           []*documentaipb.Vertex{{X: 10, Y: 20}, {X: 50, Y: 20}, {X: 50, Y: 40}, {X: 10, Y: 40}},
		NormalizedVertices: []*documentaipb.NormalizedVertex{{X: 0.9, Y: 0.9}},
	}
	assert.Equal(t, image.Rect(10, 20, 50, 40), polyBox(poly, 100, 100))
	assert.True(t, polyBox(nil, 100, 100).Empty())
}

func TestGoogleDocAIProvider_ProcessImage(t *testing.T) {
	fake := &fakeDocAI{resp: &documentaipb.ProcessResponse{Document: &documentaipb.Document{
		Text: "Experience\n",
		Pages: []*documentaipb.Document_Page{{
			Dimension: &documentaipb.Document_Page_Dimension{Width: 100, Height: 100},
			Lines:     []*documentaipb.Document_Page_Line{docAILine(0, 10, 0.9, normalizedPoly(0.25, 0.25, 0.75, 0.5))},
		}},
	}}}
	p := &GoogleDocAIProvider{name: "projects/p/locations/us/processors/x", client: fake}

	result, err := p.ProcessImage(context.Background(), samplePNG(t), 2)
	require.NoError(t, err)
	assert.Equal(t, "Experience", result.Text)
	require.Len(t, result.Lines, 1)
	assert.Equal(t, "2", result.Metadata["page"])
	assert.Equal(t, "image/png", fake.req.GetRawDocument().GetMimeType())
	assert.Equal(t, "projects/p/locations/us/processors/x", fake.req.GetName())
}

func TestGoogleDocAIProvider_Errors(t *testing.T) {
	t.Run("unsupported type", func(t *testing.T) {
		p := &GoogleDocAIProvider{client: &fakeDocAI{}}
		_, err := p.ProcessImage(context.Background(), []byte("%PDF-1.4 not an image"), 1)
		assert.ErrorContains(t, err, "unsupported file type")
	})

	t.Run("client error", func(t *testing.T) {
		p := &GoogleDocAIProvider{client: &fakeDocAI{err: errors.New("quota exceeded")}}
		_, err := p.ProcessImage(context.Background(), samplePNG(t), 1)
		assert.ErrorContains(t, err, "quota exceeded")
	})

	t.Run("nil document", func(t *testing.T) {
		p := &GoogleDocAIProvider{client: &fakeDocAI{resp: &documentaipb.ProcessResponse{}}}
		_, err := p.ProcessImage(context.Background(), samplePNG(t), 1)
		assert.Error(t, err)
	})
}
