package ocr

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

const (
	preprocessContrast = 30
	preprocessSharpen  = 1.0
)

// PreprocessImage converts a page image to a high-contrast grayscale PNG,
// which helps recognizers on faint scans.
func PreprocessImage(imageContent []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(imageContent))
	if err != nil {
		return nil, fmt.Errorf("error decoding image: %w", err)
	}

	gray := imaging.Grayscale(img)
	contrasted := imaging.AdjustContrast(gray, preprocessContrast)
	sharpened := imaging.Sharpen(contrasted, preprocessSharpen)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, sharpened, imaging.PNG); err != nil {
		return nil, fmt.Errorf("error encoding preprocessed image: %w", err)
	}
	return buf.Bytes(), nil
}
