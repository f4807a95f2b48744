package imageio

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

const DefaultJPEGQuality = 95

// EncodeJPEG encodes img as JPEG. Quality outside 1..100 falls back to DefaultJPEGQuality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode image to JPEG: %w", err)
	}
	return buf.Bytes(), nil
}
