package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrDecodeFailure is returned when bytes cannot be interpreted as an image.
var ErrDecodeFailure = errors.New("failed to decode image")

// DefaultMaxPixels bounds width*height of a decoded image. The header is
// checked before any pixel buffer is allocated.
const DefaultMaxPixels = 50_000_000

// Decoder decodes images up to MaxPixels; zero means DefaultMaxPixels.
type Decoder struct {
	MaxPixels int
}

var defaultDecoder = Decoder{MaxPixels: DefaultMaxPixels}

// DecodeFile reads and decodes the image stored at path with the default limit.
func DecodeFile(path string) (*image.RGBA, error) {
	return defaultDecoder.DecodeFile(path)
}

// Decode decodes data with the default limit.
func Decode(data []byte) (*image.RGBA, error) {
	return defaultDecoder.Decode(data)
}

// DecodeFile reads and decodes the image stored at path.
func (d Decoder) DecodeFile(path string) (*image.RGBA, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image %s: %w", path, err)
	}
	img, err := d.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// Decode turns raster (JPEG, PNG, GIF, BMP, TIFF, WebP) or SVG data into an
// RGBA image with its origin at (0, 0).
func (d Decoder) Decode(data []byte) (*image.RGBA, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecodeFailure)
	}

	if isSVGData(data) {
		slog.Debug("imageio: detected SVG input", "input_size_bytes", len(data))
		return decodeSVG(data, d.maxPixels())
	}

	config, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	if err := checkSize(config.Width, config.Height, d.maxPixels()); err != nil {
		return nil, fmt.Errorf("%s image: %w", format, err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: image has no pixels", ErrDecodeFailure)
	}

	slog.Debug("imageio: decoded raster image",
		"format", format,
		"width", img.Bounds().Dx(),
		"height", img.Bounds().Dy())

	return Normalize(img), nil
}

func (d Decoder) maxPixels() int {
	if d.MaxPixels <= 0 {
		return DefaultMaxPixels
	}
	return d.MaxPixels
}

func checkSize(width, height, maxPixels int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: image has no pixels", ErrDecodeFailure)
	}
	if int64(width)*int64(height) > int64(maxPixels) {
		return fmt.Errorf("%w: %dx%d exceeds the limit of %d pixels", ErrDecodeFailure, width, height, maxPixels)
	}
	return nil
}

// Normalize converts img to RGBA with bounds starting at the origin so every
// downstream consumer sees the same channel order.
func Normalize(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

func createTargetCanvas(w, h int, background color.RGBA) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: background}, image.Point{}, draw.Src)
	return canvas
}
