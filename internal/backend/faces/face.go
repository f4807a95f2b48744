package faces

import (
	"context"
	"errors"
	"image"
)

var (
	// ErrNoFaceDetected is returned when detection yields no face for either image.
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrDimensionMismatch is returned when a swapper produces an image whose size differs from the source.
	ErrDimensionMismatch = errors.New("swapped image dimensions differ from source")
)

// Face is a detected face. Box and Score are informational; Payload carries
// provider-specific data (landmarks, embedding) and is handed back to the
// swapper untouched.
type Face struct {
	Box     image.Rectangle
	Score   float64
	Payload []byte
}

// Detector finds faces in an image. An empty result is not an error.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Face, error)
}

// Swapper pastes the identity of targetFace into the region of sourceFace,
// returning a new image the size of source.
type Swapper interface {
	Swap(ctx context.Context, source image.Image, sourceFace, targetFace Face) (image.Image, error)
}
