package faces

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"
)

// Pipeline runs detection on both images and swaps the first face of each.
type Pipeline struct {
	detector Detector
	swapper  Swapper
}

func NewPipeline(detector Detector, swapper Swapper) *Pipeline {
	return &Pipeline{
		detector: detector,
		swapper:  swapper,
	}
}

// PerformSwap returns ErrNoFaceDetected without invoking the swapper when
// either image has no face.
func (p *Pipeline) PerformSwap(ctx context.Context, source, target image.Image) (image.Image, error) {
	start := time.Now()

	sourceFaces, err := p.detector.Detect(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("failed to detect faces in source image: %w", err)
	}
	targetFaces, err := p.detector.Detect(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to detect faces in target image: %w", err)
	}

	slog.Debug("pipeline: detection complete",
		"source_faces", len(sourceFaces),
		"target_faces", len(targetFaces))

	if len(sourceFaces) == 0 || len(targetFaces) == 0 {
		return nil, ErrNoFaceDetected
	}

	swapped, err := p.swapper.Swap(ctx, source, sourceFaces[0], targetFaces[0])
	if err != nil {
		return nil, fmt.Errorf("failed to swap faces: %w", err)
	}

	if !sameSize(source.Bounds(), swapped.Bounds()) {
		return nil, fmt.Errorf("%w: source %dx%d, swapped %dx%d", ErrDimensionMismatch,
			source.Bounds().Dx(), source.Bounds().Dy(),
			swapped.Bounds().Dx(), swapped.Bounds().Dy())
	}

	slog.Debug("pipeline: swap complete", "duration_ms", time.Since(start).Milliseconds())
	return swapped, nil
}

func sameSize(a, b image.Rectangle) bool {
	return a.Dx() == b.Dx() && a.Dy() == b.Dy()
}
