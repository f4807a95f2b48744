// Package facestest provides deterministic detector and swapper implementations
// for tests that must not depend on a real inference provider.
package facestest

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"sync/atomic"

	"github.com/jo-hoe/faceswap/internal/backend/faces"
)

// RegionDetector reports one face covering every pixel that differs from the
// top-left pixel. Uniform images have no face.
type RegionDetector struct {
	Calls atomic.Int64
}

func (d *RegionDetector) Detect(ctx context.Context, img image.Image) ([]faces.Face, error) {
	d.Calls.Add(1)
	b := img.Bounds()
	if b.Empty() {
		return nil, nil
	}
	bg := color.RGBAModel.Convert(img.At(b.Min.X, b.Min.Y))
	box := image.Rectangle{}
	found := false
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if color.RGBAModel.Convert(img.At(x, y)) == bg {
				continue
			}
			px := image.Rect(x, y, x+1, y+1)
			if !found {
				box = px
				found = true
			} else {
				box = box.Union(px)
			}
		}
	}
	if !found {
		return nil, nil
	}
	// the payload carries the face's color so the swapper can paste it
	c := color.RGBAModel.Convert(img.At(box.Min.X, box.Min.Y)).(color.RGBA)
	return []faces.Face{{Box: box, Score: 1, Payload: []byte{c.R, c.G, c.B, c.A}}}, nil
}

// StaticDetector returns the same faces for every image.
type StaticDetector struct {
	Faces []faces.Face
	Err   error
}

func (d *StaticDetector) Detect(ctx context.Context, img image.Image) ([]faces.Face, error) {
	return d.Faces, d.Err
}

// FillSwapper copies the source and fills the source face box with the color
// stored in the target face payload.
type FillSwapper struct {
	Calls atomic.Int64
	// Last target face passed to Swap.
	lastTarget atomic.Pointer[faces.Face]
}

func (s *FillSwapper) Swap(ctx context.Context, source image.Image, sourceFace, targetFace faces.Face) (image.Image, error) {
	s.Calls.Add(1)
	s.lastTarget.Store(&targetFace)

	out := image.NewRGBA(source.Bounds())
	draw.Draw(out, out.Bounds(), source, source.Bounds().Min, draw.Src)

	fill := color.RGBA{A: 255}
	if len(targetFace.Payload) == 4 {
		p := targetFace.Payload
		fill = color.RGBA{R: p[0], G: p[1], B: p[2], A: p[3]}
	}
	draw.Draw(out, sourceFace.Box.Intersect(out.Bounds()), &image.Uniform{C: fill}, image.Point{}, draw.Src)
	return out, nil
}

// LastTarget returns the target face of the most recent Swap call.
func (s *FillSwapper) LastTarget() (faces.Face, bool) {
	f := s.lastTarget.Load()
	if f == nil {
		return faces.Face{}, false
	}
	return *f, true
}

// ResizingSwapper returns an image of a fixed size regardless of the source.
type ResizingSwapper struct {
	Size image.Point
}

func (s *ResizingSwapper) Swap(ctx context.Context, source image.Image, sourceFace, targetFace faces.Face) (image.Image, error) {
	return image.NewRGBA(image.Rectangle{Max: s.Size}), nil
}

// FaceImage builds a w x h image of background color with a square "face" of
// faceColor centered in it. A zero faceSize yields a blank image.
func FaceImage(w, h, faceSize int, background, faceColor color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: background}, image.Point{}, draw.Src)
	if faceSize > 0 {
		x0 := (w - faceSize) / 2
		y0 := (h - faceSize) / 2
		draw.Draw(img, image.Rect(x0, y0, x0+faceSize, y0+faceSize), &image.Uniform{C: faceColor}, image.Point{}, draw.Src)
	}
	return img
}
