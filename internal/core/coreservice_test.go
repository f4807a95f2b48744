package core

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jo-hoe/faceswap/internal/backend/database"
	"github.com/jo-hoe/faceswap/internal/backend/events"
	"github.com/jo-hoe/faceswap/internal/backend/faces"
	"github.com/jo-hoe/faceswap/internal/backend/faces/facestest"
	"github.com/jo-hoe/faceswap/internal/backend/imageio"
	"github.com/jo-hoe/faceswap/internal/backend/inference"
)

var (
	white = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	red   = color.RGBA{R: 220, A: 255}
	blue  = color.RGBA{B: 220, A: 255}
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.ResultCreated
	err    error
}

func (p *recordingPublisher) PublishResultCreated(ctx context.Context, event events.ResultCreated) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type testService struct {
	*CoreService
	config    *ServiceConfig
	detector  faces.Detector
	swapper   *facestest.FillSwapper
	publisher *recordingPublisher
}

func newTestService(t *testing.T, detector faces.Detector) *testService {
	t.Helper()
	root := t.TempDir()
	config := &ServiceConfig{
		JPEGQuality: 95,
		Storage: Storage{
			UploadDir: filepath.Join(root, "uploads"),
			ResultDir: filepath.Join(root, "results"),
		},
		Retention: Retention{TTL: time.Hour, Interval: time.Minute},
	}
	db, err := database.NewDatabase(context.Background(), "sqlite", ":memory:")
	if err != nil {
		t.Fatalf("NewDatabase error: %v", err)
	}
	if detector == nil {
		detector = &facestest.RegionDetector{}
	}
	swapper := &facestest.FillSwapper{}
	publisher := &recordingPublisher{}

	service, err := NewCoreServiceWith(config, Components{
		Database:  db,
		Detector:  detector,
		Swapper:   swapper,
		Publisher: publisher,
	})
	if err != nil {
		t.Fatalf("NewCoreServiceWith error: %v", err)
	}
	t.Cleanup(func() { _ = service.Close() })
	return &testService{CoreService: service, config: config, detector: detector, swapper: swapper, publisher: publisher}
}

func pngUpload(t *testing.T, filename string, img image.Image) Upload {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode error: %v", err)
	}
	return Upload{Filename: filename, Content: &buf}
}

func TestSwapFaces_Success(t *testing.T) {
	service := newTestService(t, nil)
	source := pngUpload(t, "source.png", facestest.FaceImage(64, 48, 16, white, red))
	target := pngUpload(t, "target.png", facestest.FaceImage(32, 32, 8, white, blue))

	result, err := service.SwapFaces(context.Background(), source, target)
	if err != nil {
		t.Fatalf("SwapFaces() error = %v", err)
	}

	decoded, err := imageio.Decode(result.Image)
	if err != nil {
		t.Fatalf("result is not a decodable image: %v", err)
	}
	if decoded.Bounds().Dx() != 64 || decoded.Bounds().Dy() != 48 {
		t.Errorf("result size = %v, want 64x48", decoded.Bounds().Size())
	}
	// the source face now carries the target face color
	center := decoded.RGBAAt(32, 24)
	if center.B < 180 || center.R > 60 {
		t.Errorf("center pixel = %v, want blue-ish", center)
	}

	record := result.Record
	if record.ResultPath != filepath.Join(service.config.Storage.ResultDir, record.ID+".jpg") {
		t.Errorf("ResultPath = %s", record.ResultPath)
	}
	stored, err := os.ReadFile(record.ResultPath)
	if err != nil {
		t.Fatalf("result file missing: %v", err)
	}
	if !bytes.Equal(stored, result.Image) {
		t.Error("stored result differs from returned bytes")
	}
	for _, p := range []string{record.SourcePath, record.TargetPath} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("upload %s missing: %v", p, err)
		}
		if !strings.HasPrefix(filepath.Base(p), record.ID) {
			t.Errorf("upload %s is not keyed by request id", p)
		}
	}

	fetched, err := service.GetResult(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("GetResult() error = %v", err)
	}
	if fetched.SourceFilename != "source.png" || fetched.Size != int64(len(result.Image)) {
		t.Errorf("GetResult() = %+v", fetched)
	}
	if service.publisher.count() != 1 {
		t.Errorf("published %d events, want 1", service.publisher.count())
	}
}

func TestSwapFaces_NoFace(t *testing.T) {
	tests := []struct {
		name   string
		source image.Image
		target image.Image
	}{
		{"no face in source", facestest.FaceImage(32, 32, 0, white, red), facestest.FaceImage(32, 32, 8, white, blue)},
		{"no face in target", facestest.FaceImage(32, 32, 8, white, red), facestest.FaceImage(32, 32, 0, white, blue)},
		{"no face in either", facestest.FaceImage(32, 32, 0, white, red), facestest.FaceImage(32, 32, 0, white, blue)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := newTestService(t, nil)
			_, err := service.SwapFaces(context.Background(),
				pngUpload(t, "a.png", tt.source), pngUpload(t, "b.png", tt.target))
			if !errors.Is(err, faces.ErrNoFaceDetected) {
				t.Fatalf("SwapFaces() error = %v, want ErrNoFaceDetected", err)
			}
			if service.swapper.Calls.Load() != 0 {
				t.Error("swapper must not be called without faces")
			}
			entries, _ := os.ReadDir(service.config.Storage.ResultDir)
			if len(entries) != 0 {
				t.Errorf("result dir has %d entries, want 0", len(entries))
			}
			if service.publisher.count() != 0 {
				t.Error("no event expected for a failed swap")
			}
		})
	}
}

func TestSwapFaces_DecodeFailure(t *testing.T) {
	service := newTestService(t, nil)
	source := Upload{Filename: "broken.jpg", Content: strings.NewReader("not an image")}
	target := pngUpload(t, "target.png", facestest.FaceImage(32, 32, 8, white, blue))

	_, err := service.SwapFaces(context.Background(), source, target)
	if !errors.Is(err, imageio.ErrDecodeFailure) {
		t.Fatalf("SwapFaces() error = %v, want ErrDecodeFailure", err)
	}
	if errors.Is(err, faces.ErrNoFaceDetected) {
		t.Error("decode failure must not be reported as no face")
	}
}

func TestSwapFaces_ImageOverPixelLimit(t *testing.T) {
	root := t.TempDir()
	config := &ServiceConfig{
		JPEGQuality:    95,
		MaxImagePixels: 16 * 16,
		Storage: Storage{
			UploadDir: filepath.Join(root, "uploads"),
			ResultDir: filepath.Join(root, "results"),
		},
	}
	db, err := database.NewDatabase(context.Background(), "sqlite", ":memory:")
	if err != nil {
		t.Fatalf("NewDatabase error: %v", err)
	}
	swapper := &facestest.FillSwapper{}
	service, err := NewCoreServiceWith(config, Components{
		Database: db,
		Detector: &facestest.RegionDetector{},
		Swapper:  swapper,
	})
	if err != nil {
		t.Fatalf("NewCoreServiceWith error: %v", err)
	}
	t.Cleanup(func() { _ = service.Close() })

	source := pngUpload(t, "source.png", facestest.FaceImage(32, 32, 8, white, blue))
	target := pngUpload(t, "target.png", facestest.FaceImage(32, 32, 8, white, blue))

	_, err = service.SwapFaces(context.Background(), source, target)
	if !errors.Is(err, imageio.ErrDecodeFailure) {
		t.Fatalf("SwapFaces() error = %v, want ErrDecodeFailure", err)
	}
	if swapper.Calls.Load() != 0 {
		t.Errorf("swapper called %d times for an oversized image", swapper.Calls.Load())
	}
}

func TestSwapFaces_ProviderError(t *testing.T) {
	providerErr := errors.Join(inference.ErrProvider, errors.New("connection refused"))
	service := newTestService(t, &facestest.StaticDetector{Err: providerErr})

	_, err := service.SwapFaces(context.Background(),
		pngUpload(t, "a.png", facestest.FaceImage(32, 32, 8, white, red)),
		pngUpload(t, "b.png", facestest.FaceImage(32, 32, 8, white, blue)))
	if !errors.Is(err, inference.ErrProvider) {
		t.Fatalf("SwapFaces() error = %v, want ErrProvider", err)
	}
	if outcomeOf(err) != "provider_error" {
		t.Errorf("outcomeOf() = %s, want provider_error", outcomeOf(err))
	}
}

func TestSwapFaces_PublishFailureDoesNotFailRequest(t *testing.T) {
	service := newTestService(t, nil)
	service.publisher.err = errors.New("broker down")

	_, err := service.SwapFaces(context.Background(),
		pngUpload(t, "a.png", facestest.FaceImage(32, 32, 8, white, red)),
		pngUpload(t, "b.png", facestest.FaceImage(32, 32, 8, white, blue)))
	if err != nil {
		t.Fatalf("SwapFaces() error = %v", err)
	}
}

func TestSwapFaces_ConcurrentSameFilename(t *testing.T) {
	service := newTestService(t, nil)
	backgrounds := []color.RGBA{
		{R: 250, G: 250, B: 250, A: 255},
		{R: 10, G: 120, B: 10, A: 255},
		{R: 200, G: 200, B: 20, A: 255},
		{R: 20, G: 20, B: 20, A: 255},
	}

	results := make([]*SwapResult, len(backgrounds))
	errs := make([]error, len(backgrounds))
	var wg sync.WaitGroup
	for i, bg := range backgrounds {
		source := pngUpload(t, "photo.jpg", facestest.FaceImage(48, 48, 12, bg, red))
		target := pngUpload(t, "photo.jpg", facestest.FaceImage(48, 48, 12, bg, blue))
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = service.SwapFaces(context.Background(), source, target)
		}()
	}
	wg.Wait()

	ids := map[string]bool{}
	for i, result := range results {
		if errs[i] != nil {
			t.Fatalf("request %d failed: %v", i, errs[i])
		}
		if ids[result.Record.ID] {
			t.Fatalf("duplicate result id %s", result.Record.ID)
		}
		ids[result.Record.ID] = true

		decoded, err := imageio.Decode(result.Image)
		if err != nil {
			t.Fatalf("decode result %d: %v", i, err)
		}
		if !closeTo(decoded.RGBAAt(1, 1), backgrounds[i], 8) {
			t.Errorf("result %d background = %v, want %v", i, decoded.RGBAAt(1, 1), backgrounds[i])
		}
	}
}

func TestDeleteResult(t *testing.T) {
	service := newTestService(t, nil)
	result, err := service.SwapFaces(context.Background(),
		pngUpload(t, "a.png", facestest.FaceImage(32, 32, 8, white, red)),
		pngUpload(t, "b.png", facestest.FaceImage(32, 32, 8, white, blue)))
	if err != nil {
		t.Fatalf("SwapFaces() error = %v", err)
	}

	if err := service.DeleteResult(context.Background(), result.Record.ID); err != nil {
		t.Fatalf("DeleteResult() error = %v", err)
	}
	for _, p := range []string{result.Record.ResultPath, result.Record.SourcePath, result.Record.TargetPath} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s still exists", p)
		}
	}
	if _, err := service.GetResult(context.Background(), result.Record.ID); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("GetResult() error = %v, want ErrNotFound", err)
	}
	if err := service.DeleteResult(context.Background(), result.Record.ID); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("second DeleteResult() error = %v, want ErrNotFound", err)
	}
}

func TestPrune_KeepsFreshResults(t *testing.T) {
	service := newTestService(t, nil)
	result, err := service.SwapFaces(context.Background(),
		pngUpload(t, "a.png", facestest.FaceImage(32, 32, 8, white, red)),
		pngUpload(t, "b.png", facestest.FaceImage(32, 32, 8, white, blue)))
	if err != nil {
		t.Fatalf("SwapFaces() error = %v", err)
	}

	report, err := service.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if report.Records != 0 {
		t.Errorf("pruned %d records, want 0", report.Records)
	}
	if _, err := os.Stat(result.Record.ResultPath); err != nil {
		t.Errorf("fresh result was removed: %v", err)
	}
}

func TestNewCoreServiceWith_RequiresComponents(t *testing.T) {
	if _, err := NewCoreServiceWith(&ServiceConfig{}, Components{}); err == nil {
		t.Fatal("expected error without components")
	}
}

func closeTo(got, want color.RGBA, tolerance int) bool {
	diff := func(a, b uint8) int {
		d := int(a) - int(b)
		if d < 0 {
			return -d
		}
		return d
	}
	return diff(got.R, want.R) <= tolerance && diff(got.G, want.G) <= tolerance && diff(got.B, want.B) <= tolerance
}
