package frontend

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jo-hoe/faceswap/internal/backend/database"
	"github.com/jo-hoe/faceswap/internal/backend/faces/facestest"
	"github.com/jo-hoe/faceswap/internal/core"
	"github.com/labstack/echo/v4"
)

func newTestEcho(t *testing.T) *echo.Echo {
	t.Helper()
	root := t.TempDir()
	db, err := database.NewDatabase(context.Background(), "sqlite", ":memory:")
	if err != nil {
		t.Fatalf("NewDatabase error: %v", err)
	}
	coreService, err := core.NewCoreServiceWith(&core.ServiceConfig{
		JPEGQuality: 90,
		Storage: core.Storage{
			UploadDir: filepath.Join(root, "uploads"),
			ResultDir: filepath.Join(root, "results"),
		},
	}, core.Components{
		Database: db,
		Detector: &facestest.RegionDetector{},
		Swapper:  &facestest.FillSwapper{},
	})
	if err != nil {
		t.Fatalf("NewCoreServiceWith error: %v", err)
	}
	t.Cleanup(func() { _ = coreService.Close() })

	e := echo.New()
	NewFrontendService(coreService).SetRoutes(e)
	return e
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func swapForm(t *testing.T, source, target image.Image) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for field, img := range map[string]image.Image{"sourceImage": source, "targetImage": target} {
		w, err := writer.CreateFormFile(field, field+".png")
		if err != nil {
			t.Fatalf("CreateFormFile error: %v", err)
		}
		if err := png.Encode(w, img); err != nil {
			t.Fatalf("png.Encode error: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("multipart close error: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/htmx/swap", &body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	return req
}

func TestIndexAndRedirect(t *testing.T) {
	e := newTestEcho(t)

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusMovedPermanently || rec.Header().Get("Location") != "/index.html" {
		t.Errorf("GET / = %d %s, want redirect to /index.html", rec.Code, rec.Header().Get("Location"))
	}

	rec = serve(e, httptest.NewRequest(http.MethodGet, "/index.html", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /index.html status = %d", rec.Code)
	}
	for _, want := range []string{`name="sourceImage"`, `name="targetImage"`, `hx-post="/htmx/swap"`} {
		if !strings.Contains(rec.Body.String(), want) {
			t.Errorf("index page lacks %s", want)
		}
	}
}

func TestHtmxSwap(t *testing.T) {
	e := newTestEcho(t)
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}

	tests := []struct {
		name     string
		source   image.Image
		wantText string
	}{
		{"success", facestest.FaceImage(32, 32, 8, white, color.RGBA{R: 200, A: 255}), `<img src="/api/results/`},
		{"no face", facestest.FaceImage(32, 32, 0, white, white), "no face found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := facestest.FaceImage(32, 32, 8, white, color.RGBA{B: 200, A: 255})
			rec := serve(e, swapForm(t, tt.source, target))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.wantText) {
				t.Errorf("body = %s, want it to contain %s", rec.Body.String(), tt.wantText)
			}
		})
	}
}

func TestHtmxDeleteUnknownResult(t *testing.T) {
	e := newTestEcho(t)
	rec := serve(e, httptest.NewRequest(http.MethodDelete, "/htmx/result/0b6d3c4e-8f43-4d5e-9a3b-6f6a4c1f2e11", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Result deleted.") {
		t.Errorf("DELETE = %d %s", rec.Code, rec.Body.String())
	}
}

func TestIconHandler(t *testing.T) {
	e := newTestEcho(t)
	rec := serve(e, httptest.NewRequest(http.MethodGet, "/icon.svg", nil))
	if rec.Code != http.StatusOK || rec.Header().Get(echo.HeaderContentType) != "image/svg+xml" {
		t.Errorf("icon = %d %s", rec.Code, rec.Header().Get(echo.HeaderContentType))
	}
}
