package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jo-hoe/faceswap/internal/backend/faces"
)

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func encodeBase64PNG(t *testing.T, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode error: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(server.URL+"/", "models/inswapper_128.onnx", 5*time.Second)
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	return client
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	if _, err := NewClient("", "", 0); err == nil {
		t.Fatal("expected error for empty base URL")
	}
}

func TestDetect_PreservesProviderOrder(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != detectPath || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req detectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Image == "" {
			t.Errorf("expected image in detect request, err=%v", err)
		}
		_, _ = w.Write([]byte(`{"faces":[
			{"bbox":[10,20,30,40],"score":0.98,"embedding":[0.1,0.2]},
			{"bbox":[1,2,3,4],"score":0.51,"embedding":[0.3]}
		]}`))
	}))

	found, err := client.Detect(context.Background(), solidImage(50, 50, color.RGBA{A: 255}))
	if err != nil {
		t.Fatalf("Detect error: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 faces, got %d", len(found))
	}
	if found[0].Box != image.Rect(10, 20, 30, 40) || found[0].Score != 0.98 {
		t.Errorf("unexpected first face %+v", found[0])
	}
	if found[1].Box != image.Rect(1, 2, 3, 4) {
		t.Errorf("unexpected second face box %v", found[1].Box)
	}
	if !bytes.Contains(found[0].Payload, []byte(`"embedding"`)) {
		t.Errorf("expected raw provider payload to be retained, got %s", found[0].Payload)
	}
}

func TestDetect_NoFaces(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"faces":[]}`))
	}))

	found, err := client.Detect(context.Background(), solidImage(5, 5, color.RGBA{A: 255}))
	if err != nil {
		t.Fatalf("Detect error: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("expected no faces, got %d", len(found))
	}
}

func TestDetect_ProviderError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))

	_, err := client.Detect(context.Background(), solidImage(5, 5, color.RGBA{A: 255}))
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
}

func TestSwap_SendsFacesAndDecodesResult(t *testing.T) {
	encoded := encodeBase64PNG(t, solidImage(8, 6, color.RGBA{R: 255, A: 255}))
	var got swapRequest
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != swapPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode swap request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(swapResponse{Image: encoded})
	}))

	sourceFace := faces.Face{Box: image.Rect(1, 1, 4, 4), Payload: []byte(`{"bbox":[1,1,4,4],"kps":[[2,2]]}`)}
	targetFace := faces.Face{Box: image.Rect(0, 0, 2, 2), Score: 0.7}

	out, err := client.Swap(context.Background(), solidImage(8, 6, color.RGBA{A: 255}), sourceFace, targetFace)
	if err != nil {
		t.Fatalf("Swap error: %v", err)
	}
	if out.Bounds() != image.Rect(0, 0, 8, 6) {
		t.Errorf("unexpected bounds %v", out.Bounds())
	}
	if !got.PasteBack {
		t.Error("expected pasteBack to be requested")
	}
	if got.ModelPath != "models/inswapper_128.onnx" {
		t.Errorf("unexpected model path %q", got.ModelPath)
	}
	if !bytes.Contains(got.SourceFace, []byte(`"kps"`)) {
		t.Errorf("expected source payload forwarded untouched, got %s", got.SourceFace)
	}
	var header faceHeader
	if err := json.Unmarshal(got.TargetFace, &header); err != nil {
		t.Fatalf("target face is not valid JSON: %v", err)
	}
	if len(header.BBox) != 4 || header.BBox[2] != 2 || header.Score != 0.7 {
		t.Errorf("unexpected synthesized target face %+v", header)
	}
}

func TestSwap_InvalidImage(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"image":"bm90IGFuIGltYWdl"}`))
	}))

	_, err := client.Swap(context.Background(), solidImage(2, 2, color.RGBA{A: 255}), faces.Face{}, faces.Face{})
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
}

func TestNewProvider(t *testing.T) {
	detector, swapper, err := NewProvider("http", "http://localhost:5000", "", 0)
	if err != nil {
		t.Fatalf("NewProvider error: %v", err)
	}
	if detector == nil || swapper == nil {
		t.Fatal("expected detector and swapper")
	}

	if _, _, err := NewProvider("onnx", "http://localhost:5000", "", 0); err == nil {
		t.Error("expected error for unsupported provider")
	}
}
