package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jo-hoe/faceswap/internal/backend/faces"
	"github.com/jo-hoe/faceswap/internal/backend/imageio"
)

const (
	detectPath      = "/detect"
	swapPath        = "/swap"
	maxErrorExcerpt = 512
	DefaultTimeout  = 60 * time.Second
)

// ErrProvider is returned when the inference provider cannot be reached or
// answers with a failure.
var ErrProvider = errors.New("inference provider error")

// Client talks to an inference provider that hosts the detection and swap
// models. It implements faces.Detector and faces.Swapper.
type Client struct {
	baseURL    string
	modelPath  string
	httpClient *http.Client
}

var (
	_ faces.Detector = (*Client)(nil)
	_ faces.Swapper  = (*Client)(nil)
)

// NewClient creates a provider client. modelPath is forwarded with every swap
// request so the provider loads the artifact fetched at startup.
func NewClient(baseURL, modelPath string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("inference base URL must not be empty")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		modelPath:  modelPath,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type detectRequest struct {
	Image string `json:"image"`
}

type detectResponse struct {
	Faces []json.RawMessage `json:"faces"`
}

// faceHeader holds the fields of a provider face that the service reads.
// Everything else stays in the raw payload.
type faceHeader struct {
	BBox  []float64 `json:"bbox"`
	Score float64   `json:"score"`
}

type swapRequest struct {
	Image      string          `json:"image"`
	SourceFace json.RawMessage `json:"sourceFace"`
	TargetFace json.RawMessage `json:"targetFace"`
	ModelPath  string          `json:"modelPath,omitempty"`
	PasteBack  bool            `json:"pasteBack"`
}

type swapResponse struct {
	Image string `json:"image"`
}

// Detect returns faces in the order the provider reports them (descending
// detection score).
func (c *Client) Detect(ctx context.Context, img image.Image) ([]faces.Face, error) {
	encoded, err := encodeImage(img)
	if err != nil {
		return nil, err
	}

	var resp detectResponse
	if err := c.post(ctx, detectPath, detectRequest{Image: encoded}, &resp); err != nil {
		return nil, err
	}

	result := make([]faces.Face, 0, len(resp.Faces))
	for i, raw := range resp.Faces {
		var header faceHeader
		if err := json.Unmarshal(raw, &header); err != nil {
			return nil, fmt.Errorf("%w: malformed face %d: %v", ErrProvider, i, err)
		}
		result = append(result, faces.Face{
			Box:     toRectangle(header.BBox),
			Score:   header.Score,
			Payload: raw,
		})
	}

	slog.Debug("inference: detect complete", "faces", len(result))
	return result, nil
}

// Swap asks the provider to paste targetFace into sourceFace's region of source.
func (c *Client) Swap(ctx context.Context, source image.Image, sourceFace, targetFace faces.Face) (image.Image, error) {
	encoded, err := encodeImage(source)
	if err != nil {
		return nil, err
	}

	req := swapRequest{
		Image:      encoded,
		SourceFace: payloadOf(sourceFace),
		TargetFace: payloadOf(targetFace),
		ModelPath:  c.modelPath,
		PasteBack:  true,
	}
	var resp swapResponse
	if err := c.post(ctx, swapPath, req, &resp); err != nil {
		return nil, err
	}

	data, err := base64.StdEncoding.DecodeString(resp.Image)
	if err != nil {
		return nil, fmt.Errorf("%w: swapped image is not valid base64: %v", ErrProvider, err)
	}
	swapped, err := imageio.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: swapped image: %v", ErrProvider, err)
	}
	return swapped, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrProvider, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	slog.Debug("inference: provider responded",
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorExcerpt))
		return fmt.Errorf("%w: %s returned status %d: %s", ErrProvider, path, resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode %s response: %v", ErrProvider, path, err)
	}
	return nil
}

func encodeImage(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("failed to encode image for provider: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// payloadOf returns the provider JSON for a face, synthesizing it from the
// box and score when the face did not come from this provider.
func payloadOf(face faces.Face) json.RawMessage {
	if json.Valid(face.Payload) {
		return face.Payload
	}
	b := face.Box
	data, _ := json.Marshal(faceHeader{
		BBox:  []float64{float64(b.Min.X), float64(b.Min.Y), float64(b.Max.X), float64(b.Max.Y)},
		Score: face.Score,
	})
	return data
}

func toRectangle(bbox []float64) image.Rectangle {
	if len(bbox) != 4 {
		return image.Rectangle{}
	}
	return image.Rect(int(bbox[0]), int(bbox[1]), int(bbox[2]), int(bbox[3]))
}
