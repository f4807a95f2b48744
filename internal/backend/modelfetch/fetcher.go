package modelfetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrFetch is returned when the model artifact cannot be acquired.
var ErrFetch = errors.New("model fetch failed")

// Fetcher makes sure a model artifact exists at Path, downloading it from URL
// on first use.
type Fetcher struct {
	Path   string
	URL    string
	SHA256 string

	// Progress, when set, is called with the expected download size (-1 when
	// unknown) and returns a writer that receives a copy of the downloaded bytes.
	Progress func(total int64) io.Writer

	httpClient *http.Client
}

func NewFetcher(path, url, checksum string) *Fetcher {
	return &Fetcher{
		Path:       path,
		URL:        url,
		SHA256:     strings.ToLower(strings.TrimSpace(checksum)),
		httpClient: &http.Client{Timeout: 30 * time.Minute},
	}
}

// Ensure is idempotent: an existing artifact with a matching checksum is left alone.
func (f *Fetcher) Ensure(ctx context.Context) error {
	if f.Path == "" {
		return fmt.Errorf("%w: model path is not configured", ErrFetch)
	}

	present, err := f.isPresent()
	if err != nil {
		return err
	}
	if present {
		slog.Info("model artifact present", "path", f.Path)
		return nil
	}

	if f.URL == "" {
		return fmt.Errorf("%w: %s is missing and no download URL is configured", ErrFetch, f.Path)
	}

	slog.Info("downloading model artifact", "path", f.Path, "url", f.URL)
	start := time.Now()
	size, err := f.download(ctx)
	if err != nil {
		return err
	}
	slog.Info("model artifact downloaded",
		"path", f.Path,
		"size_bytes", size,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (f *Fetcher) isPresent() (bool, error) {
	info, err := os.Stat(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: failed to stat %s: %v", ErrFetch, f.Path, err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("%w: %s is a directory", ErrFetch, f.Path)
	}
	if f.SHA256 == "" {
		return true, nil
	}

	sum, err := fileChecksum(f.Path)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if sum != f.SHA256 {
		slog.Warn("model artifact checksum mismatch, downloading again",
			"path", f.Path, "expected", f.SHA256, "actual", sum)
		return false, nil
	}
	return true, nil
}

func (f *Fetcher) download(ctx context.Context) (int64, error) {
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("%w: failed to create %s: %v", ErrFetch, dir, err)
	}

	resp, err := f.open(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	hash := sha256.New()
	writers := []io.Writer{tmp, hash}
	if f.Progress != nil {
		if w := f.Progress(resp.ContentLength); w != nil {
			writers = append(writers, w)
		}
	}

	written, err := io.Copy(io.MultiWriter(writers...), resp.Body)
	if err != nil {
		cleanup()
		return 0, fmt.Errorf("%w: download interrupted: %v", ErrFetch, err)
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		cleanup()
		return 0, fmt.Errorf("%w: expected %d bytes, received %d", ErrFetch, resp.ContentLength, written)
	}
	if sum := hex.EncodeToString(hash.Sum(nil)); f.SHA256 != "" && sum != f.SHA256 {
		cleanup()
		return 0, fmt.Errorf("%w: checksum mismatch: expected %s, got %s", ErrFetch, f.SHA256, sum)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if err := os.Rename(tmpName, f.Path); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	return written, nil
}

// open requests URL and follows file-host confirmation pages until the
// artifact itself is served.
func (f *Fetcher) open(ctx context.Context) (*http.Response, error) {
	target := f.URL
	for hop := 0; hop <= maxConfirmations; hop++ {
		resp, err := f.get(ctx, target)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("%w: %s returned status %d", ErrFetch, target, resp.StatusCode)
		}
		if mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mediaType != "text/html" {
			return resp, nil
		}

		next, err := confirmationURL(resp)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %s returned an HTML page instead of the model: %v", ErrFetch, target, err)
		}
		slog.Info("modelfetch: following download confirmation", "url", next)
		target = next
	}
	return nil, fmt.Errorf("%w: %s kept answering with confirmation pages", ErrFetch, f.URL)
}

func (f *Fetcher) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	return resp, nil
}

func (f *Fetcher) client() *http.Client {
	if f.httpClient == nil {
		return http.DefaultClient
	}
	return f.httpClient
}

func fileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = file.Close()
	}()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
