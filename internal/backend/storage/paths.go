package storage

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	ResultExtension = ".jpg"
	defaultFilename = "upload"
	dirPermissions  = 0o755
	// maxNameBytes is the common file name limit (NAME_MAX) of local filesystems.
	maxNameBytes    = 255
)

// Paths resolves intake and output locations on the local filesystem.
type Paths struct {
	UploadDir string
	ResultDir string
}

func NewPaths(uploadDir, resultDir string) *Paths {
	return &Paths{
		UploadDir: uploadDir,
		ResultDir: resultDir,
	}
}

// EnsureDirectories creates the intake and output directories if they are absent.
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{p.UploadDir, p.ResultDir} {
		if err := os.MkdirAll(dir, dirPermissions); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	slog.Info("storage directories ready", "upload_dir", p.UploadDir, "result_dir", p.ResultDir)
	return nil
}

// IntakePath returns the request-scoped path for an uploaded file. The client
// filename is shortened so the base name stays within maxNameBytes.
func (p *Paths) IntakePath(id, role, filename string) string {
	prefix := fmt.Sprintf("%s-%s-", id, role)
	name := fitFilename(SanitizeFilename(filename), maxNameBytes-len(prefix))
	return filepath.Join(p.UploadDir, prefix+name)
}

// fitFilename trims the stem of name to at most limit bytes, keeping the
// extension and whole UTF-8 sequences.
func fitFilename(name string, limit int) string {
	if len(name) <= limit {
		return name
	}
	if limit <= 0 {
		return ""
	}
	ext := filepath.Ext(name)
	if len(ext) > limit/2 {
		ext = ""
	}
	stem := strings.TrimSuffix(name, ext)
	cut := limit - len(ext)
	for cut > 0 && !utf8.RuneStart(stem[cut]) {
		cut--
	}
	if cut == 0 {
		return truncateUTF8(defaultFilename+ext, limit)
	}
	return stem[:cut] + ext
}

func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

// ResultPath returns the path of the result image for id.
func (p *Paths) ResultPath(id string) string {
	return filepath.Join(p.ResultDir, id+ResultExtension)
}

// SanitizeFilename reduces a client supplied name to a safe base name.
func SanitizeFilename(filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == 0:
			return -1
		case r < 0x20:
			return '_'
		}
		return r
	}, name)
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return defaultFilename
	}
	return name
}

// SaveUpload streams r into path. The content is written to a temporary file
// and renamed into place once complete.
func SaveUpload(path string, r io.Reader) (int64, error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".incoming-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	written, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("failed to move upload into %s: %w", path, err)
	}
	return written, nil
}

// WriteResult stores data at path using the same temp-and-rename discipline as SaveUpload.
func WriteResult(path string, data []byte) error {
	_, err := SaveUpload(path, bytes.NewReader(data))
	return err
}

// Remove deletes path. A missing file is not an error.
func Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// RemoveOlderThan deletes regular files in dir last modified before cutoff
// and returns how many were removed.
func RemoveOlderThan(dir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed concurrently
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := Remove(filepath.Join(dir, entry.Name())); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
