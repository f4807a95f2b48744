package imageio

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// isSVGData performs a lightweight detection of SVG content from raw bytes.
func isSVGData(data []byte) bool {
	n := len(data)
	if n > 4096 {
		n = 4096
	}
	header := bytes.ToLower(bytes.TrimSpace(data[:n]))
	return bytes.Contains(header, []byte("<svg")) ||
		bytes.Contains(header, []byte(`xmlns="http://www.w3.org/2000/svg"`)) ||
		bytes.Contains(header, []byte(`xmlns='http://www.w3.org/2000/svg'`))
}

// decodeSVG rasterizes an SVG onto a white canvas. The canvas size comes from
// the width/height attributes, falling back to the viewBox.
func decodeSVG(data []byte, maxPixels int) (*image.RGBA, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse SVG: %v", ErrDecodeFailure, err)
	}

	w, h, ok := parseSvgExplicitSize(data)
	if !ok {
		// a viewBox may be arbitrarily large; clamp before converting
		w, h = clampDimension(icon.ViewBox.W), clampDimension(icon.ViewBox.H)
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: SVG has no usable size", ErrDecodeFailure)
	}
	if err := checkSize(w, h, maxPixels); err != nil {
		return nil, fmt.Errorf("svg image: %w", err)
	}

	icon.SetTarget(0, 0, float64(w), float64(h))
	dst := createTargetCanvas(w, h, color.RGBA{255, 255, 255, 255})
	scanner := rasterx.NewScannerGV(w, h, dst, dst.Bounds())
	dasher := rasterx.NewDasher(w, h, scanner)
	icon.Draw(dasher, 1.0)
	return dst, nil
}

// maxSVGDimension saturates parsed sizes so oversized values are rejected by
// the pixel limit instead of overflowing.
const maxSVGDimension = 1 << 30

func clampDimension(v float64) int {
	if v >= maxSVGDimension {
		return maxSVGDimension
	}
	if v <= 0 {
		return 0
	}
	return int(v)
}

// parseSvgExplicitSize extracts width and height attributes of the <svg> tag.
func parseSvgExplicitSize(data []byte) (int, int, bool) {
	n := len(data)
	if n > 8192 {
		n = 8192
	}
	s := strings.ToLower(string(data[:n]))
	i := strings.Index(s, "<svg")
	if i < 0 {
		return 0, 0, false
	}
	j := strings.Index(s[i:], ">")
	if j < 0 {
		j = len(s)
	} else {
		j = i + j
	}
	tag := s[i:j]

	w, wOk := parseNumericAttr(tag, "width")
	h, hOk := parseNumericAttr(tag, "height")
	if wOk && hOk {
		return w, h, true
	}
	return 0, 0, false
}

// parseNumericAttr reads the leading integer of a quoted attribute, e.g. width="123px".
func parseNumericAttr(tag, attr string) (int, bool) {
	pos := strings.Index(tag, " "+attr+"=")
	if pos < 0 {
		return 0, false
	}
	rest := tag[pos+len(attr)+2:]
	if rest == "" || (rest[0] != '"' && rest[0] != '\'') {
		return 0, false
	}
	quote := rest[0]
	rest = rest[1:]
	if end := strings.IndexByte(rest, quote); end >= 0 {
		rest = rest[:end]
	}

	num := 0
	found := false
	for k := 0; k < len(rest); k++ {
		ch := rest[k]
		if ch < '0' || ch > '9' {
			break
		}
		found = true
		num = num*10 + int(ch-'0')
		if num >= maxSVGDimension {
			num = maxSVGDimension
			break
		}
	}
	if !found || num <= 0 {
		return 0, false
	}
	return num, true
}
