// Package imaging crops, scales and encodes face images.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	"facebooth-go/internal/core/models"

	"golang.org/x/image/draw"
)

// JPEGQuality is used for every crop sent to the backend.
const JPEGQuality = 85

var (
	// ErrEmptyFrame is returned for nil or zero-sized frames.
	ErrEmptyFrame = errors.New("empty frame")
	// ErrEmptyCrop is returned when the requested region has no pixels inside the frame.
	ErrEmptyCrop = errors.New("empty crop region")
)

// SquareRegion returns the square region of side max(w, h) centred on c,
// shifted and shrunk as needed to lie inside bounds.
func SquareRegion(bounds image.Rectangle, c models.Point, w, h float64) (image.Rectangle, error) {
	if bounds.Empty() {
		return image.Rectangle{}, ErrEmptyFrame
	}
	if math.IsNaN(c.X) || math.IsNaN(c.Y) || math.IsNaN(w) || math.IsNaN(h) {
		return image.Rectangle{}, ErrEmptyCrop
	}

	side := int(math.Round(math.Max(w, h)))
	side = min(side, bounds.Dx(), bounds.Dy())
	if side < 1 {
		return image.Rectangle{}, ErrEmptyCrop
	}

	x0 := int(math.Round(c.X - float64(side)/2))
	y0 := int(math.Round(c.Y - float64(side)/2))
	x0 = clamp(x0, bounds.Min.X, bounds.Max.X-side)
	y0 = clamp(y0, bounds.Min.Y, bounds.Max.Y-side)

	return image.Rect(x0, y0, x0+side, y0+side), nil
}

// SquareCrop extracts the square region around c (see SquareRegion) and scales
// it to size x size pixels.
func SquareCrop(frame image.Image, c models.Point, w, h float64, size int) (*image.RGBA, error) {
	if frame == nil {
		return nil, ErrEmptyFrame
	}
	if size < 1 {
		return nil, fmt.Errorf("invalid crop size %d", size)
	}
	r, err := SquareRegion(frame.Bounds(), c, w, h)
	if err != nil {
		return nil, err
	}
	return Resize(frame, r, size), nil
}

// Resize scales the src region of img into a new size x size image.
func Resize(img image.Image, src image.Rectangle, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)
	return dst
}

// EncodeJPEG encodes img as JPEG.
func EncodeJPEG(img image.Image) ([]byte, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, ErrEmptyFrame
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
