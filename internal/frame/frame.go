// Package frame loads, decodes and bounds camera frames before analysis.
package frame

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
)

// FrameError represents errors that can occur while loading or preparing a frame.
type FrameError struct {
	Operation string
	Err       error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame error in %s: %v", e.Operation, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// SupportedExtensions lists file extensions accepted by Load.
var SupportedExtensions = []string{".jpg", ".jpeg", ".png", ".bmp"}

// IsSupported reports whether the path has a supported image extension.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// Metadata captures lightweight file and pixel information.
type Metadata struct {
	Path      string
	Format    string
	SizeBytes int64
	Width     int
	Height    int
}

// Constraints bounds the frames handed to the analysis stages.
type Constraints struct {
	MinWidth     int
	MinHeight    int
	MaxDimension int
}

// DefaultConstraints allows anything from a thumbnail up to a 1080p capture.
func DefaultConstraints() Constraints {
	return Constraints{
		MinWidth:     16,
		MinHeight:    16,
		MaxDimension: 1920,
	}
}

// Load opens and decodes an image file.
func Load(path string) (image.Image, Metadata, error) {
	if path == "" {
		return nil, Metadata{}, &FrameError{Operation: "load", Err: errors.New("empty path")}
	}
	if !IsSupported(path) {
		return nil, Metadata{}, &FrameError{Operation: "load", Err: fmt.Errorf("unsupported format: %s", filepath.Ext(path))}
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: frame paths come from the user
	if err != nil {
		return nil, Metadata{}, &FrameError{Operation: "load", Err: err}
	}

	img, format, err := Decode(data)
	if err != nil {
		return nil, Metadata{}, err
	}

	b := img.Bounds()
	return img, Metadata{
		Path:      path,
		Format:    format,
		SizeBytes: int64(len(data)),
		Width:     b.Dx(),
		Height:    b.Dy(),
	}, nil
}

// LoadAll loads every path in order and stops at the first failure.
func LoadAll(paths []string) ([]image.Image, error) {
	frames := make([]image.Image, 0, len(paths))
	for _, p := range paths {
		img, _, err := Load(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		frames = append(frames, img)
	}
	return frames, nil
}

// Decode decodes JPEG, PNG or BMP bytes.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", &FrameError{Operation: "decode", Err: errors.New("empty image data")}
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", &FrameError{Operation: "decode", Err: err}
	}
	return img, format, nil
}

// Prepare validates img against c and scales it down when either side exceeds
// MaxDimension. The input is never modified.
func Prepare(img image.Image, c Constraints) (image.Image, error) {
	if img == nil {
		return nil, &FrameError{Operation: "prepare", Err: errors.New("input image is nil")}
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < c.MinWidth || h < c.MinHeight {
		return nil, &FrameError{
			Operation: "prepare",
			Err:       fmt.Errorf("frame too small: %dx%d < %dx%d", w, h, c.MinWidth, c.MinHeight),
		}
	}
	if c.MaxDimension > 0 && (w > c.MaxDimension || h > c.MaxDimension) {
		return imaging.Fit(img, c.MaxDimension, c.MaxDimension, imaging.Lanczos), nil
	}
	return img, nil
}
