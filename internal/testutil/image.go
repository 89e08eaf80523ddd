// Package testutil draws synthetic monitor frames for tests.
package testutil

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ImageSize represents common frame dimensions.
type ImageSize struct {
	Width  int
	Height int
}

var (
	// Common frame sizes.
	SmallSize  = ImageSize{320, 240}
	CameraSize = ImageSize{1280, 720}
)

// DisplayConfig describes a synthetic monitor photo: a bright LCD panel on a dark
// background with dark digits on the panel, one value per line.
type DisplayConfig struct {
	Lines      []string
	Size       ImageSize
	Panel      image.Rectangle
	Background color.Color
	PanelColor color.Color
	DigitColor color.Color
	// Scale enlarges the 7x13 bitmap font.
	Scale int
}

// DefaultDisplayConfig frames 120/80/72 in the middle of a small frame.
func DefaultDisplayConfig() DisplayConfig {
	return DisplayConfig{
		Lines:      []string{"120", "80", "72"},
		Size:       SmallSize,
		Panel:      image.Rect(100, 60, 220, 180),
		Background: color.RGBA{R: 25, G: 25, B: 30, A: 255},
		PanelColor: color.RGBA{R: 215, G: 225, B: 205, A: 255},
		DigitColor: color.RGBA{R: 20, G: 20, B: 20, A: 255},
		Scale:      2,
	}
}

// CenteredPanel returns a panel of the given width and height percentages centered in size.
func CenteredPanel(size ImageSize, widthPct, heightPct int) image.Rectangle {
	w := size.Width * widthPct / 100
	h := size.Height * heightPct / 100
	x0 := (size.Width - w) / 2
	y0 := (size.Height - h) / 2
	return image.Rect(x0, y0, x0+w, y0+h)
}

// GenerateDisplay renders cfg into a new frame.
func GenerateDisplay(cfg DisplayConfig) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, cfg.Size.Width, cfg.Size.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{cfg.Background}, image.Point{}, draw.Src)

	panel := cfg.Panel.Intersect(img.Bounds())
	if panel.Empty() {
		return img
	}
	draw.Draw(img, panel, &image.Uniform{cfg.PanelColor}, image.Point{}, draw.Src)

	if len(cfg.Lines) == 0 {
		return img
	}

	scale := max(cfg.Scale, 1)
	face := basicfont.Face7x13
	lineHeight := face.Metrics().Height.Ceil()
	widest := 0
	for _, l := range cfg.Lines {
		widest = max(widest, font.MeasureString(face, l).Ceil())
	}

	// Draw at native size, then scale the text block onto the panel.
	text := image.NewRGBA(image.Rect(0, 0, widest+4, lineHeight*len(cfg.Lines)+4))
	draw.Draw(text, text.Bounds(), &image.Uniform{cfg.PanelColor}, image.Point{}, draw.Src)
	drawer := &font.Drawer{Dst: text, Src: &image.Uniform{cfg.DigitColor}, Face: face}
	for i, l := range cfg.Lines {
		w := font.MeasureString(face, l).Ceil()
		drawer.Dot = fixed.P(2+widest-w, 2+(i+1)*lineHeight-3)
		drawer.DrawString(l)
	}

	tb := text.Bounds()
	scaled := imaging.Resize(text, tb.Dx()*scale, tb.Dy()*scale, imaging.NearestNeighbor)
	sb := scaled.Bounds()
	at := image.Point{
		X: panel.Min.X + (panel.Dx()-sb.Dx())/2,
		Y: panel.Min.Y + (panel.Dy()-sb.Dy())/2,
	}
	draw.Draw(img, image.Rectangle{Min: at, Max: at.Add(sb.Size())}.Intersect(panel), scaled, image.Point{}, draw.Src)
	return img
}

// DisplayFrame renders the default display showing the given lines.
func DisplayFrame(lines ...string) *image.RGBA {
	cfg := DefaultDisplayConfig()
	if len(lines) > 0 {
		cfg.Lines = lines
	}
	return GenerateDisplay(cfg)
}

// BlankFrame returns a uniform frame.
func BlankFrame(size ImageSize, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{c}, image.Point{}, draw.Src)
	return img
}

// PNGBytes encodes img as PNG.
func PNGBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// SaveImage writes img as PNG to path, creating parent directories.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750), "Failed to create directory for %s", path)
	require.NoError(t, os.WriteFile(path, PNGBytes(t, img), 0o600), "Failed to write %s", path)
}

// WriteFrames saves one PNG per frame into a fresh temp directory and returns the paths.
func WriteFrames(t *testing.T, frames ...image.Image) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, 0, len(frames))
	for i, f := range frames {
		p := filepath.Join(dir, fmt.Sprintf("frame_%03d.png", i))
		SaveImage(t, f, p)
		paths = append(paths, p)
	}
	return paths
}
