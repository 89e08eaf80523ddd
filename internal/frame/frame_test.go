package frame

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	return img
}

func writePNG(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestIsSupported(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"a.png", true},
		{"a.JPG", true},
		{"a.jpeg", true},
		{"a.bmp", true},
		{"a.gif", false},
		{"noext", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSupported(tt.path))
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "frame.png", solid(40, 30, color.White))

	img, meta, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())
	assert.Equal(t, "png", meta.Format)
	assert.Equal(t, 30, meta.Height)
	assert.Positive(t, meta.SizeBytes)
}

func TestLoad_Errors(t *testing.T) {
	_, _, err := Load("")
	require.Error(t, err)

	_, _, err = Load("frame.gif")
	require.Error(t, err)

	_, _, err = Load(filepath.Join(t.TempDir(), "missing.png"))
	var fe *FrameError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "load", fe.Operation)
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	a := writePNG(t, dir, "a.png", solid(20, 20, color.Black))
	b := writePNG(t, dir, "b.png", solid(30, 20, color.Black))

	frames, err := LoadAll([]string{a, b})
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, 30, frames[1].Bounds().Dx())

	_, err = LoadAll([]string{a, filepath.Join(dir, "nope.png")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope.png")
}

func TestDecode_Invalid(t *testing.T) {
	_, _, err := Decode(nil)
	require.Error(t, err)

	_, _, err = Decode([]byte("not an image"))
	var fe *FrameError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "decode", fe.Operation)
}

func TestPrepare(t *testing.T) {
	c := Constraints{MinWidth: 16, MinHeight: 16, MaxDimension: 100}

	small := solid(50, 40, color.White)
	got, err := Prepare(small, c)
	require.NoError(t, err)
	assert.Same(t, small, got)

	big := solid(400, 200, color.White)
	got, err = Prepare(big, c)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Bounds().Dx())
	assert.Equal(t, 50, got.Bounds().Dy())
	assert.Equal(t, 400, big.Bounds().Dx())

	_, err = Prepare(solid(8, 8, color.White), c)
	require.Error(t, err)

	_, err = Prepare(nil, c)
	require.Error(t, err)
}
