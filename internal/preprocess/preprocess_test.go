package preprocess

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniform(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func newPreprocessor(t *testing.T, mutate ...func(*Config)) *Preprocessor {
	t.Helper()
	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	p, err := New(cfg)
	require.NoError(t, err)
	return p
}

func countOn(g *image.Gray) int {
	n := 0
	for _, v := range g.Pix {
		if v == 255 {
			n++
		}
	}
	return n
}

func TestProcess_UniformFrames(t *testing.T) {
	grey := color.RGBA{R: 128, G: 128, B: 128, A: 255}
	p := newPreprocessor(t)

	tests := []struct {
		name     string
		strategy Strategy
		allOn    bool
	}{
		{"contrast mid grey is off", StrategyContrast, false},
		{"fixed mid grey is off", StrategyFixedThreshold, false},
		{"adaptive uniform is on", StrategyAdaptiveThreshold, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := p.Process(uniform(40, 30, grey), tt.strategy)
			require.NoError(t, err)
			assert.Equal(t, tt.strategy, out.Strategy)
			if tt.allOn {
				assert.Equal(t, 40*30, countOn(out.Gray))
			} else {
				assert.Zero(t, countOn(out.Gray))
			}
		})
	}
}

func TestProcess_FixedThresholdSplit(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 10))
	for y := range 10 {
		for x := range 20 {
			v := uint8(50)
			if x >= 10 {
				v = 200
			}
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}

	out, err := newPreprocessor(t).Process(img, StrategyFixedThreshold)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), out.Gray.GrayAt(5, 5).Y)
	assert.Equal(t, uint8(255), out.Gray.GrayAt(15, 5).Y)
	assert.Equal(t, 100, countOn(out.Gray))
}

func TestProcess_AdaptiveFindsDarkDigitOnBrightGround(t *testing.T) {
	img := uniform(60, 60, color.RGBA{R: 220, G: 220, B: 220, A: 255})
	for y := 25; y < 35; y++ {
		for x := 25; x < 35; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 30, G: 30, B: 30, A: 255})
		}
	}

	out, err := newPreprocessor(t).Process(img, StrategyAdaptiveThreshold)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), out.Gray.GrayAt(30, 30).Y)
	assert.Equal(t, uint8(255), out.Gray.GrayAt(5, 5).Y)
}

func TestProcess_ContrastStretches(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.SetRGBA(0, 0, color.RGBA{R: 120, G: 120, B: 120, A: 255})
	img.SetRGBA(1, 0, color.RGBA{R: 140, G: 140, B: 140, A: 255})

	out, err := newPreprocessor(t).Process(img, StrategyContrast)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), out.Gray.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(255), out.Gray.GrayAt(1, 0).Y)
}

func TestProcess_Invert(t *testing.T) {
	p := newPreprocessor(t, func(c *Config) { c.Invert = true })
	out, err := p.Process(uniform(8, 8, color.RGBA{R: 250, G: 250, B: 250, A: 255}), StrategyFixedThreshold)
	require.NoError(t, err)
	assert.Zero(t, countOn(out.Gray))
}

func TestProcess_DoesNotMutateInput(t *testing.T) {
	img := uniform(16, 16, color.RGBA{R: 90, G: 180, B: 30, A: 255})
	before := append([]uint8(nil), img.Pix...)

	p := newPreprocessor(t)
	for _, s := range Strategies() {
		_, err := p.Process(img, s)
		require.NoError(t, err)
	}
	assert.Equal(t, before, img.Pix)
}

func TestProcess_OffsetBounds(t *testing.T) {
	img := uniform(20, 20, color.RGBA{R: 255, A: 255})
	sub := img.SubImage(image.Rect(5, 5, 15, 12))

	out, err := newPreprocessor(t).Process(sub, StrategyAdaptiveThreshold)
	require.NoError(t, err)
	assert.Equal(t, 10, out.Gray.Bounds().Dx())
	assert.Equal(t, 7, out.Gray.Bounds().Dy())
}

func TestProcess_Errors(t *testing.T) {
	p := newPreprocessor(t)

	_, err := p.Process(nil, StrategyContrast)
	require.Error(t, err)

	_, err = p.Process(image.NewRGBA(image.Rect(0, 0, 0, 0)), StrategyContrast)
	require.Error(t, err)

	_, err = p.Process(uniform(4, 4, color.RGBA{}), Strategy("sharpen"))
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero gain", func(c *Config) { c.ContrastGain = 0 }},
		{"threshold too high", func(c *Config) { c.Threshold = 256 }},
		{"zero radius", func(c *Config) { c.AdaptiveRadius = 0 }},
		{"huge radius", func(c *Config) { c.AdaptiveRadius = 500 }},
		{"negative offset", func(c *Config) { c.AdaptiveOffset = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(cfg)
			require.Error(t, err)
		})
	}
	require.NoError(t, DefaultConfig().Validate())
}

func TestParseStrategies(t *testing.T) {
	got, err := ParseStrategies([]string{"Contrast", " adaptive-threshold "})
	require.NoError(t, err)
	assert.Equal(t, []Strategy{StrategyContrast, StrategyAdaptiveThreshold}, got)

	_, err = ParseStrategies([]string{"contrast", "contrast"})
	require.Error(t, err)

	_, err = ParseStrategy("blur")
	require.Error(t, err)
}

func TestImage_PNG(t *testing.T) {
	out, err := newPreprocessor(t).Process(uniform(12, 9, color.RGBA{R: 200, G: 200, B: 200, A: 255}), StrategyFixedThreshold)
	require.NoError(t, err)

	data, err := out.PNG()
	require.NoError(t, err)
	decoded, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, out.Gray.Bounds(), decoded.Bounds())
}
