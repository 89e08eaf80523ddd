// Package preprocess converts camera frames into binary images suited to digit recognition.
package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
)

// Strategy selects how a frame is binarized.
type Strategy string

const (
	StrategyContrast          Strategy = "contrast"
	StrategyFixedThreshold    Strategy = "fixed-threshold"
	StrategyAdaptiveThreshold Strategy = "adaptive-threshold"
)

// Strategies returns every strategy in the order a multi-sample capture runs them.
func Strategies() []Strategy {
	return []Strategy{StrategyContrast, StrategyFixedThreshold, StrategyAdaptiveThreshold}
}

// ParseStrategy resolves a strategy name. Matching is case-insensitive.
func ParseStrategy(name string) (Strategy, error) {
	s := Strategy(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Strategies() {
		if s == known {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown preprocessing strategy %q", name)
}

// ParseStrategies resolves a list of names, rejecting duplicates.
func ParseStrategies(names []string) ([]Strategy, error) {
	out := make([]Strategy, 0, len(names))
	seen := make(map[Strategy]bool)
	for _, n := range names {
		s, err := ParseStrategy(n)
		if err != nil {
			return nil, err
		}
		if seen[s] {
			return nil, fmt.Errorf("duplicate preprocessing strategy %q", n)
		}
		seen[s] = true
		out = append(out, s)
	}
	return out, nil
}

// Config holds the tunables of all strategies.
type Config struct {
	ContrastGain   float64 `mapstructure:"contrast_gain" yaml:"contrast_gain" json:"contrast_gain"`
	Threshold      int     `mapstructure:"threshold" yaml:"threshold" json:"threshold"`
	AdaptiveRadius int     `mapstructure:"adaptive_radius" yaml:"adaptive_radius" json:"adaptive_radius"`
	AdaptiveOffset float64 `mapstructure:"adaptive_offset" yaml:"adaptive_offset" json:"adaptive_offset"`
	// Invert swaps on and off pixels after binarization.
	Invert bool `mapstructure:"invert" yaml:"invert" json:"invert"`
}

// DefaultConfig returns the default preprocessing settings.
func DefaultConfig() Config {
	return Config{
		ContrastGain:   2.0,
		Threshold:      128,
		AdaptiveRadius: 15,
		AdaptiveOffset: 10,
		Invert:         false,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ContrastGain <= 0 {
		return errors.New("contrast gain must be positive")
	}
	if c.Threshold < 0 || c.Threshold > 255 {
		return fmt.Errorf("threshold %d outside [0,255]", c.Threshold)
	}
	if c.AdaptiveRadius < 1 || c.AdaptiveRadius > 100 {
		return fmt.Errorf("adaptive radius %d outside [1,100]", c.AdaptiveRadius)
	}
	if c.AdaptiveOffset < 0 || c.AdaptiveOffset > 255 {
		return fmt.Errorf("adaptive offset %.1f outside [0,255]", c.AdaptiveOffset)
	}
	return nil
}

// Image is a binarized frame: every pixel is 0 or 255.
type Image struct {
	Strategy Strategy
	Gray     *image.Gray
}

// PNG encodes the binarized image for the recognizer.
func (i *Image) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, i.Gray); err != nil {
		return nil, fmt.Errorf("encode %s image: %w", i.Strategy, err)
	}
	return buf.Bytes(), nil
}

// Preprocessor applies strategies with a validated configuration.
type Preprocessor struct {
	cfg Config
}

// New validates cfg and returns a Preprocessor.
func New(cfg Config) (*Preprocessor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid preprocessing config: %w", err)
	}
	return &Preprocessor{cfg: cfg}, nil
}

// Process binarizes frame with strategy. The frame is never modified and the
// output has the same dimensions.
func (p *Preprocessor) Process(frame image.Image, strategy Strategy) (*Image, error) {
	if frame == nil {
		return nil, errors.New("preprocess: nil frame")
	}
	b := frame.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, errors.New("preprocess: empty frame")
	}

	lum := luminance(frame)
	var out *image.Gray
	switch strategy {
	case StrategyContrast:
		out = p.contrast(lum)
	case StrategyFixedThreshold:
		out = p.fixed(lum)
	case StrategyAdaptiveThreshold:
		out = p.adaptive(lum)
	default:
		return nil, fmt.Errorf("preprocess: unknown strategy %q", strategy)
	}

	if p.cfg.Invert {
		for i, v := range out.Pix {
			out.Pix[i] = 255 - v
		}
	}
	return &Image{Strategy: strategy, Gray: out}, nil
}

// lumaPlane holds per-pixel luminance of a frame with origin at 0,0.
type lumaPlane struct {
	w, h int
	v    []float64
}

// luminance computes 0.299R + 0.587G + 0.114B on a private copy of the frame.
func luminance(frame image.Image) lumaPlane {
	src := imaging.Clone(frame)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	plane := lumaPlane{w: w, h: h, v: make([]float64, w*h)}
	for y := range h {
		row := src.Pix[y*src.Stride:]
		for x := range w {
			px := row[x*4:]
			plane.v[y*w+x] = float64(299*int(px[0])+587*int(px[1])+114*int(px[2])) / 1000
		}
	}
	return plane
}

func (lp lumaPlane) binarize(on func(i int) bool) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, lp.w, lp.h))
	for i := range lp.v {
		if on(i) {
			out.Pix[i] = 255
		}
	}
	return out
}

func (p *Preprocessor) contrast(lp lumaPlane) *image.Gray {
	return lp.binarize(func(i int) bool {
		stretched := (lp.v[i]-128)*p.cfg.ContrastGain + 128
		if stretched < 0 {
			stretched = 0
		} else if stretched > 255 {
			stretched = 255
		}
		return stretched > 128
	})
}

func (p *Preprocessor) fixed(lp lumaPlane) *image.Gray {
	t := float64(p.cfg.Threshold)
	return lp.binarize(func(i int) bool {
		return lp.v[i] > t
	})
}

// adaptive compares each pixel to the mean of its (2r+1)^2 neighborhood, clipped at
// the borders. A summed-area table keeps the cost linear in the pixel count.
func (p *Preprocessor) adaptive(lp lumaPlane) *image.Gray {
	r := p.cfg.AdaptiveRadius
	if limit := min(lp.w, lp.h) / 2; r > limit {
		r = max(limit, 1)
	}

	sw := lp.w + 1
	sat := make([]float64, sw*(lp.h+1))
	for y := range lp.h {
		rowSum := 0.0
		for x := range lp.w {
			rowSum += lp.v[y*lp.w+x]
			sat[(y+1)*sw+x+1] = sat[y*sw+x+1] + rowSum
		}
	}

	return lp.binarize(func(i int) bool {
		x, y := i%lp.w, i/lp.w
		x0, y0 := max(x-r, 0), max(y-r, 0)
		x1, y1 := min(x+r, lp.w-1)+1, min(y+r, lp.h-1)+1
		sum := sat[y1*sw+x1] - sat[y0*sw+x1] - sat[y1*sw+x0] + sat[y0*sw+x0]
		mean := sum / float64((x1-x0)*(y1-y0))
		return lp.v[i] > mean-p.cfg.AdaptiveOffset
	})
}
