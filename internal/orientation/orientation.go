// Package orientation judges whether a monitor display is framed well enough to read.
package orientation

import (
	"errors"
	"fmt"
	"image"
)

// Config controls the bright-region heuristic.
type Config struct {
	// Stride is the sampling step in pixels along both axes.
	Stride int `mapstructure:"stride" yaml:"stride" json:"stride"`
	// BrightnessThreshold is compared against mean(R,G,B) of a sample.
	BrightnessThreshold int `mapstructure:"brightness_threshold" yaml:"brightness_threshold" json:"brightness_threshold"`
	MinBrightPixels     int `mapstructure:"min_bright_pixels" yaml:"min_bright_pixels" json:"min_bright_pixels"`
	// CenterTolerance is the allowed centroid offset, in percent of the frame side.
	CenterTolerance float64 `mapstructure:"center_tolerance" yaml:"center_tolerance" json:"center_tolerance"`
	// MinSize and MaxSize bound the display width in percent of the frame width.
	MinSize float64 `mapstructure:"min_size" yaml:"min_size" json:"min_size"`
	MaxSize float64 `mapstructure:"max_size" yaml:"max_size" json:"max_size"`
}

// DefaultConfig provides sensible defaults.
func DefaultConfig() Config {
	return Config{
		Stride:              10,
		BrightnessThreshold: 180,
		MinBrightPixels:     10,
		CenterTolerance:     15,
		MinSize:             20,
		MaxSize:             60,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Stride < 1 {
		return errors.New("stride must be at least 1")
	}
	if c.BrightnessThreshold < 0 || c.BrightnessThreshold > 255 {
		return fmt.Errorf("brightness threshold %d outside [0,255]", c.BrightnessThreshold)
	}
	if c.MinBrightPixels < 1 {
		return errors.New("min bright pixels must be at least 1")
	}
	if c.CenterTolerance < 0 || c.CenterTolerance > 50 {
		return fmt.Errorf("center tolerance %.1f outside [0,50]", c.CenterTolerance)
	}
	if c.MinSize < 0 || c.MaxSize > 100 || c.MinSize >= c.MaxSize {
		return fmt.Errorf("size bounds [%.1f,%.1f] invalid", c.MinSize, c.MaxSize)
	}
	return nil
}

// Verdict is the outcome of analyzing one frame.
// Offsets are signed percentages of width and height; positive means right and down.
type Verdict struct {
	HasDisplay    bool    `json:"has_display"`
	CenterOffsetX float64 `json:"center_offset_x"`
	CenterOffsetY float64 `json:"center_offset_y"`
	EstimatedSize float64 `json:"estimated_size"`
	BrightPixels  int     `json:"bright_pixels"`
}

// Guidance is the single instruction derived from a verdict.
type Guidance int

const (
	GuidanceNoDisplay Guidance = iota
	GuidanceMoveRight
	GuidanceMoveLeft
	GuidanceMoveDown
	GuidanceMoveUp
	GuidanceMoveCloser
	GuidanceMoveBack
	GuidanceAligned
)

var guidanceNames = [...]string{
	GuidanceNoDisplay:  "no-display",
	GuidanceMoveRight:  "move-right",
	GuidanceMoveLeft:   "move-left",
	GuidanceMoveDown:   "move-down",
	GuidanceMoveUp:     "move-up",
	GuidanceMoveCloser: "move-closer",
	GuidanceMoveBack:   "move-back",
	GuidanceAligned:    "aligned",
}

func (g Guidance) String() string {
	if g >= 0 && int(g) < len(guidanceNames) {
		return guidanceNames[g]
	}
	return fmt.Sprintf("guidance(%d)", int(g))
}

// MarshalText renders the guidance by name.
func (g Guidance) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// ParseGuidance is the inverse of Guidance.String.
func ParseGuidance(name string) (Guidance, error) {
	for g, n := range guidanceNames {
		if n == name {
			return Guidance(g), nil
		}
	}
	return GuidanceNoDisplay, fmt.Errorf("unknown guidance %q", name)
}

// UnmarshalText parses a guidance name.
func (g *Guidance) UnmarshalText(text []byte) error {
	v, err := ParseGuidance(string(text))
	if err != nil {
		return err
	}
	*g = v
	return nil
}

// Analyzer samples frames on a sparse grid.
type Analyzer struct {
	cfg Config
}

// NewAnalyzer validates cfg and returns an Analyzer.
func NewAnalyzer(cfg Config) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid orientation config: %w", err)
	}
	return &Analyzer{cfg: cfg}, nil
}

// Config returns the analyzer settings.
func (a *Analyzer) Config() Config {
	return a.cfg
}

// Analyze locates the bright display region of frame.
func (a *Analyzer) Analyze(frame image.Image) Verdict {
	if frame == nil {
		return Verdict{}
	}
	b := frame.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return Verdict{}
	}

	threshold := uint32(a.cfg.BrightnessThreshold)
	var count, sumX, sumY int
	minX, maxX := w, -1
	for y := 0; y < h; y += a.cfg.Stride {
		for x := 0; x < w; x += a.cfg.Stride {
			r, g, bl, _ := frame.At(b.Min.X+x, b.Min.Y+y).RGBA()
			// RGBA returns 16-bit channels.
			if ((r>>8)+(g>>8)+(bl>>8))/3 <= threshold {
				continue
			}
			count++
			sumX += x
			sumY += y
			minX = min(minX, x)
			maxX = max(maxX, x)
		}
	}

	v := Verdict{BrightPixels: count}
	if count < a.cfg.MinBrightPixels {
		return v
	}

	cx := float64(sumX) / float64(count)
	cy := float64(sumY) / float64(count)
	v.HasDisplay = true
	v.CenterOffsetX = (cx - float64(w)/2) / float64(w) * 100
	v.CenterOffsetY = (cy - float64(h)/2) / float64(h) * 100
	v.EstimatedSize = float64(maxX-minX) / float64(w) * 100
	return v
}

// Guide analyzes frame and reduces the verdict to one instruction.
func (a *Analyzer) Guide(frame image.Image) (Verdict, Guidance) {
	v := a.Analyze(frame)
	return v, a.Guidance(v)
}

// Guidance applies the decision order: display presence, horizontal offset,
// vertical offset, then distance.
func (a *Analyzer) Guidance(v Verdict) Guidance {
	tol := a.cfg.CenterTolerance
	switch {
	case !v.HasDisplay:
		return GuidanceNoDisplay
	case v.CenterOffsetX > tol:
		return GuidanceMoveRight
	case v.CenterOffsetX < -tol:
		return GuidanceMoveLeft
	case v.CenterOffsetY > tol:
		return GuidanceMoveDown
	case v.CenterOffsetY < -tol:
		return GuidanceMoveUp
	case v.EstimatedSize < a.cfg.MinSize:
		return GuidanceMoveCloser
	case v.EstimatedSize > a.cfg.MaxSize:
		return GuidanceMoveBack
	default:
		return GuidanceAligned
	}
}

// Aligned reports whether v calls for no further adjustment.
func (a *Analyzer) Aligned(v Verdict) bool {
	return a.Guidance(v) == GuidanceAligned
}
