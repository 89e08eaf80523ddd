// Package tesseract provides the Tesseract-backed recognition engine.
package tesseract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MeKo-Tech/bpvoice/internal/ocr"
	"github.com/otiai10/gosseract/v2"
)

// Config holds engine defaults applied when an Input leaves a field empty.
type Config struct {
	Languages   []string
	Whitelist   string
	PageSegMode int
}

// DefaultConfig reads digits as a single block of English-trained text.
func DefaultConfig() Config {
	return Config{
		Languages:   []string{"eng"},
		Whitelist:   ocr.DigitWhitelist,
		PageSegMode: ocr.PageSegSingleBlock,
	}
}

// Engine implements ocr.Engine using the gosseract client.
type Engine struct {
	cfg           Config
	clientFactory func() *gosseract.Client
}

// New constructs a Tesseract engine.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg, clientFactory: gosseract.NewClient}
}

// Name implements ocr.Engine.
func (e *Engine) Name() string { return "tesseract" }

// Close implements ocr.Engine. Clients are created per call, so there is nothing to release.
func (e *Engine) Close() error { return nil }

// Version reports the linked Tesseract library version.
func (e *Engine) Version() string {
	c := e.clientFactory()
	defer func() { _ = c.Close() }()
	return c.Version()
}

// Recognize runs Tesseract on one image.
func (e *Engine) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	if err := ctx.Err(); err != nil {
		return ocr.Result{}, err
	}
	if len(in.Image) == 0 {
		return ocr.Result{}, errors.New("empty image")
	}

	c := e.clientFactory()
	defer func() { _ = c.Close() }()
	in.Report(0)

	langs := in.Languages
	if len(langs) == 0 {
		langs = e.cfg.Languages
	}
	if len(langs) > 0 {
		if err := c.SetLanguage(langs...); err != nil {
			return ocr.Result{}, fmt.Errorf("set languages: %w", err)
		}
	}

	whitelist := in.Whitelist
	if whitelist == "" {
		whitelist = e.cfg.Whitelist
	}
	if whitelist != "" {
		if err := c.SetWhitelist(whitelist); err != nil {
			return ocr.Result{}, fmt.Errorf("set whitelist: %w", err)
		}
	}

	psm := in.PageSegMode
	if psm == 0 {
		psm = e.cfg.PageSegMode
	}
	if psm > 0 {
		if err := c.SetPageSegMode(gosseract.PageSegMode(psm)); err != nil {
			return ocr.Result{}, fmt.Errorf("set page segmentation mode: %w", err)
		}
	}

	if err := c.SetImageFromBytes(in.Image); err != nil {
		return ocr.Result{}, fmt.Errorf("set image: %w", err)
	}
	in.Report(0.5)

	text, err := c.Text()
	if err != nil {
		return ocr.Result{}, fmt.Errorf("recognize text: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return ocr.Result{}, err
	}

	words := extractWords(c)
	in.Report(1)
	return ocr.Result{
		Text:       strings.TrimSpace(text),
		Words:      words,
		Confidence: ocr.MeanConfidence(words),
	}, nil
}

func extractWords(c *gosseract.Client) []ocr.Word {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return nil
	}
	words := make([]ocr.Word, 0, len(boxes))
	for _, b := range boxes {
		words = append(words, ocr.Word{Text: b.Word, Confidence: b.Confidence / 100.0})
	}
	return words
}
