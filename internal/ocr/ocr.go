// Package ocr defines the boundary to text recognition engines.
package ocr

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// DigitWhitelist restricts recognition to the characters a monitor display shows.
const DigitWhitelist = "0123456789"

// PageSegMode values understood by engines. They mirror Tesseract's numbering.
const (
	PageSegAuto        = 3
	PageSegSingleBlock = 6
	PageSegSingleLine  = 7
	PageSegSparseText  = 11
)

// ProgressFunc receives recognition progress in [0,1].
type ProgressFunc func(progress float64)

// Input is one image handed to an engine.
type Input struct {
	ID          string
	Image       []byte
	Languages   []string
	Whitelist   string
	PageSegMode int
	Progress    ProgressFunc
}

// Report calls the progress callback when one is set.
func (in Input) Report(progress float64) {
	if in.Progress != nil {
		in.Progress(progress)
	}
}

// Word is a recognized word with its confidence in [0,1].
type Word struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Result is the raw output of an engine. Confidences are advisory.
type Result struct {
	Text       string  `json:"text"`
	Words      []Word  `json:"words,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Engine recognizes text in images. Implementations must honor ctx cancellation
// where the underlying engine allows it.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, in Input) (Result, error)
	Close() error
}

// RecognitionError wraps any failure reported by an engine.
type RecognitionError struct {
	Engine string
	Err    error
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("recognition error in %s: %v", e.Engine, e.Err)
}

func (e *RecognitionError) Unwrap() error {
	return e.Err
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(ctx context.Context, in Input) (Result, error)

// Name implements Engine.
func (f EngineFunc) Name() string { return "func" }

// Recognize implements Engine.
func (f EngineFunc) Recognize(ctx context.Context, in Input) (Result, error) {
	return f(ctx, in)
}

// Close implements Engine.
func (f EngineFunc) Close() error { return nil }

// Static returns an engine that always recognizes text.
func Static(text string) Engine {
	return EngineFunc(func(ctx context.Context, in Input) (Result, error) {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		in.Report(1)
		return Result{Text: text, Confidence: 1}, nil
	})
}

// Recognize runs e and normalizes failures into a *RecognitionError.
func Recognize(ctx context.Context, e Engine, in Input) (Result, error) {
	res, err := e.Recognize(ctx, in)
	if err != nil {
		var re *RecognitionError
		if errors.As(err, &re) {
			return Result{}, err
		}
		return Result{}, &RecognitionError{Engine: e.Name(), Err: err}
	}
	return res, nil
}

// MeanConfidence averages word confidences, returning 0 for no words.
func MeanConfidence(words []Word) float64 {
	if len(words) == 0 {
		return 0
	}
	var sum float64
	for _, w := range words {
		sum += w.Confidence
	}
	return sum / float64(len(words))
}

// DecodeDataURI extracts the payload and media type of a base64 data URI such as
// "data:image/png;base64,iVBOR...". Bare base64 is accepted as well.
func DecodeDataURI(uri string) ([]byte, string, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, "", errors.New("empty data URI")
	}

	mediaType := ""
	payload := uri
	if strings.HasPrefix(uri, "data:") {
		header, data, ok := strings.Cut(uri[len("data:"):], ",")
		if !ok {
			return nil, "", errors.New("data URI has no payload")
		}
		params := strings.Split(header, ";")
		mediaType = params[0]
		isBase64 := false
		for _, p := range params[1:] {
			if p == "base64" {
				isBase64 = true
			}
		}
		if !isBase64 {
			return nil, "", errors.New("data URI is not base64 encoded")
		}
		payload = data
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode data URI: %w", err)
	}
	return raw, mediaType, nil
}

// EncodeDataURI is the inverse of DecodeDataURI.
func EncodeDataURI(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
