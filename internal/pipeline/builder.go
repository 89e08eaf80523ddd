package pipeline

import (
	"log/slog"

	"github.com/MeKo-Tech/bpvoice/internal/aggregate"
	"github.com/MeKo-Tech/bpvoice/internal/extract"
	"github.com/MeKo-Tech/bpvoice/internal/ocr"
	"github.com/MeKo-Tech/bpvoice/internal/preprocess"
)

// Builder constructs a Reader with fluent configuration.
type Builder struct {
	cfg      Config
	engine   ocr.Engine
	logger   *slog.Logger
	progress ProgressCallback
}

// NewBuilder creates a new builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithEngine sets the OCR engine.
func (b *Builder) WithEngine(e ocr.Engine) *Builder {
	b.engine = e
	return b
}

// WithStrategies sets the preprocessing strategies tried on every frame.
func (b *Builder) WithStrategies(s ...preprocess.Strategy) *Builder {
	if len(s) > 0 {
		b.cfg.Strategies = s
	}
	return b
}

// WithMaxWorkers sets the number of samples processed concurrently.
func (b *Builder) WithMaxWorkers(n int) *Builder {
	b.cfg.Parallel.MaxWorkers = n
	return b
}

// WithPreprocess sets the preprocessing configuration.
func (b *Builder) WithPreprocess(cfg preprocess.Config) *Builder {
	b.cfg.Preprocess = cfg
	return b
}

// WithExtraction sets the extraction bands.
func (b *Builder) WithExtraction(cfg extract.Config) *Builder {
	b.cfg.Extraction = cfg
	return b
}

// WithTolerance sets the aggregation tolerance in mmHg.
func (b *Builder) WithTolerance(tolerance int) *Builder {
	b.cfg.Aggregation = aggregate.Config{Tolerance: tolerance}
	return b
}

// WithRecognition sets the hints passed to the engine.
func (b *Builder) WithRecognition(languages []string, whitelist string, pageSegMode int) *Builder {
	if len(languages) > 0 {
		b.cfg.Languages = languages
	}
	b.cfg.Whitelist = whitelist
	if pageSegMode > 0 {
		b.cfg.PageSegMode = pageSegMode
	}
	return b
}

// WithMaxFrameDimension bounds the frame size before preprocessing.
func (b *Builder) WithMaxFrameDimension(n int) *Builder {
	b.cfg.Frame.MaxDimension = n
	return b
}

// WithLogger sets the logger.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithProgress sets the default progress callback used by Read.
func (b *Builder) WithProgress(p ProgressCallback) *Builder {
	b.progress = p
	return b
}

// Config returns the current configuration.
func (b *Builder) Config() Config { return b.cfg }

// Build validates the configuration and creates the Reader.
func (b *Builder) Build() (*Reader, error) {
	r, err := New(b.engine, b.cfg)
	if err != nil {
		return nil, err
	}
	if b.logger != nil {
		r.logger = b.logger
	}
	r.progress = b.progress
	return r, nil
}
