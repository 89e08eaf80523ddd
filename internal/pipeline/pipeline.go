// Package pipeline turns camera frames into a classified blood-pressure reading.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/MeKo-Tech/bpvoice/internal/aggregate"
	"github.com/MeKo-Tech/bpvoice/internal/classify"
	"github.com/MeKo-Tech/bpvoice/internal/common"
	"github.com/MeKo-Tech/bpvoice/internal/extract"
	"github.com/MeKo-Tech/bpvoice/internal/frame"
	"github.com/MeKo-Tech/bpvoice/internal/ocr"
	"github.com/MeKo-Tech/bpvoice/internal/preprocess"
)

// Config holds configuration for the reading pipeline and its components.
type Config struct {
	Strategies  []preprocess.Strategy
	Preprocess  preprocess.Config
	Extraction  extract.Config
	Aggregation aggregate.Config
	Frame       frame.Constraints

	// Recognition hints passed to the engine with every sample.
	Languages   []string
	Whitelist   string
	PageSegMode int

	Parallel ParallelConfig
}

// DefaultConfig returns a pipeline config with component defaults and a single
// contrast pass per frame.
func DefaultConfig() Config {
	return Config{
		Strategies:  []preprocess.Strategy{preprocess.StrategyContrast},
		Preprocess:  preprocess.DefaultConfig(),
		Extraction:  extract.DefaultConfig(),
		Aggregation: aggregate.DefaultConfig(),
		Frame:       frame.DefaultConstraints(),
		Languages:   []string{"eng"},
		Whitelist:   ocr.DigitWhitelist,
		PageSegMode: ocr.PageSegSingleBlock,
		Parallel:    DefaultParallelConfig(),
	}
}

// Validate checks the pipeline-level settings. Component configs are validated
// by their constructors.
func (c Config) Validate() error {
	if len(c.Strategies) == 0 {
		return errors.New("at least one preprocessing strategy is required")
	}
	seen := make(map[preprocess.Strategy]bool, len(c.Strategies))
	for _, s := range c.Strategies {
		if _, err := preprocess.ParseStrategy(string(s)); err != nil {
			return err
		}
		if seen[s] {
			return fmt.Errorf("duplicate strategy %q", s)
		}
		seen[s] = true
	}
	if c.Parallel.MaxWorkers < 0 {
		return fmt.Errorf("max workers must be >= 0, got %d", c.Parallel.MaxWorkers)
	}
	if c.Frame.MinWidth < 1 || c.Frame.MinHeight < 1 {
		return fmt.Errorf("minimum frame size must be positive, got %dx%d", c.Frame.MinWidth, c.Frame.MinHeight)
	}
	return nil
}

// Reader runs frames through preprocessing, recognition, extraction and aggregation.
type Reader struct {
	cfg        Config
	engine     ocr.Engine
	pre        *preprocess.Preprocessor
	extractor  *extract.Extractor
	aggregator *aggregate.Aggregator
	logger     *slog.Logger
	progress   ProgressCallback
}

// New validates cfg and builds a Reader around engine.
func New(engine ocr.Engine, cfg Config) (*Reader, error) {
	if engine == nil {
		return nil, errors.New("pipeline: nil OCR engine")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	pre, err := preprocess.New(cfg.Preprocess)
	if err != nil {
		return nil, err
	}
	ex, err := extract.New(cfg.Extraction)
	if err != nil {
		return nil, err
	}
	agg, err := aggregate.New(cfg.Aggregation)
	if err != nil {
		return nil, err
	}
	return &Reader{
		cfg:        cfg,
		engine:     engine,
		pre:        pre,
		extractor:  ex,
		aggregator: agg,
		logger:     slog.Default(),
	}, nil
}

// Config returns the pipeline configuration.
func (r *Reader) Config() Config {
	return r.cfg
}

// Engine returns the OCR engine in use.
func (r *Reader) Engine() ocr.Engine {
	return r.engine
}

// Close releases the OCR engine.
func (r *Reader) Close() error {
	if r == nil || r.engine == nil {
		return nil
	}
	return r.engine.Close()
}

// Read produces one reading from frames, reporting to the reader's default
// progress callback.
func (r *Reader) Read(ctx context.Context, frames []image.Image) (*Result, error) {
	return r.ReadWithProgress(ctx, frames, r.progress)
}

// ReadWithProgress turns every frame into one sample per strategy, aggregates
// the samples that produced a reading and classifies the consensus.
//
// A single-sample read returns that sample's error unchanged. With several
// samples and none usable the error matches extract.ErrNoPlausibleReading.
func (r *Reader) ReadWithProgress(ctx context.Context, frames []image.Image, progress ProgressCallback) (*Result, error) {
	if len(frames) == 0 {
		return nil, errors.New("no frames provided")
	}
	timer := common.NewNamedTimer("read")

	jobs := make([]sampleJob, 0, len(frames)*len(r.cfg.Strategies))
	for i, f := range frames {
		img, err := frame.Prepare(f, r.cfg.Frame)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		for _, s := range r.cfg.Strategies {
			jobs = append(jobs, sampleJob{index: len(jobs), frame: i, image: img, strategy: s})
		}
	}

	if progress == nil {
		progress = NoOpProgressCallback{}
	}
	progress.OnStart(len(jobs))
	defer progress.OnComplete()

	samples := r.runSamples(ctx, jobs, progress)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	readings := make([]extract.Reading, 0, len(samples))
	for _, s := range samples {
		if s.Reading != nil {
			readings = append(readings, *s.Reading)
		}
	}
	if len(readings) == 0 {
		err := failure(samples)
		r.logger.Debug("No reading from frames", "frames", len(frames), "samples", len(samples), "error", err)
		return nil, err
	}

	cons, err := r.aggregator.Consensus(readings)
	if err != nil {
		return nil, err
	}
	cls := classify.ClassifyReading(cons.Reading)
	readingsTotal.WithLabelValues(cls.Severity.String()).Inc()
	consensusRatio.Observe(cons.Agreement())

	res := &Result{
		Reading:        cons.Reading,
		Classification: cls,
		GroupSize:      cons.GroupSize,
		ReadingCount:   cons.Total,
		SampleCount:    len(samples),
		Agreement:      cons.Agreement(),
		Samples:        samples,
	}
	res.Processing.TotalNs = timer.Stop().Nanoseconds()

	r.logger.Debug("Reading assembled",
		"reading", cons.Reading.String(),
		"severity", cls.Severity.String(),
		"agreement", fmt.Sprintf("%d/%d", cons.GroupSize, len(readings)),
		"samples", len(samples),
		"timing", timer)
	return res, nil
}

// failure picks the error reported when no sample produced a reading.
func failure(samples []SampleResult) error {
	if len(samples) == 1 {
		return samples[0].Err
	}
	text := ""
	recognized := 0
	for _, s := range samples {
		var re *ocr.RecognitionError
		if errors.As(s.Err, &re) {
			continue
		}
		recognized++
		if text == "" {
			text = s.Text
		}
	}
	if recognized == 0 {
		return &extract.NoReadingError{Reason: fmt.Sprintf("recognition failed for all %d samples", len(samples))}
	}
	return &extract.NoReadingError{
		Reason: fmt.Sprintf("none of %d samples produced a plausible reading", len(samples)),
		Text:   text,
	}
}
