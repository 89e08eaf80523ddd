package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/bpvoice/internal/aggregate"
	"github.com/MeKo-Tech/bpvoice/internal/camera"
	"github.com/MeKo-Tech/bpvoice/internal/extract"
	"github.com/MeKo-Tech/bpvoice/internal/ocr"
	"github.com/MeKo-Tech/bpvoice/internal/ocr/ollama"
	"github.com/MeKo-Tech/bpvoice/internal/ocr/tesseract"
	"github.com/MeKo-Tech/bpvoice/internal/orientation"
	"github.com/MeKo-Tech/bpvoice/internal/pipeline"
	"github.com/MeKo-Tech/bpvoice/internal/preprocess"
	"github.com/MeKo-Tech/bpvoice/internal/session"
	"github.com/MeKo-Tech/bpvoice/internal/voice"
)

// Engine and synthesizer names accepted in the configuration.
const (
	EngineTesseract = "tesseract"
	EngineOllama    = "ollama"

	VoiceLog    = "log"
	VoiceEspeak = "espeak"
)

var (
	validLogLevels    = []string{"debug", "info", "warn", "error"}
	validEngines      = []string{EngineTesseract, EngineOllama}
	validVoiceEngines = []string{VoiceLog, VoiceEspeak}
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	sess := session.DefaultConfig()
	pre := preprocess.DefaultConfig()
	tess := tesseract.DefaultConfig()
	oll := ollama.DefaultConfig()
	vc := voice.DefaultConfig()
	pc := pipeline.DefaultConfig()

	strategies := make([]string, 0, len(pc.Strategies))
	for _, s := range pc.Strategies {
		strategies = append(strategies, string(s))
	}

	return Config{
		LogLevel: "info",
		Verbose:  false,
		Language: sess.Language,
		OCR: OCRConfig{
			Engine:      EngineTesseract,
			Languages:   tess.Languages,
			Whitelist:   tess.Whitelist,
			PageSegMode: tess.PageSegMode,
			OllamaURL:   oll.BaseURL,
			OllamaModel: oll.Model,
			Timeout:     oll.Timeout,
		},
		Preprocess: PreprocessConfig{
			Strategies: strategies,
			Config:     pre,
		},
		Orientation: orientation.DefaultConfig(),
		Extraction:  extract.DefaultConfig(),
		Aggregation: AggregationConfig{
			Tolerance:  aggregate.DefaultTolerance,
			Samples:    sess.Samples,
			MaxWorkers: pc.Parallel.MaxWorkers,
		},
		Session: SessionConfig{
			AutoInterval:        sess.AutoInterval,
			OrientationInterval: sess.OrientationInterval,
			Camera:              camera.DefaultConstraints(),
		},
		Voice: VoiceConfig{
			Engine: VoiceLog,
			Rate:   vc.Rate,
			Pitch:  vc.Pitch,
			Volume: vc.Volume,
		},
		Server: ServerConfig{
			Host:              "localhost",
			Port:              8080,
			CORSOrigin:        "*",
			MaxUploadMB:       10,
			MaxFrameDimension: 1280,
			TimeoutSec:        30,
			ShutdownTimeout:   10,
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}
	if strings.TrimSpace(c.Language) == "" {
		return errors.New("language must not be empty")
	}

	if err := c.validateOCR(); err != nil {
		return err
	}

	if _, err := preprocess.ParseStrategies(c.Preprocess.Strategies); err != nil {
		return fmt.Errorf("invalid preprocess strategies: %w", err)
	}
	if len(c.Preprocess.Strategies) == 0 {
		return errors.New("invalid preprocess strategies: at least one is required")
	}
	if err := c.Preprocess.Config.Validate(); err != nil {
		return fmt.Errorf("invalid preprocess settings: %w", err)
	}
	if err := c.Orientation.Validate(); err != nil {
		return fmt.Errorf("invalid orientation settings: %w", err)
	}
	if err := c.Extraction.Validate(); err != nil {
		return fmt.Errorf("invalid extraction settings: %w", err)
	}

	if c.Aggregation.Tolerance < 0 {
		return fmt.Errorf("invalid aggregation tolerance: %d (must not be negative)", c.Aggregation.Tolerance)
	}
	if c.Aggregation.Samples <= 0 {
		return fmt.Errorf("invalid aggregation samples: %d (must be positive)", c.Aggregation.Samples)
	}
	if c.Aggregation.MaxWorkers <= 0 {
		return fmt.Errorf("invalid aggregation max workers: %d (must be positive)", c.Aggregation.MaxWorkers)
	}

	if err := c.ToSessionConfig().Validate(); err != nil {
		return fmt.Errorf("invalid session settings: %w", err)
	}

	if !slices.Contains(validVoiceEngines, c.Voice.Engine) {
		return fmt.Errorf("invalid voice engine: %s (must be one of: %s)", c.Voice.Engine, strings.Join(validVoiceEngines, ", "))
	}
	if err := c.ToVoiceConfig().Validate(); err != nil {
		return fmt.Errorf("invalid voice settings: %w", err)
	}

	return c.validateServer()
}

func (c *Config) validateOCR() error {
	if !slices.Contains(validEngines, c.OCR.Engine) {
		return fmt.Errorf("invalid OCR engine: %s (must be one of: %s)", c.OCR.Engine, strings.Join(validEngines, ", "))
	}
	if len(c.OCR.Languages) == 0 {
		return errors.New("invalid OCR languages: at least one is required")
	}
	if c.OCR.PageSegMode < 0 || c.OCR.PageSegMode > 13 {
		return fmt.Errorf("invalid page segmentation mode: %d (must be between 0 and 13)", c.OCR.PageSegMode)
	}
	if c.OCR.Engine == EngineOllama {
		if c.OCR.OllamaURL == "" || c.OCR.OllamaModel == "" {
			return errors.New("ollama engine requires ocr.ollama_url and ocr.ollama_model")
		}
	}
	if c.OCR.Timeout < 0 {
		return fmt.Errorf("invalid OCR timeout: %v (must not be negative)", c.OCR.Timeout)
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.MaxFrameDimension < 0 {
		return fmt.Errorf("invalid max frame dimension: %d (must not be negative)", c.Server.MaxFrameDimension)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid shutdown timeout: %d (must not be negative)", c.Server.ShutdownTimeout)
	}
	return nil
}

// ToPipelineConfig converts the config to the pipeline configuration format.
func (c *Config) ToPipelineConfig() (pipeline.Config, error) {
	strategies, err := preprocess.ParseStrategies(c.Preprocess.Strategies)
	if err != nil {
		return pipeline.Config{}, err
	}

	cfg := pipeline.DefaultConfig()
	cfg.Strategies = strategies
	cfg.Preprocess = c.Preprocess.Config
	cfg.Extraction = c.Extraction
	cfg.Aggregation = aggregate.Config{Tolerance: c.Aggregation.Tolerance}
	cfg.Languages = slices.Clone(c.OCR.Languages)
	cfg.Whitelist = c.OCR.Whitelist
	cfg.PageSegMode = c.OCR.PageSegMode
	cfg.Parallel = pipeline.ParallelConfig{MaxWorkers: c.Aggregation.MaxWorkers}
	return cfg, nil
}

// ToSessionConfig converts to session.Config.
func (c *Config) ToSessionConfig() session.Config {
	return session.Config{
		Language:            c.Language,
		Camera:              c.Session.Camera,
		Samples:             c.Aggregation.Samples,
		AutoInterval:        c.Session.AutoInterval,
		OrientationInterval: c.Session.OrientationInterval,
		Orientation:         c.Orientation,
	}
}

// ToVoiceConfig converts to voice.Config.
func (c *Config) ToVoiceConfig() voice.Config {
	lang := c.Voice.Lang
	if lang == "" {
		lang = c.Language
	}
	return voice.Config{
		Lang:   lang,
		Rate:   c.Voice.Rate,
		Pitch:  c.Voice.Pitch,
		Volume: c.Voice.Volume,
	}
}

// ToTesseractConfig converts to tesseract.Config.
func (c *Config) ToTesseractConfig() tesseract.Config {
	return tesseract.Config{
		Languages:   slices.Clone(c.OCR.Languages),
		Whitelist:   c.OCR.Whitelist,
		PageSegMode: c.OCR.PageSegMode,
	}
}

// ToOllamaConfig converts to ollama.Config.
func (c *Config) ToOllamaConfig() ollama.Config {
	return ollama.Config{
		BaseURL: c.OCR.OllamaURL,
		Model:   c.OCR.OllamaModel,
		Timeout: c.OCR.Timeout,
	}
}

// NewEngine constructs the configured recognition engine.
func (c *Config) NewEngine() (ocr.Engine, error) {
	switch c.OCR.Engine {
	case EngineTesseract:
		return tesseract.New(c.ToTesseractConfig()), nil
	case EngineOllama:
		return ollama.New(c.ToOllamaConfig()), nil
	default:
		return nil, fmt.Errorf("unknown OCR engine: %s", c.OCR.Engine)
	}
}

// NewSynthesizer constructs the configured speech synthesizer.
func (c *Config) NewSynthesizer() (voice.Synthesizer, error) {
	switch c.Voice.Engine {
	case VoiceLog:
		return &voice.LogSynthesizer{}, nil
	case VoiceEspeak:
		return voice.NewCommandSynthesizer(c.Voice.Command), nil
	default:
		return nil, fmt.Errorf("unknown voice engine: %s", c.Voice.Engine)
	}
}

// RequestTimeout returns the server request timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSec) * time.Second
}
