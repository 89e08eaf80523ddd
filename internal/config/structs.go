//nolint:lll
package config

import (
	"time"

	"github.com/MeKo-Tech/bpvoice/internal/camera"
	"github.com/MeKo-Tech/bpvoice/internal/extract"
	"github.com/MeKo-Tech/bpvoice/internal/orientation"
	"github.com/MeKo-Tech/bpvoice/internal/preprocess"
)

// Config represents the complete configuration for the bpvoice application.
// It covers every command (read, orient, watch, serve) and supports loading
// from configuration files, environment variables, and command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`
	// Language selects the message catalog and the default speech language.
	Language string `mapstructure:"language" yaml:"language" json:"language"`

	// Recognition engine
	OCR OCRConfig `mapstructure:"ocr" yaml:"ocr" json:"ocr"`

	// Frame preprocessing
	Preprocess PreprocessConfig `mapstructure:"preprocess" yaml:"preprocess" json:"preprocess"`

	// Display alignment heuristics
	Orientation orientation.Config `mapstructure:"orientation" yaml:"orientation" json:"orientation"`

	// Value bands used when picking numbers out of recognized text
	Extraction extract.Config `mapstructure:"extraction" yaml:"extraction" json:"extraction"`

	// Multi-sample consensus
	Aggregation AggregationConfig `mapstructure:"aggregation" yaml:"aggregation" json:"aggregation"`

	// Live session timing and camera hints
	Session SessionConfig `mapstructure:"session" yaml:"session" json:"session"`

	// Speech output
	Voice VoiceConfig `mapstructure:"voice" yaml:"voice" json:"voice"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`
}

// OCRConfig selects and tunes the text recognition engine.
type OCRConfig struct {
	Engine      string   `mapstructure:"engine" yaml:"engine" json:"engine"`
	Languages   []string `mapstructure:"languages" yaml:"languages" json:"languages"`
	Whitelist   string   `mapstructure:"whitelist" yaml:"whitelist" json:"whitelist"`
	PageSegMode int      `mapstructure:"page_seg_mode" yaml:"page_seg_mode" json:"page_seg_mode"`

	// Ollama vision model settings
	OllamaURL   string        `mapstructure:"ollama_url" yaml:"ollama_url" json:"ollama_url"`
	OllamaModel string        `mapstructure:"ollama_model" yaml:"ollama_model" json:"ollama_model"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// PreprocessConfig lists the binarization strategies tried on every frame.
type PreprocessConfig struct {
	Strategies        []string `mapstructure:"strategies" yaml:"strategies" json:"strategies"`
	preprocess.Config `mapstructure:",squash" yaml:",inline"`
}

// AggregationConfig contains multi-sample settings.
type AggregationConfig struct {
	Tolerance  int `mapstructure:"tolerance" yaml:"tolerance" json:"tolerance"`
	Samples    int `mapstructure:"samples" yaml:"samples" json:"samples"`
	MaxWorkers int `mapstructure:"max_workers" yaml:"max_workers" json:"max_workers"`
}

// SessionConfig contains live session settings.
type SessionConfig struct {
	AutoInterval        time.Duration      `mapstructure:"auto_interval" yaml:"auto_interval" json:"auto_interval"`
	OrientationInterval time.Duration      `mapstructure:"orientation_interval" yaml:"orientation_interval" json:"orientation_interval"`
	Camera              camera.Constraints `mapstructure:"camera" yaml:"camera" json:"camera"`
}

// VoiceConfig selects the speech synthesizer. An empty Lang follows the global language.
type VoiceConfig struct {
	Engine  string  `mapstructure:"engine" yaml:"engine" json:"engine"`
	Command string  `mapstructure:"command" yaml:"command" json:"command"`
	Lang    string  `mapstructure:"lang" yaml:"lang" json:"lang"`
	Rate    float64 `mapstructure:"rate" yaml:"rate" json:"rate"`
	Pitch   float64 `mapstructure:"pitch" yaml:"pitch" json:"pitch"`
	Volume  float64 `mapstructure:"volume" yaml:"volume" json:"volume"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string `mapstructure:"host" yaml:"host" json:"host"`
	Port              int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin        string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB       int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	MaxFrameDimension int    `mapstructure:"max_frame_dimension" yaml:"max_frame_dimension" json:"max_frame_dimension"`
	TimeoutSec        int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout   int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
}
