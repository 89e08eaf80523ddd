package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "bpvoice"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "BPVOICE"

	// DefaultConfigFile is written by GenerateDefaultConfigFile when no name is given.
	DefaultConfigFile = ConfigFileName + ".yaml"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader on the global viper instance so that flags bound
// by the CLI take part in the resolution.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWith creates a loader on a caller-owned viper instance.
func NewLoaderWith(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Load loads configuration from files, environment variables, and sets defaults.
func (l *Loader) Load() (*Config, error) {
	cfg, err := l.LoadWithoutValidation()
	if err != nil {
		return nil, err
	}
	return validated(cfg)
}

// LoadWithoutValidation searches the standard paths for a configuration file
// and returns the merged configuration without validating it.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	l.v.SetConfigName(ConfigFileName)
	l.v.SetConfigType("yaml")
	l.addConfigPaths()
	l.prepare()

	if err := l.v.ReadInConfig(); err != nil {
		// A missing file is fine; defaults and environment still apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return l.unmarshal()
}

// LoadWithFile loads configuration from a specific file path.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	if configFile == "" {
		return l.Load()
	}
	cfg, err := l.LoadWithFileWithoutValidation(configFile)
	if err != nil {
		return nil, err
	}
	return validated(cfg)
}

// LoadWithFileWithoutValidation loads configuration from a specific file path without validation.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	if configFile == "" {
		return l.LoadWithoutValidation()
	}
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configFile)
	}

	l.v.SetConfigFile(configFile)
	l.prepare()

	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}
	return l.unmarshal()
}

// Resolve unmarshals the current viper state, including flags bound after the
// initial load.
func (l *Loader) Resolve() (*Config, error) {
	return l.unmarshal()
}

// Get returns a value from the configuration.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// GetString returns a string value from the configuration.
func (l *Loader) GetString(key string) string {
	return l.v.GetString(key)
}

// Set sets a value in the configuration.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance for advanced usage.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// GetResolvedConfig returns the current resolved configuration for debugging.
func (l *Loader) GetResolvedConfig() map[string]interface{} {
	return l.v.AllSettings()
}

// WriteConfigToFile writes the current configuration to a file.
func (l *Loader) WriteConfigToFile(filename string) error {
	return l.v.WriteConfigAs(filename)
}

// GenerateDefaultConfigFile writes the default configuration to filename,
// or bpvoice.yaml when empty.
func GenerateDefaultConfigFile(filename string) error {
	loader := NewLoaderWith(viper.New())
	loader.setDefaults()

	if filename == "" {
		filename = DefaultConfigFile
	}
	return loader.WriteConfigToFile(filename)
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home)
	}
	paths = append(paths, "/etc/"+ConfigFileName)
	if dir := xdgConfigDir(); dir != "" {
		paths = append(paths, dir)
	}
	return paths
}

// PrintConfigInfo prints information about configuration loading for debugging.
func (l *Loader) PrintConfigInfo(w io.Writer) {
	_, _ = fmt.Fprintf(w, "Configuration file used: %s\n", l.GetConfigFileUsed())
	_, _ = fmt.Fprintf(w, "Configuration search paths: %v\n", GetConfigSearchPaths())
	_, _ = fmt.Fprintf(w, "Environment prefix: %s\n", EnvPrefix)
}

func (l *Loader) prepare() {
	l.setupEnvironmentVariables()
	l.setDefaults()
}

func (l *Loader) unmarshal() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

func validated(cfg *Config) (*Config, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// addConfigPaths adds the standard configuration search paths.
func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

func xdgConfigDir() string {
	if dir, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok && dir != "" {
		return filepath.Join(dir, ConfigFileName)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", ConfigFileName)
	}
	return ""
}

// setupEnvironmentVariables maps BPVOICE_SERVER_PORT onto server.port and so on.
func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults registers every key so that environment overrides resolve.
func (l *Loader) setDefaults() {
	d := DefaultConfig()

	l.v.SetDefault("log_level", d.LogLevel)
	l.v.SetDefault("verbose", d.Verbose)
	l.v.SetDefault("language", d.Language)

	l.v.SetDefault("ocr.engine", d.OCR.Engine)
	l.v.SetDefault("ocr.languages", d.OCR.Languages)
	l.v.SetDefault("ocr.whitelist", d.OCR.Whitelist)
	l.v.SetDefault("ocr.page_seg_mode", d.OCR.PageSegMode)
	l.v.SetDefault("ocr.ollama_url", d.OCR.OllamaURL)
	l.v.SetDefault("ocr.ollama_model", d.OCR.OllamaModel)
	l.v.SetDefault("ocr.timeout", d.OCR.Timeout)

	l.v.SetDefault("preprocess.strategies", d.Preprocess.Strategies)
	l.v.SetDefault("preprocess.contrast_gain", d.Preprocess.ContrastGain)
	l.v.SetDefault("preprocess.threshold", d.Preprocess.Threshold)
	l.v.SetDefault("preprocess.adaptive_radius", d.Preprocess.AdaptiveRadius)
	l.v.SetDefault("preprocess.adaptive_offset", d.Preprocess.AdaptiveOffset)
	l.v.SetDefault("preprocess.invert", d.Preprocess.Invert)

	l.v.SetDefault("orientation.stride", d.Orientation.Stride)
	l.v.SetDefault("orientation.brightness_threshold", d.Orientation.BrightnessThreshold)
	l.v.SetDefault("orientation.min_bright_pixels", d.Orientation.MinBrightPixels)
	l.v.SetDefault("orientation.center_tolerance", d.Orientation.CenterTolerance)
	l.v.SetDefault("orientation.min_size", d.Orientation.MinSize)
	l.v.SetDefault("orientation.max_size", d.Orientation.MaxSize)

	bands := map[string]struct{ min, max int }{
		"plausible":         {d.Extraction.Plausible.Min, d.Extraction.Plausible.Max},
		"systolic_typical":  {d.Extraction.SystolicTypical.Min, d.Extraction.SystolicTypical.Max},
		"systolic_wide":     {d.Extraction.SystolicWide.Min, d.Extraction.SystolicWide.Max},
		"diastolic_typical": {d.Extraction.DiastolicTypical.Min, d.Extraction.DiastolicTypical.Max},
		"pulse":             {d.Extraction.Pulse.Min, d.Extraction.Pulse.Max},
		"systolic_range":    {d.Extraction.SystolicRange.Min, d.Extraction.SystolicRange.Max},
		"diastolic_range":   {d.Extraction.DiastolicRange.Min, d.Extraction.DiastolicRange.Max},
		"pulse_pressure":    {d.Extraction.PulsePressure.Min, d.Extraction.PulsePressure.Max},
	}
	for name, b := range bands {
		l.v.SetDefault("extraction."+name+".min", b.min)
		l.v.SetDefault("extraction."+name+".max", b.max)
	}

	l.v.SetDefault("aggregation.tolerance", d.Aggregation.Tolerance)
	l.v.SetDefault("aggregation.samples", d.Aggregation.Samples)
	l.v.SetDefault("aggregation.max_workers", d.Aggregation.MaxWorkers)

	l.v.SetDefault("session.auto_interval", d.Session.AutoInterval)
	l.v.SetDefault("session.orientation_interval", d.Session.OrientationInterval)
	l.v.SetDefault("session.camera.facing_mode", d.Session.Camera.FacingMode)
	l.v.SetDefault("session.camera.width", d.Session.Camera.Width)
	l.v.SetDefault("session.camera.height", d.Session.Camera.Height)

	l.v.SetDefault("voice.engine", d.Voice.Engine)
	l.v.SetDefault("voice.command", d.Voice.Command)
	l.v.SetDefault("voice.lang", d.Voice.Lang)
	l.v.SetDefault("voice.rate", d.Voice.Rate)
	l.v.SetDefault("voice.pitch", d.Voice.Pitch)
	l.v.SetDefault("voice.volume", d.Voice.Volume)

	l.v.SetDefault("server.host", d.Server.Host)
	l.v.SetDefault("server.port", d.Server.Port)
	l.v.SetDefault("server.cors_origin", d.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", d.Server.MaxUploadMB)
	l.v.SetDefault("server.max_frame_dimension", d.Server.MaxFrameDimension)
	l.v.SetDefault("server.timeout_sec", d.Server.TimeoutSec)
	l.v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
}
