package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/bpvoice/internal/config"
	"github.com/MeKo-Tech/bpvoice/internal/ocr"
	"github.com/MeKo-Tech/bpvoice/internal/version"
	"github.com/MeKo-Tech/bpvoice/internal/voice"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Global configuration loader.
	configLoader *config.Loader
	// Global configuration.
	globalConfig *config.Config
	// Configuration file path.
	cfgFile string
)

// Engine and synthesizer construction is swappable so commands can run without
// Tesseract or a speech engine installed.
var (
	newEngine      = func(cfg *config.Config) (ocr.Engine, error) { return cfg.NewEngine() }
	newSynthesizer = func(cfg *config.Config) (voice.Synthesizer, error) { return cfg.NewSynthesizer() }
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "bpvoice",
	Short: "Read blood pressure monitors aloud",
	Long: `bpvoice reads the display of a digital blood pressure monitor from camera frames
and speaks the result for visually impaired users.

This tool provides:
- Systolic, diastolic and pulse extraction from photos of the monitor display
- Classification of the reading with a spoken assessment
- Positioning guidance while the display is not aligned
- A live session server for browsers (HTTP and WebSocket)

Examples:
  bpvoice read frame.jpg
  bpvoice read frame1.jpg frame2.jpg --format json
  bpvoice orient frame.jpg
  bpvoice watch ./frames --auto
  bpvoice serve --port 8080`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, _ := cmd.PersistentFlags().GetBool("version")
		if v {
			ver, commit, date := version.Info()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "bpvoice version %s\n", ver)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Commit: %s\n", commit)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Date: %s\n", date)
			return nil
		}
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetRootCommand returns the root command for testing purposes.
func GetRootCommand() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is search in ., $HOME, /etc/bpvoice, $XDG_CONFIG_HOME/bpvoice)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringP("language", "l", "pt-BR", "message and speech language (pt-BR, en)")
	rootCmd.PersistentFlags().String("engine", config.EngineTesseract, "OCR engine (tesseract, ollama)")
	rootCmd.PersistentFlags().String("voice", config.VoiceLog, "speech engine (log, espeak)")
	rootCmd.PersistentFlags().Bool("version", false, "print version information and exit")

	flagBindings := []struct{ key, flag string }{
		{"verbose", "verbose"},
		{"log_level", "log-level"},
		{"language", "language"},
		{"ocr.engine", "engine"},
		{"voice.engine", "voice"},
	}
	for _, binding := range flagBindings {
		if err := viper.BindPFlag(binding.key, rootCmd.PersistentFlags().Lookup(binding.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", binding.flag, err))
		}
	}

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if globalConfig == nil {
			if err := initConfig(); err != nil {
				return err
			}
		}
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		slog.SetDefault(newLogger(cfg))
		return nil
	}
}

// newLogger builds the JSON logger for cfg. Logs go to stderr so command
// output on stdout stays machine readable.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if cfg.Verbose {
		level = slog.LevelDebug
	} else {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// initConfig reads in the config file and environment variables. Validation
// happens in GetConfig once the flags of the running command are known.
func initConfig() error {
	configLoader = GetConfigLoader()

	var err error
	if cfgFile != "" {
		globalConfig, err = configLoader.LoadWithFileWithoutValidation(cfgFile)
	} else {
		globalConfig, err = configLoader.LoadWithoutValidation()
	}
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	return nil
}

// GetConfig returns the configuration resolved with the flags of the running
// command.
func GetConfig() (*config.Config, error) {
	if globalConfig == nil {
		if err := initConfig(); err != nil {
			return nil, err
		}
	}
	cfg, err := GetConfigLoader().Resolve()
	if err != nil {
		return nil, fmt.Errorf("error resolving configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// GetConfigLoader returns the global configuration loader.
func GetConfigLoader() *config.Loader {
	if configLoader == nil {
		configLoader = config.NewLoader()
	}
	return configLoader
}
