package cmd

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/bpvoice/internal/config"
	"github.com/MeKo-Tech/bpvoice/internal/extract"
	"github.com/MeKo-Tech/bpvoice/internal/frame"
	"github.com/MeKo-Tech/bpvoice/internal/messages"
	"github.com/MeKo-Tech/bpvoice/internal/pipeline"
	"github.com/MeKo-Tech/bpvoice/internal/voice"
	"github.com/spf13/cobra"
)

const (
	outputFormatJSON   = "json"
	outputFormatText   = "text"
	outputFormatSpeech = "speech"
)

// readCmd represents the read command.
var readCmd = &cobra.Command{
	Use:   "read <frame>...",
	Short: "Read blood pressure values from photos of a monitor",
	Long: `Read the systolic, diastolic and pulse values from one or more photos of a
blood pressure monitor display. Several frames of the same display are combined
into one consensus reading.

Supported formats: JPEG, PNG, BMP

Output formats:
  text   - values, per-value categories and the assessment
  json   - the full result including every sample
  speech - the sentence that would be spoken

Examples:
  bpvoice read frame.jpg
  bpvoice read frame1.jpg frame2.jpg frame3.jpg --format json
  bpvoice read frame.jpg --format speech --language en
  bpvoice read frame.jpg --speak`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		switch format {
		case outputFormatText, outputFormatJSON, outputFormatSpeech:
		default:
			return fmt.Errorf("unsupported output format: %s", format)
		}
		outputFile, _ := cmd.Flags().GetString("output")
		speak, _ := cmd.Flags().GetBool("speak")
		progress, _ := cmd.Flags().GetBool("progress")

		frames, err := loadFrames(args)
		if err != nil {
			return err
		}

		reader, err := newReader(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = reader.Close() }()

		var cb pipeline.ProgressCallback = pipeline.NewLogProgressCallback(slog.Default(), slog.LevelDebug)
		if progress {
			cb = pipeline.NewMultiProgressCallback(cb, pipeline.NewConsoleProgressCallback(cmd.ErrOrStderr(), "Reading "))
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		msgs := messages.New(cfg.Language)

		res, err := reader.ReadWithProgress(ctx, frames, cb)
		if err != nil {
			text := msgs.Text(messages.CaptureError)
			if errors.Is(err, extract.ErrNoPlausibleReading) {
				text = msgs.FailureTip(1)
			}
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), text)
			if speak {
				if sayErr := say(cfg, text); sayErr != nil {
					slog.Warn("Speech failed", "error", sayErr)
				}
			}
			return fmt.Errorf("reading failed: %w", err)
		}

		var out string
		switch format {
		case outputFormatJSON:
			out, err = pipeline.ToJSON(res)
		case outputFormatSpeech:
			out = msgs.Reading(res.Reading, res.Classification)
		default:
			out, err = pipeline.ToPlainText(res)
		}
		if err != nil {
			return fmt.Errorf("formatting failed: %w", err)
		}
		if err := writeOutput(cmd.OutOrStdout(), outputFile, out); err != nil {
			return err
		}

		if speak {
			return say(cfg, msgs.Reading(res.Reading, res.Classification))
		}
		return nil
	},
}

// loadFrames decodes every path, failing on the first unreadable file.
func loadFrames(paths []string) ([]image.Image, error) {
	frames := make([]image.Image, 0, len(paths))
	for _, p := range paths {
		img, meta, err := frame.Load(p)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", p, err)
		}
		slog.Debug("Frame loaded", "path", p, "format", meta.Format, "width", meta.Width, "height", meta.Height)
		frames = append(frames, img)
	}
	return frames, nil
}

// newReader builds a reader with the configured engine.
func newReader(cfg *config.Config) (*pipeline.Reader, error) {
	return buildReader(cfg, nil)
}

// buildReader configures a reader from cfg; adjust may tune the builder
// before the engine is attached.
func buildReader(cfg *config.Config, adjust func(*pipeline.Builder)) (*pipeline.Reader, error) {
	pCfg, err := cfg.ToPipelineConfig()
	if err != nil {
		return nil, err
	}
	b := pipeline.NewBuilder().WithConfig(pCfg).WithLogger(slog.Default())
	if adjust != nil {
		adjust(b)
	}
	engine, err := newEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create OCR engine: %w", err)
	}
	reader, err := b.WithEngine(engine).Build()
	if err != nil {
		_ = engine.Close()
		return nil, err
	}
	return reader, nil
}

// say speaks text with the configured synthesizer and waits until it is done.
func say(cfg *config.Config, text string) error {
	synth, err := newSynthesizer(cfg)
	if err != nil {
		return err
	}
	announcer, err := voice.NewAnnouncer(synth, cfg.ToVoiceConfig(), voice.WithLogger(slog.Default()))
	if err != nil {
		return err
	}
	defer announcer.Close()
	return <-announcer.Say(text)
}

func writeOutput(w io.Writer, outputFile, content string) error {
	if outputFile == "" {
		_, err := fmt.Fprintln(w, content)
		return err
	}
	if err := os.WriteFile(outputFile, []byte(content+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	slog.Info("Result written", "file", outputFile)
	return nil
}

func init() {
	rootCmd.AddCommand(readCmd)
	readCmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json, speech)")
	readCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	readCmd.Flags().Bool("speak", false, "speak the result")
	readCmd.Flags().Bool("progress", false, "show a progress bar on stderr")
}
