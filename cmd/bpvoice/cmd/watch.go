package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/MeKo-Tech/bpvoice/internal/camera"
	"github.com/MeKo-Tech/bpvoice/internal/session"
	"github.com/MeKo-Tech/bpvoice/internal/voice"
	"github.com/spf13/cobra"
)

// watchCmd represents the watch command.
var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Run a live session over a directory of frames",
	Long: `Run a live session whose camera replays the images of a directory in name
order. Positioning guidance is checked periodically and spoken when it changes.
With --auto a reading is taken whenever the display is aligned; with --once a
single reading is taken right away and the command exits after speaking it.

Examples:
  bpvoice watch ./frames --once
  bpvoice watch ./frames --auto --duration 30s
  bpvoice watch ./frames --auto --voice espeak --language pt-BR`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		auto, _ := cmd.Flags().GetBool("auto")
		once, _ := cmd.Flags().GetBool("once")
		duration, _ := cmd.Flags().GetDuration("duration")
		if cmd.Flags().Changed("samples") {
			cfg.Aggregation.Samples, _ = cmd.Flags().GetInt("samples")
		}
		if cmd.Flags().Changed("interval") {
			cfg.Session.AutoInterval, _ = cmd.Flags().GetDuration("interval")
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		reader, err := newReader(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = reader.Close() }()

		synth, err := newSynthesizer(cfg)
		if err != nil {
			return err
		}
		announcer, err := voice.NewAnnouncer(synth, cfg.ToVoiceConfig(), voice.WithLogger(slog.Default()))
		if err != nil {
			return err
		}
		defer announcer.Close()

		printer := &eventPrinter{w: cmd.OutOrStdout()}
		sess, err := session.New(camera.NewDirSource(args[0]), reader, announcer, cfg.ToSessionConfig(),
			session.WithLogger(slog.Default()),
			session.WithObserver(printer.print))
		if err != nil {
			return err
		}
		defer func() { _ = sess.Close() }()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		if duration > 0 {
			ctx, cancel = context.WithTimeout(ctx, duration)
			defer cancel()
		}

		<-sess.Ready()
		if err := sess.StartCamera(ctx); err != nil {
			return fmt.Errorf("failed to start camera: %w", err)
		}

		if once {
			_, err := sess.Capture(ctx)
			waitIdle(ctx, sess)
			return err
		}

		if auto {
			if err := sess.StartAuto(); err != nil {
				return err
			}
		}

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			slog.Info("Received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				slog.Info("Watch duration elapsed", "duration", duration)
			}
		}
		return nil
	},
}

// waitIdle returns once the session has finished speaking.
func waitIdle(ctx context.Context, sess *session.Session) {
	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for sess.State() != session.StateIdle {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// eventPrinter writes one line per session event.
type eventPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *eventPrinter) print(e session.Event) {
	line := fmt.Sprintf("%s %-8s", e.Time.Format(time.TimeOnly), e.Type)
	switch e.Type {
	case session.EventState:
		line += " " + e.State.String()
	case session.EventCamera:
		line += fmt.Sprintf(" streaming=%t", e.Streaming)
	case session.EventAuto:
		line += fmt.Sprintf(" auto=%t", e.Auto)
	case session.EventGuidance:
		line += " " + e.Guidance.String()
	case session.EventReading:
		if e.Result != nil {
			line += fmt.Sprintf(" %s (%s)", e.Result.Reading, e.Result.Classification.Severity)
		}
	case session.EventError:
		if e.Err != nil {
			line += " " + e.Err.Error()
		}
	}
	if e.Message != "" {
		line += ": " + e.Message
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.w, line)
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().Bool("auto", false, "capture automatically whenever the display is aligned")
	watchCmd.Flags().Bool("once", false, "take one reading and exit")
	watchCmd.Flags().Duration("duration", 0, "stop after this long (0 runs until interrupted)")
	watchCmd.Flags().Duration("interval", 3*time.Second, "automatic capture interval")
	watchCmd.Flags().Int("samples", 1, "frames per capture")
}
