package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/bpvoice/internal/config"
	"github.com/MeKo-Tech/bpvoice/internal/pipeline"
	"github.com/MeKo-Tech/bpvoice/internal/server"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and WebSocket server",
	Long: `Start an HTTP server that reads blood pressure monitors for browser clients.

The server provides the following endpoints:
  POST /reading      - Read one or more uploaded frames
  GET  /reading/last - The most recent reading
  POST /orientation  - Positioning guidance for one frame
  GET  /ws           - Live session: frames in, speech and events out
  GET  /health       - Health check endpoint
  GET  /metrics      - Prometheus metrics

Examples:
  bpvoice serve
  bpvoice serve --port 8080
  bpvoice serve --host 0.0.0.0 --port 3000 --language en`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		applyServeFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid server configuration: %w", err)
		}

		reader, err := newServeReader(cfg)
		if err != nil {
			return err
		}

		srv, err := server.NewServer(reader, serverConfig(cfg))
		if err != nil {
			_ = reader.Close()
			return fmt.Errorf("failed to initialize server: %w", err)
		}
		defer func() { _ = srv.Close() }()

		mux := http.NewServeMux()
		srv.SetupRoutes(mux)

		httpServer := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		go func() {
			slog.Info("Starting bpvoice server", "host", cfg.Server.Host, "port", cfg.Server.Port,
				"engine", reader.Engine().Name(), "language", cfg.Language)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Server error", "error", err)
				cancel()
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			slog.Info("Received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
			slog.Info("Context cancelled, initiating shutdown")
		}

		shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
		slog.Info("Starting graceful shutdown", "timeout", shutdownTimeout)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		// Live sessions are hijacked connections, so they are ended explicitly.
		if err := srv.Close(); err != nil {
			slog.Error("Server cleanup error", "error", err)
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}

		slog.Info("Graceful shutdown completed")
		return nil
	},
}

// applyServeFlags overrides cfg with the serve flags set on the command line.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("cors-origin") {
		cfg.Server.CORSOrigin, _ = flags.GetString("cors-origin")
	}
	if flags.Changed("max-upload-size") {
		cfg.Server.MaxUploadMB, _ = flags.GetInt("max-upload-size")
	}
	if flags.Changed("max-frame-dimension") {
		cfg.Server.MaxFrameDimension, _ = flags.GetInt("max-frame-dimension")
	}
	if flags.Changed("timeout") {
		cfg.Server.TimeoutSec, _ = flags.GetInt("timeout")
	}
	if flags.Changed("shutdown-timeout") {
		cfg.Server.ShutdownTimeout, _ = flags.GetInt("shutdown-timeout")
	}
	if flags.Changed("samples") {
		cfg.Aggregation.Samples, _ = flags.GetInt("samples")
	}
}

// newServeReader builds the reader used by the server. Frames larger than the
// configured dimension are downscaled before processing.
func newServeReader(cfg *config.Config) (*pipeline.Reader, error) {
	return buildReader(cfg, func(b *pipeline.Builder) {
		if cfg.Server.MaxFrameDimension > 0 {
			b.WithMaxFrameDimension(cfg.Server.MaxFrameDimension)
		}
	})
}

func serverConfig(cfg *config.Config) server.Config {
	return server.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		CORSOrigin:  cfg.Server.CORSOrigin,
		MaxUploadMB: int64(cfg.Server.MaxUploadMB),
		TimeoutSec:  cfg.Server.TimeoutSec,
		Session:     cfg.ToSessionConfig(),
		Voice:       cfg.ToVoiceConfig(),
		Logger:      slog.Default(),
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origin")
	serveCmd.Flags().Int("max-upload-size", 10, "maximum upload size in MB")
	serveCmd.Flags().Int("max-frame-dimension", 1280, "downscale frames larger than this (0 disables)")
	serveCmd.Flags().Int("timeout", 30, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().Int("samples", 1, "frames per live capture")
}
