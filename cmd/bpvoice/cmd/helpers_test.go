package cmd

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/MeKo-Tech/bpvoice/internal/config"
	"github.com/MeKo-Tech/bpvoice/internal/ocr"
	"github.com/MeKo-Tech/bpvoice/internal/voice"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// spoken records what the stub synthesizer was asked to say.
type spoken struct {
	mu    sync.Mutex
	texts []string
}

func (s *spoken) add(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
}

func (s *spoken) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

// stubBackends replaces the OCR engine with static text and the synthesizer
// with a recorder for the duration of the test.
func stubBackends(t *testing.T, text string) *spoken {
	t.Helper()
	rec := &spoken{}
	prevEngine, prevSynth := newEngine, newSynthesizer
	newEngine = func(*config.Config) (ocr.Engine, error) { return ocr.Static(text), nil }
	newSynthesizer = func(*config.Config) (voice.Synthesizer, error) {
		return voice.SynthesizerFunc(func(ctx context.Context, u voice.Utterance) error {
			rec.add(u.Text)
			return ctx.Err()
		}), nil
	}
	t.Cleanup(func() { newEngine, newSynthesizer = prevEngine, prevSynth })
	return rec
}

// resetFlags restores every flag of cmd and its children to its default so
// executions do not leak into each other.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// executeCommand runs the root command with args and returns stdout and stderr.
func executeCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}
