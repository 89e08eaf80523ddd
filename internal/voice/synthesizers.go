package voice

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// LogSynthesizer "speaks" by logging the utterance. With WordDuration set it also
// takes as long as a real engine would, which keeps queueing behavior observable.
type LogSynthesizer struct {
	Logger       *slog.Logger
	WordDuration time.Duration
}

// Speak implements Synthesizer.
func (s *LogSynthesizer) Speak(ctx context.Context, u Utterance) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Announcement", "text", u.Text, "lang", u.Lang, "priority", u.Priority)
	if s.WordDuration <= 0 {
		return ctx.Err()
	}
	d := time.Duration(len(strings.Fields(u.Text))) * s.WordDuration
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CommandSynthesizer speaks through an espeak-compatible command line program.
type CommandSynthesizer struct {
	Command string
	// ExtraArgs are inserted before the generated arguments.
	ExtraArgs []string
}

// NewCommandSynthesizer returns a synthesizer running command, defaulting to espeak-ng.
func NewCommandSynthesizer(command string) *CommandSynthesizer {
	if command == "" {
		command = "espeak-ng"
	}
	return &CommandSynthesizer{Command: command}
}

// Args maps the utterance onto espeak flags: rate 1.0 is 175 words per minute,
// pitch 1.0 is 50 and volume 1.0 is amplitude 100.
func (s *CommandSynthesizer) Args(u Utterance) []string {
	args := append([]string(nil), s.ExtraArgs...)
	voice := u.Voice
	if voice == "" {
		voice = strings.ToLower(u.Lang)
	}
	if voice != "" {
		args = append(args, "-v", voice)
	}
	if u.Rate > 0 {
		args = append(args, "-s", strconv.Itoa(int(175*u.Rate)))
	}
	args = append(args,
		"-p", strconv.Itoa(clampInt(int(50*u.Pitch), 0, 99)),
		"-a", strconv.Itoa(clampInt(int(100*u.Volume), 0, 200)),
		"--", u.Text,
	)
	return args
}

// Speak implements Synthesizer.
func (s *CommandSynthesizer) Speak(ctx context.Context, u Utterance) error {
	cmd := exec.CommandContext(ctx, s.Command, s.Args(u)...) //nolint:gosec // G204: command comes from configuration
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w: %s", s.Command, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Voices implements VoiceLister by parsing the "--voices" table.
func (s *CommandSynthesizer) Voices(ctx context.Context) ([]Voice, error) {
	out, err := exec.CommandContext(ctx, s.Command, "--voices").Output() //nolint:gosec // G204: command comes from configuration
	if err != nil {
		return nil, fmt.Errorf("%s --voices: %w", s.Command, err)
	}
	return parseVoiceTable(out), nil
}

// parseVoiceTable reads espeak's "Pty Language Age/Gender VoiceName File Other" table.
func parseVoiceTable(out []byte) []Voice {
	var voices []Voice
	sc := bufio.NewScanner(bytes.NewReader(out))
	header := true
	for sc.Scan() {
		if header {
			header = false
			continue
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}
		// The language column doubles as the -v identifier.
		voices = append(voices, Voice{Name: fields[1], Lang: fields[1]})
	}
	return voices
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
