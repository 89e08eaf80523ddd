// Package voice queues spoken announcements and hands them to a speech synthesizer.
package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrInterrupted is delivered for utterances that were cleared or cut short by a priority message.
var ErrInterrupted = errors.New("utterance interrupted")

// ErrClosed is delivered for utterances that were pending when the announcer closed.
var ErrClosed = errors.New("announcer closed")

// Utterance is one message to speak.
type Utterance struct {
	ID       string  `json:"id"`
	Text     string  `json:"text"`
	Lang     string  `json:"lang"`
	Voice    string  `json:"voice,omitempty"`
	Rate     float64 `json:"rate"`
	Pitch    float64 `json:"pitch"`
	Volume   float64 `json:"volume"`
	Priority bool    `json:"priority,omitempty"`
}

// Voice describes a voice offered by a synthesizer.
type Voice struct {
	Name string `json:"name"`
	Lang string `json:"lang"`
}

// Synthesizer speaks an utterance and returns once it has finished or failed.
// It must return promptly when ctx is canceled.
type Synthesizer interface {
	Speak(ctx context.Context, u Utterance) error
}

// VoiceLister is implemented by synthesizers that can enumerate their voices.
// The list may be empty until the engine has finished loading.
type VoiceLister interface {
	Voices(ctx context.Context) ([]Voice, error)
}

// SynthesizerFunc adapts a function to Synthesizer.
type SynthesizerFunc func(ctx context.Context, u Utterance) error

// Speak implements Synthesizer.
func (f SynthesizerFunc) Speak(ctx context.Context, u Utterance) error {
	return f(ctx, u)
}

// Config holds the speech parameters applied to every utterance.
type Config struct {
	Lang   string  `mapstructure:"lang" yaml:"lang" json:"lang"`
	Rate   float64 `mapstructure:"rate" yaml:"rate" json:"rate"`
	Pitch  float64 `mapstructure:"pitch" yaml:"pitch" json:"pitch"`
	Volume float64 `mapstructure:"volume" yaml:"volume" json:"volume"`
}

// DefaultConfig speaks Brazilian Portuguese at normal rate, pitch and volume.
func DefaultConfig() Config {
	return Config{Lang: "pt-BR", Rate: 1.0, Pitch: 1.0, Volume: 1.0}
}

// Validate checks the speech parameters.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Lang) == "" {
		return errors.New("speech language is required")
	}
	if c.Rate < 0.1 || c.Rate > 10 {
		return fmt.Errorf("speech rate %.2f outside [0.1,10]", c.Rate)
	}
	if c.Pitch < 0 || c.Pitch > 2 {
		return fmt.Errorf("speech pitch %.2f outside [0,2]", c.Pitch)
	}
	if c.Volume < 0 || c.Volume > 1 {
		return fmt.Errorf("speech volume %.2f outside [0,1]", c.Volume)
	}
	return nil
}

// PickVoice returns the first voice matching lang exactly, else the first sharing its
// primary subtag ("pt" for "pt-BR"). It returns "" when nothing matches.
func PickVoice(voices []Voice, lang string) string {
	want := normalizeLang(lang)
	for _, v := range voices {
		if normalizeLang(v.Lang) == want {
			return v.Name
		}
	}
	primary, _, _ := strings.Cut(want, "-")
	for _, v := range voices {
		p, _, _ := strings.Cut(normalizeLang(v.Lang), "-")
		if p == primary {
			return v.Name
		}
	}
	return ""
}

func normalizeLang(l string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(l), "_", "-"))
}
