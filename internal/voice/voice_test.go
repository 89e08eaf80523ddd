package voice

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickVoice(t *testing.T) {
	voices := []Voice{
		{Name: "english", Lang: "en-GB"},
		{Name: "portugal", Lang: "pt_PT"},
		{Name: "brasil", Lang: "pt-BR"},
	}
	tests := []struct {
		lang string
		want string
	}{
		{"pt-BR", "brasil"},
		{"pt-br", "brasil"},
		{"pt", "portugal"},
		{"pt-AO", "portugal"},
		{"en-US", "english"},
		{"de-DE", ""},
	}
	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			assert.Equal(t, tt.want, PickVoice(voices, tt.lang))
		})
	}
	assert.Empty(t, PickVoice(nil, "pt-BR"))
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name string
		cfg  Config
	}{
		{"no language", Config{Rate: 1, Pitch: 1, Volume: 1}},
		{"rate", Config{Lang: "pt-BR", Rate: 20, Pitch: 1, Volume: 1}},
		{"pitch", Config{Lang: "pt-BR", Rate: 1, Pitch: 3, Volume: 1}},
		{"volume", Config{Lang: "pt-BR", Rate: 1, Pitch: 1, Volume: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, tt.cfg.Validate())
		})
	}
}

func TestCommandSynthesizer_Args(t *testing.T) {
	s := NewCommandSynthesizer("")
	assert.Equal(t, "espeak-ng", s.Command)

	args := s.Args(Utterance{Text: "-olá", Lang: "pt-BR", Rate: 1, Pitch: 1, Volume: 1})
	assert.Equal(t, []string{"-v", "pt-br", "-s", "175", "-p", "50", "-a", "100", "--", "-olá"}, args)

	s.ExtraArgs = []string{"-z"}
	args = s.Args(Utterance{Text: "x", Voice: "pt-br", Rate: 2, Pitch: 5, Volume: 0})
	assert.Equal(t, []string{"-z", "-v", "pt-br", "-s", "350", "-p", "99", "-a", "0", "--", "x"}, args)
}

func TestCommandSynthesizer_MissingBinary(t *testing.T) {
	s := NewCommandSynthesizer("bpvoice-no-such-speech-binary")
	require.Error(t, s.Speak(context.Background(), Utterance{Text: "x", Lang: "pt-BR", Rate: 1}))
	_, err := s.Voices(context.Background())
	require.Error(t, err)
}

func TestParseVoiceTable(t *testing.T) {
	out := []byte(`Pty Language       Age/Gender VoiceName          File                 Other Languages
 5  en-gb           --/M      English_(Great_Britain) gmw/en
 5  pt-br           --/M      Portuguese_(Brazil) roa/pt-BR
 bad line
`)
	voices := parseVoiceTable(out)
	require.Len(t, voices, 2)
	assert.Equal(t, Voice{Name: "pt-br", Lang: "pt-br"}, voices[1])
	assert.Equal(t, "pt-br", PickVoice(voices, "pt-BR"))
}

func TestLogSynthesizer(t *testing.T) {
	s := &LogSynthesizer{}
	require.NoError(t, s.Speak(context.Background(), Utterance{Text: "hello"}))

	slow := &LogSynthesizer{WordDuration: time.Hour}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, slow.Speak(ctx, Utterance{Text: "a b c"}), context.DeadlineExceeded)

	quick := &LogSynthesizer{WordDuration: time.Millisecond}
	require.NoError(t, quick.Speak(context.Background(), Utterance{Text: "a b"}))
}
