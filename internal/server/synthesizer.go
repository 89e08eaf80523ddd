package server

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/MeKo-Tech/bpvoice/internal/voice"
	"github.com/google/uuid"
)

var (
	// ErrConnectionClosed is returned for utterances still pending when the client disconnects.
	ErrConnectionClosed = errors.New("websocket connection closed")

	// ErrSpeechTimeout is returned when the client never acknowledges an utterance.
	ErrSpeechTimeout = errors.New("speech not acknowledged in time")
)

// defaultSpeechTimeout bounds how long one utterance may stay unacknowledged.
const defaultSpeechTimeout = 30 * time.Second

// remoteSynthesizer speaks through the connected browser: every utterance is
// sent as a "speak" message and completes when the client acknowledges it.
type remoteSynthesizer struct {
	send    func(ServerMessage) error
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan error
	voices  []voice.Voice
	closed  bool
}

func newRemoteSynthesizer(send func(ServerMessage) error) *remoteSynthesizer {
	return &remoteSynthesizer{
		send:    send,
		timeout: defaultSpeechTimeout,
		pending: make(map[string]chan error),
	}
}

// Speak implements voice.Synthesizer.
func (r *remoteSynthesizer) Speak(ctx context.Context, u voice.Utterance) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	done := make(chan error, 1)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrConnectionClosed
	}
	r.pending[u.ID] = done
	r.mu.Unlock()

	if err := r.send(ServerMessage{Type: msgSpeak, Utterance: &u}); err != nil {
		r.forget(u.ID)
		return fmt.Errorf("send utterance: %w", err)
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		r.forget(u.ID)
		_ = r.send(ServerMessage{Type: msgCancel, ID: u.ID})
		return ctx.Err()
	case <-timer.C:
		r.forget(u.ID)
		_ = r.send(ServerMessage{Type: msgCancel, ID: u.ID})
		return ErrSpeechTimeout
	}
}

// Voices implements voice.VoiceLister with whatever the client reported so far.
func (r *remoteSynthesizer) Voices(context.Context) ([]voice.Voice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.voices), nil
}

func (r *remoteSynthesizer) setVoices(v []voice.Voice) {
	r.mu.Lock()
	r.voices = slices.Clone(v)
	r.mu.Unlock()
}

// ack completes the utterance id with err. It reports whether id was pending.
func (r *remoteSynthesizer) ack(id string, err error) bool {
	r.mu.Lock()
	done, ok := r.pending[id]
	delete(r.pending, id)
	r.mu.Unlock()
	if ok {
		done <- err
	}
	return ok
}

func (r *remoteSynthesizer) forget(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

func (r *remoteSynthesizer) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for id, done := range r.pending {
		done <- ErrConnectionClosed
		delete(r.pending, id)
	}
}
