package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

type job struct {
	u      Utterance
	ctx    context.Context
	cancel context.CancelFunc
	done   chan error
}

func (j *job) finish(err error) {
	j.cancel()
	j.done <- err
	close(j.done)
}

// Announcer speaks utterances one at a time in FIFO order. A priority utterance
// clears everything queued and interrupts the one in flight before it is spoken.
type Announcer struct {
	synth  Synthesizer
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	queue   []*job
	current *job
	closed  bool
	voice   string
}

// Option configures an Announcer.
type Option func(*Announcer)

// WithLogger sets the logger used for speech events.
func WithLogger(l *slog.Logger) Option {
	return func(a *Announcer) { a.logger = l }
}

// NewAnnouncer starts the speaking goroutine. Call Close to stop it.
func NewAnnouncer(s Synthesizer, cfg Config, opts ...Option) (*Announcer, error) {
	if s == nil {
		return nil, errors.New("synthesizer is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid voice config: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &Announcer{
		synth:  s,
		cfg:    cfg,
		logger: slog.Default(),
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	go a.run()
	return a, nil
}

// Say queues text behind everything already pending. The returned channel yields
// exactly one value: nil once spoken, or the error that prevented it.
func (a *Announcer) Say(text string) <-chan error {
	return a.enqueue(text, false)
}

// SayPriority drops all pending utterances, interrupts the current one and queues text.
func (a *Announcer) SayPriority(text string) <-chan error {
	return a.enqueue(text, true)
}

func (a *Announcer) enqueue(text string, priority bool) <-chan error {
	ctx, cancel := context.WithCancel(a.ctx)
	j := &job{
		u: Utterance{
			ID:       uuid.NewString(),
			Text:     text,
			Lang:     a.cfg.Lang,
			Rate:     a.cfg.Rate,
			Pitch:    a.cfg.Pitch,
			Volume:   a.cfg.Volume,
			Priority: priority,
		},
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan error, 1),
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		j.finish(ErrClosed)
		return j.done
	}
	if priority {
		for _, q := range a.queue {
			q.finish(ErrInterrupted)
		}
		a.queue = nil
		if a.current != nil {
			a.current.cancel()
		}
	}
	a.queue = append(a.queue, j)
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
	return j.done
}

// Speaking reports whether an utterance is in flight.
func (a *Announcer) Speaking() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current != nil
}

// Pending returns the number of queued utterances, excluding the one in flight.
func (a *Announcer) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}

// Voice returns the voice chosen for the configured language, if any yet.
func (a *Announcer) Voice() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.voice
}

// Close interrupts speech, fails pending utterances with ErrClosed and waits for the
// speaking goroutine to exit.
func (a *Announcer) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return
	}
	a.closed = true
	for _, q := range a.queue {
		q.finish(ErrClosed)
	}
	a.queue = nil
	a.mu.Unlock()

	a.cancel()
	select {
	case a.wake <- struct{}{}:
	default:
	}
	<-a.done
}

func (a *Announcer) run() {
	defer close(a.done)
	for {
		j, ok := a.next()
		if !ok {
			return
		}

		j.u.Voice = a.selectVoice(j.ctx)
		a.logger.Debug("Speaking", "id", j.u.ID, "priority", j.u.Priority, "voice", j.u.Voice, "text", j.u.Text)
		err := a.synth.Speak(j.ctx, j.u)
		if err != nil && j.ctx.Err() != nil {
			if a.ctx.Err() != nil {
				err = ErrClosed
			} else {
				err = ErrInterrupted
			}
		}
		if err != nil && !errors.Is(err, ErrInterrupted) && !errors.Is(err, ErrClosed) {
			a.logger.Warn("Speech failed", "id", j.u.ID, "error", err)
		}

		a.mu.Lock()
		a.current = nil
		a.mu.Unlock()
		j.finish(err)
	}
}

func (a *Announcer) next() (*job, bool) {
	for {
		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			return nil, false
		}
		if len(a.queue) > 0 {
			j := a.queue[0]
			a.queue = a.queue[1:]
			a.current = j
			a.mu.Unlock()
			return j, true
		}
		a.mu.Unlock()
		<-a.wake
	}
}

// selectVoice asks the synthesizer for voices until one matches the language.
// Voices can load after startup, so an empty answer is retried on the next utterance.
func (a *Announcer) selectVoice(ctx context.Context) string {
	a.mu.Lock()
	chosen := a.voice
	a.mu.Unlock()
	if chosen != "" {
		return chosen
	}
	lister, ok := a.synth.(VoiceLister)
	if !ok {
		return ""
	}
	voices, err := lister.Voices(ctx)
	if err != nil {
		a.logger.Debug("Listing voices failed", "error", err)
		return ""
	}
	chosen = PickVoice(voices, a.cfg.Lang)
	if chosen != "" {
		a.logger.Info("Selected voice", "voice", chosen, "lang", a.cfg.Lang)
		a.mu.Lock()
		a.voice = chosen
		a.mu.Unlock()
	}
	return chosen
}
