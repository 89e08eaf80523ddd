// Package session drives one user's interaction: camera, orientation guidance,
// captures and the spoken results.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/bpvoice/internal/camera"
	"github.com/MeKo-Tech/bpvoice/internal/extract"
	"github.com/MeKo-Tech/bpvoice/internal/messages"
	"github.com/MeKo-Tech/bpvoice/internal/orientation"
	"github.com/MeKo-Tech/bpvoice/internal/pipeline"
)

// ErrBusy is returned when a trigger arrives while the session cannot accept it.
var ErrBusy = errors.New("session busy")

// ErrNoReading is returned by RepeatLast before the first successful capture.
var ErrNoReading = errors.New("no reading available")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("session closed")

// State is the capture state of a session.
type State int

const (
	StateIdle State = iota
	StateCapturing
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateSpeaking:
		return "speaking"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateIdle; st <= StateSpeaking; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// Speaker queues spoken messages. Calls must not block; every call returns a
// channel that yields once the message has been spoken or dropped.
type Speaker interface {
	Say(text string) <-chan error
	SayPriority(text string) <-chan error
}

// Config holds the session timing and acquisition settings.
type Config struct {
	Language            string             `mapstructure:"language" yaml:"language" json:"language"`
	Camera              camera.Constraints `mapstructure:"camera" yaml:"camera" json:"camera"`
	Samples             int                `mapstructure:"samples" yaml:"samples" json:"samples"`
	AutoInterval        time.Duration      `mapstructure:"auto_interval" yaml:"auto_interval" json:"auto_interval"`
	OrientationInterval time.Duration      `mapstructure:"orientation_interval" yaml:"orientation_interval" json:"orientation_interval"`
	Orientation         orientation.Config `mapstructure:"-" yaml:"-" json:"-"`
}

// DefaultConfig checks orientation every 1.5s and tries an automatic capture every 3s.
func DefaultConfig() Config {
	return Config{
		Language:            "pt-BR",
		Camera:              camera.DefaultConstraints(),
		Samples:             1,
		AutoInterval:        3 * time.Second,
		OrientationInterval: 1500 * time.Millisecond,
		Orientation:         orientation.DefaultConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Samples < 1 {
		return fmt.Errorf("samples must be >= 1, got %d", c.Samples)
	}
	if c.AutoInterval <= 0 {
		return fmt.Errorf("auto interval must be positive, got %v", c.AutoInterval)
	}
	if c.OrientationInterval <= 0 {
		return fmt.Errorf("orientation interval must be positive, got %v", c.OrientationInterval)
	}
	if c.Camera.Width < 0 || c.Camera.Height < 0 {
		return fmt.Errorf("invalid camera size %dx%d", c.Camera.Width, c.Camera.Height)
	}
	return c.Orientation.Validate()
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithObserver registers a function receiving every session event. It is
// called synchronously and must not call back into the session.
func WithObserver(fn func(Event)) Option {
	return func(s *Session) { s.observers = append(s.observers, fn) }
}

// WithProgress reports the samples of every capture to p.
func WithProgress(p pipeline.ProgressCallback) Option {
	return func(s *Session) { s.progress = p }
}

// Session is the explicit state of one user's interaction.
type Session struct {
	id        string
	cfg       Config
	source    camera.Source
	reader    *pipeline.Reader
	analyzer  *orientation.Analyzer
	speaker   Speaker
	msgs      *messages.Localizer
	logger    *slog.Logger
	observers []func(Event)
	progress  pipeline.ProgressCallback

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	state        State
	speakSeq     uint64
	streaming    bool
	starting     bool
	closed       bool
	failures     int
	guidance     orientation.Guidance
	hasGuidance  bool
	auto         bool
	stopAuto     context.CancelFunc
	stopOrienter context.CancelFunc

	last atomic.Pointer[pipeline.Result]
}

// New validates cfg and creates an idle session without a stream.
func New(source camera.Source, reader *pipeline.Reader, speaker Speaker, cfg Config, opts ...Option) (*Session, error) {
	if source == nil || reader == nil || speaker == nil {
		return nil, errors.New("session: source, reader and speaker are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	analyzer, err := orientation.NewAnalyzer(cfg.Orientation)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg,
		source:   source,
		reader:   reader,
		analyzer: analyzer,
		speaker:  speaker,
		msgs:     messages.New(cfg.Language),
		logger:   slog.Default(),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("session", s.id)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Messages returns the localizer used for announcements.
func (s *Session) Messages() *messages.Localizer { return s.msgs }

// State returns the current capture state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Streaming reports whether the camera stream is live.
func (s *Session) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// AutoEnabled reports whether automatic capture is on.
func (s *Session) AutoEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auto
}

// LastReading returns the last successful result.
func (s *Session) LastReading() (*pipeline.Result, bool) {
	r := s.last.Load()
	return r, r != nil
}

// Ready announces that the application is ready.
func (s *Session) Ready() <-chan error {
	return s.speaker.Say(s.msgs.Text(messages.AppReady))
}

// StartCamera acquires the stream and starts the periodic orientation check.
// On failure the error is announced and the session stays without a stream.
func (s *Session) StartCamera(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.streaming || s.starting:
		s.mu.Unlock()
		return nil
	}
	s.starting = true
	s.mu.Unlock()

	if err := s.source.Start(ctx, s.cfg.Camera); err != nil {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
		var ae *camera.AcquisitionError
		if !errors.As(err, &ae) {
			err = &camera.AcquisitionError{Source: "camera", Err: err}
		}
		s.logger.Error("Camera start failed", "error", err)
		s.speaker.SayPriority(s.msgs.Text(messages.CameraError))
		s.emit(Event{Type: EventError, Err: err})
		return err
	}

	s.mu.Lock()
	s.starting = false
	if s.closed {
		s.mu.Unlock()
		_ = s.source.Stop()
		return ErrClosed
	}
	s.streaming = true
	s.hasGuidance = false
	orientCtx, stop := context.WithCancel(s.ctx)
	s.stopOrienter = stop
	s.wg.Add(1)
	s.mu.Unlock()

	go s.loop(orientCtx, s.cfg.OrientationInterval, s.orientationTick)

	s.logger.Info("Camera started", "facing", s.cfg.Camera.FacingMode, "width", s.cfg.Camera.Width, "height", s.cfg.Camera.Height)
	s.speaker.Say(s.msgs.Text(messages.CameraStarted))
	s.emit(Event{Type: EventCamera, Streaming: true})
	return nil
}

// StopCamera ends automatic mode and the orientation loop and releases the stream.
func (s *Session) StopCamera() error {
	s.mu.Lock()
	if !s.streaming {
		s.mu.Unlock()
		return nil
	}
	s.streaming = false
	if s.stopOrienter != nil {
		s.stopOrienter()
		s.stopOrienter = nil
	}
	wasAuto := s.disableAutoLocked()
	s.mu.Unlock()

	err := s.source.Stop()
	if wasAuto {
		s.emit(Event{Type: EventAuto, Auto: false})
	}
	s.logger.Info("Camera stopped")
	s.speaker.Say(s.msgs.Text(messages.CameraStopped))
	s.emit(Event{Type: EventCamera, Streaming: false})
	return err
}

// CheckOrientation analyzes the current frame. The instruction is spoken with
// priority only when it differs from the previous one. Checks run only while
// idle; a verdict is discarded with ErrBusy if any state transition happened
// while the frame was being analyzed.
func (s *Session) CheckOrientation(ctx context.Context) (orientation.Verdict, orientation.Guidance, error) {
	s.mu.Lock()
	switch {
	case !s.streaming:
		s.mu.Unlock()
		return orientation.Verdict{}, orientation.GuidanceNoDisplay, camera.ErrNoStream
	case s.state != StateIdle:
		s.mu.Unlock()
		return orientation.Verdict{}, orientation.GuidanceNoDisplay, ErrBusy
	}
	seq := s.speakSeq
	s.mu.Unlock()

	img, err := s.source.Frame(ctx)
	if err != nil {
		return orientation.Verdict{}, orientation.GuidanceNoDisplay, err
	}
	v, g := s.analyzer.Guide(img)

	s.mu.Lock()
	if s.state != StateIdle || s.speakSeq != seq || !s.streaming {
		s.mu.Unlock()
		s.logger.Debug("Orientation verdict discarded", "guidance", g.String())
		return v, g, ErrBusy
	}
	changed := !s.hasGuidance || s.guidance != g
	s.guidance, s.hasGuidance = g, true
	if changed {
		// Queued under the lock so a capture starting now is announced after it.
		s.speaker.SayPriority(s.msgs.Guidance(g))
	}
	s.mu.Unlock()

	if changed {
		guidanceTotal.WithLabelValues(g.String()).Inc()
		s.logger.Debug("Orientation changed", "guidance", g.String(), "offset_x", v.CenterOffsetX, "offset_y", v.CenterOffsetY, "size", v.EstimatedSize)
		s.emit(Event{Type: EventGuidance, Guidance: g, Verdict: &v, Message: s.msgs.Guidance(g)})
	}
	return v, g, nil
}

// Capture takes a reading from the current stream. It is accepted while idle or
// speaking; a capture already in progress makes it return ErrBusy immediately.
// Failures never replace the last reading.
func (s *Session) Capture(ctx context.Context) (*pipeline.Result, error) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return nil, ErrClosed
	case s.state == StateCapturing:
		s.mu.Unlock()
		capturesTotal.WithLabelValues(outcomeBusy).Inc()
		return nil, ErrBusy
	case !s.streaming:
		s.mu.Unlock()
		s.speaker.SayPriority(s.msgs.Text(messages.CameraRequired))
		return nil, camera.ErrNoStream
	}
	s.setStateLocked(StateCapturing)
	s.mu.Unlock()
	s.emit(Event{Type: EventState, State: StateCapturing})

	s.speaker.SayPriority(s.msgs.Text(messages.CaptureProcessing))

	res, err := s.capture(ctx)
	if err != nil {
		return nil, s.captureFailed(err)
	}

	s.mu.Lock()
	s.failures = 0
	s.mu.Unlock()
	s.last.Store(res)
	capturesTotal.WithLabelValues(outcomeOK).Inc()

	s.logger.Info("Reading captured",
		"reading", res.Reading.String(),
		"severity", res.Classification.Severity.String(),
		"samples", res.SampleCount)
	text := s.msgs.Reading(res.Reading, res.Classification)
	s.emit(Event{Type: EventReading, Result: res, Message: text})
	s.speakThenIdle(s.speaker.Say(text))
	return res, nil
}

func (s *Session) capture(ctx context.Context) (*pipeline.Result, error) {
	frames := make([]image.Image, 0, s.cfg.Samples)
	for range s.cfg.Samples {
		img, err := s.source.Frame(ctx)
		if err != nil {
			return nil, fmt.Errorf("grab frame: %w", err)
		}
		frames = append(frames, img)
	}
	return s.reader.ReadWithProgress(ctx, frames, s.progress)
}

// captureFailed announces err and leaves the capturing state. Implausible
// readings escalate through three tips before the counter starts over.
func (s *Session) captureFailed(err error) error {
	if s.ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		capturesTotal.WithLabelValues(outcomeCanceled).Inc()
		s.mu.Lock()
		s.setStateLocked(StateIdle)
		s.mu.Unlock()
		s.emit(Event{Type: EventState, State: StateIdle})
		return err
	}

	var text string
	if errors.Is(err, extract.ErrNoPlausibleReading) {
		s.mu.Lock()
		s.failures++
		n := s.failures
		if s.failures >= 3 {
			s.failures = 0
		}
		s.mu.Unlock()
		text = s.msgs.FailureTip(n)
		capturesTotal.WithLabelValues(outcomeNoReading).Inc()
		s.logger.Info("No plausible reading", "attempt", n, "error", err)
	} else {
		text = s.msgs.Text(messages.CaptureError)
		capturesTotal.WithLabelValues(outcomeError).Inc()
		s.logger.Error("Capture failed", "error", err)
	}
	s.emit(Event{Type: EventError, Err: err, Message: text})
	s.speakThenIdle(s.speaker.Say(text))
	return err
}

// speakThenIdle enters the speaking state until done yields, unless another
// transition happened in the meantime.
func (s *Session) speakThenIdle(done <-chan error) {
	s.mu.Lock()
	if s.closed {
		s.setStateLocked(StateIdle)
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateSpeaking)
	seq := s.speakSeq
	s.wg.Add(1)
	s.mu.Unlock()
	s.emit(Event{Type: EventState, State: StateSpeaking})

	go func() {
		defer s.wg.Done()
		select {
		case <-done:
		case <-s.ctx.Done():
		}
		s.mu.Lock()
		if s.state != StateSpeaking || s.speakSeq != seq {
			s.mu.Unlock()
			return
		}
		s.setStateLocked(StateIdle)
		s.mu.Unlock()
		s.emit(Event{Type: EventState, State: StateIdle})
	}()
}

func (s *Session) setStateLocked(st State) {
	s.state = st
	s.speakSeq++
}

// RepeatLast speaks the last reading again.
func (s *Session) RepeatLast() (<-chan error, error) {
	res, ok := s.LastReading()
	if !ok {
		return s.speaker.Say(s.msgs.Text(messages.RepeatNone)), ErrNoReading
	}
	return s.speaker.Say(s.msgs.Reading(res.Reading, res.Classification)), nil
}

// StartAuto enables automatic capture: every AutoInterval an idle session
// captures when the display is aligned.
func (s *Session) StartAuto() error {
	s.mu.Lock()
	if !s.streaming {
		s.mu.Unlock()
		s.speaker.SayPriority(s.msgs.Text(messages.CameraRequired))
		return camera.ErrNoStream
	}
	if s.auto {
		s.mu.Unlock()
		return nil
	}
	autoCtx, stop := context.WithCancel(s.ctx)
	s.auto = true
	s.stopAuto = stop
	s.wg.Add(1)
	s.mu.Unlock()

	go s.loop(autoCtx, s.cfg.AutoInterval, s.autoTick)

	s.logger.Info("Auto mode enabled", "interval", s.cfg.AutoInterval)
	s.speaker.Say(s.msgs.Text(messages.AutoOn))
	s.emit(Event{Type: EventAuto, Auto: true})
	return nil
}

// StopAuto disables automatic capture.
func (s *Session) StopAuto() {
	s.mu.Lock()
	was := s.disableAutoLocked()
	s.mu.Unlock()
	if !was {
		return
	}
	s.logger.Info("Auto mode disabled")
	s.speaker.Say(s.msgs.Text(messages.AutoOff))
	s.emit(Event{Type: EventAuto, Auto: false})
}

// ToggleAuto flips automatic mode and returns the new setting.
func (s *Session) ToggleAuto() (bool, error) {
	if s.AutoEnabled() {
		s.StopAuto()
		return false, nil
	}
	if err := s.StartAuto(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Session) disableAutoLocked() bool {
	if !s.auto {
		return false
	}
	s.auto = false
	if s.stopAuto != nil {
		s.stopAuto()
		s.stopAuto = nil
	}
	return true
}

// Close stops every background loop and waits for them to finish. The camera
// is released as well.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	streaming := s.streaming
	s.streaming = false
	s.disableAutoLocked()
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	if streaming {
		return s.source.Stop()
	}
	return nil
}

func (s *Session) loop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	defer s.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			tick(ctx)
		}
	}
}

func (s *Session) orientationTick(ctx context.Context) {
	if s.State() != StateIdle {
		return
	}
	if _, _, err := s.CheckOrientation(ctx); err != nil && !errors.Is(err, ErrBusy) {
		s.logger.Debug("Orientation check skipped", "error", err)
	}
}

func (s *Session) autoTick(ctx context.Context) {
	if s.State() != StateIdle {
		return
	}
	img, err := s.source.Frame(ctx)
	if err != nil {
		s.logger.Debug("Auto capture skipped", "error", err)
		return
	}
	if !s.analyzer.Aligned(s.analyzer.Analyze(img)) {
		return
	}
	if _, err := s.Capture(ctx); err != nil && !errors.Is(err, ErrBusy) {
		s.logger.Debug("Auto capture failed", "error", err)
	}
}

func (s *Session) emit(e Event) {
	e.Session = s.id
	e.Time = time.Now()
	for _, fn := range s.observers {
		fn(e)
	}
}
