package session

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MeKo-Tech/bpvoice/internal/camera"
	"github.com/MeKo-Tech/bpvoice/internal/extract"
	"github.com/MeKo-Tech/bpvoice/internal/messages"
	"github.com/MeKo-Tech/bpvoice/internal/ocr"
	"github.com/MeKo-Tech/bpvoice/internal/orientation"
	"github.com/MeKo-Tech/bpvoice/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSpeaker records announcements. With hold set, completion channels stay
// open until release is called.
type fakeSpeaker struct {
	mu       sync.Mutex
	said     []string
	priority []bool
	hold     bool
	pending  []chan error
}

func (f *fakeSpeaker) Say(text string) <-chan error         { return f.add(text, false) }
func (f *fakeSpeaker) SayPriority(text string) <-chan error { return f.add(text, true) }

func (f *fakeSpeaker) add(text string, priority bool) <-chan error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.said = append(f.said, text)
	f.priority = append(f.priority, priority)
	ch := make(chan error, 1)
	if f.hold {
		f.pending = append(f.pending, ch)
	} else {
		ch <- nil
	}
	return ch
}

func (f *fakeSpeaker) release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.pending {
		ch <- nil
	}
	f.pending = nil
}

func (f *fakeSpeaker) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.said...)
}

func (f *fakeSpeaker) count(text string) int {
	n := 0
	for _, s := range f.texts() {
		if s == text {
			n++
		}
	}
	return n
}

func rectFrame(r image.Rectangle) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)
	draw.Draw(img, r, &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	return img
}

var (
	alignedFrame = rectFrame(image.Rect(120, 80, 200, 160))
	leftFrame    = rectFrame(image.Rect(0, 80, 80, 160))
)

type fixture struct {
	s       *Session
	src     *camera.PushSource
	speaker *fakeSpeaker
	msgs    *messages.Localizer
}

func newFixture(t *testing.T, engine ocr.Engine, mutate func(*Config), opts ...Option) *fixture {
	t.Helper()
	reader, err := pipeline.New(engine, pipeline.DefaultConfig())
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.OrientationInterval = time.Hour
	cfg.AutoInterval = time.Hour
	if mutate != nil {
		mutate(&cfg)
	}
	src := camera.NewPushSource()
	sp := &fakeSpeaker{}
	s, err := New(src, reader, sp, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return &fixture{s: s, src: src, speaker: sp, msgs: s.Messages()}
}

func (f *fixture) start(t *testing.T, frame image.Image) {
	t.Helper()
	require.NoError(t, f.s.StartCamera(context.Background()))
	require.True(t, f.src.Push(frame))
}

func waitIdle(t *testing.T, s *Session) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == StateIdle }, 2*time.Second, 5*time.Millisecond)
}

// switchEngine answers with whatever text is currently stored.
type switchEngine struct {
	text  atomic.Value
	err   atomic.Value
	calls atomic.Int32
}

func newSwitchEngine(text string) *switchEngine {
	e := &switchEngine{}
	e.text.Store(text)
	return e
}

func (e *switchEngine) Name() string { return "switch" }

func (e *switchEngine) Close() error { return nil }

func (e *switchEngine) set(text string) { e.text.Store(text) }

func (e *switchEngine) Recognize(ctx context.Context, _ ocr.Input) (ocr.Result, error) {
	e.calls.Add(1)
	if v, ok := e.err.Load().(error); ok && v != nil {
		return ocr.Result{}, v
	}
	return ocr.Result{Text: e.text.Load().(string)}, ctx.Err()
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "capturing", StateCapturing.String())
	assert.Equal(t, "speaking", StateSpeaking.String())
	assert.Equal(t, "state(9)", State(9).String())
	b, err := StateSpeaking.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "speaking", string(b))

	var st State
	require.NoError(t, st.UnmarshalText([]byte("capturing")))
	assert.Equal(t, StateCapturing, st)
	require.Error(t, st.UnmarshalText([]byte("sleeping")))
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"samples", func(c *Config) { c.Samples = 0 }},
		{"auto interval", func(c *Config) { c.AutoInterval = 0 }},
		{"orientation interval", func(c *Config) { c.OrientationInterval = -time.Second }},
		{"camera size", func(c *Config) { c.Camera.Width = -1 }},
		{"orientation", func(c *Config) { c.Orientation.Stride = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	reader, err := pipeline.New(ocr.Static(""), pipeline.DefaultConfig())
	require.NoError(t, err)
	_, err = New(nil, reader, &fakeSpeaker{}, DefaultConfig())
	require.Error(t, err)
	_, err = New(camera.NewPushSource(), nil, &fakeSpeaker{}, DefaultConfig())
	require.Error(t, err)
	_, err = New(camera.NewPushSource(), reader, nil, DefaultConfig())
	require.Error(t, err)
}

func TestCapture_RequiresStream(t *testing.T) {
	f := newFixture(t, ocr.Static("120 80"), nil)

	_, err := f.s.Capture(context.Background())
	require.ErrorIs(t, err, camera.ErrNoStream)
	assert.Equal(t, 1, f.speaker.count(f.msgs.Text(messages.CameraRequired)))
	assert.Equal(t, StateIdle, f.s.State())
}

func TestStartCamera_Failure(t *testing.T) {
	reader, err := pipeline.New(ocr.Static("120 80"), pipeline.DefaultConfig())
	require.NoError(t, err)
	sp := &fakeSpeaker{}
	s, err := New(camera.NewDirSource(t.TempDir()), reader, sp, DefaultConfig())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	err = s.StartCamera(context.Background())
	var ae *camera.AcquisitionError
	require.True(t, errors.As(err, &ae))
	assert.False(t, s.Streaming())
	assert.Contains(t, sp.texts(), s.Messages().Text(messages.CameraError))

	_, err = s.Capture(context.Background())
	require.ErrorIs(t, err, camera.ErrNoStream)
}

func TestCapture_Success(t *testing.T) {
	var events []Event
	var mu sync.Mutex
	f := newFixture(t, ocr.Static("SYS 135 DIA 85 PUL 64"), nil, WithObserver(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}))
	f.start(t, alignedFrame)

	_, ok := f.s.LastReading()
	assert.False(t, ok)

	res, err := f.s.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "135/85 pulse 64", res.Reading.String())

	last, ok := f.s.LastReading()
	require.True(t, ok)
	assert.Same(t, res, last)

	spoken := f.speaker.texts()
	assert.Contains(t, spoken, f.msgs.Text(messages.CameraStarted))
	assert.Contains(t, spoken, f.msgs.Text(messages.CaptureProcessing))
	assert.Equal(t, f.msgs.Reading(res.Reading, res.Classification), spoken[len(spoken)-1])
	waitIdle(t, f.s)

	mu.Lock()
	defer mu.Unlock()
	var sawReading bool
	for _, e := range events {
		assert.Equal(t, f.s.ID(), e.Session)
		if e.Type == EventReading {
			sawReading = true
			assert.Same(t, res, e.Result)
		}
	}
	assert.True(t, sawReading)
}

func TestCapture_BusyWhileCapturing(t *testing.T) {
	entered := make(chan struct{}, 4)
	release := make(chan struct{})
	var calls atomic.Int32
	engine := ocr.EngineFunc(func(ctx context.Context, _ ocr.Input) (ocr.Result, error) {
		calls.Add(1)
		entered <- struct{}{}
		select {
		case <-release:
			return ocr.Result{Text: "120 80"}, nil
		case <-ctx.Done():
			return ocr.Result{}, ctx.Err()
		}
	})
	f := newFixture(t, engine, nil)
	f.start(t, alignedFrame)

	type outcome struct {
		res *pipeline.Result
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		res, err := f.s.Capture(context.Background())
		first <- outcome{res, err}
	}()
	<-entered
	assert.Equal(t, StateCapturing, f.s.State())

	_, err := f.s.Capture(context.Background())
	require.ErrorIs(t, err, ErrBusy)
	_, _, err = f.s.CheckOrientation(context.Background())
	require.ErrorIs(t, err, ErrBusy)

	close(release)
	out := <-first
	require.NoError(t, out.err)
	assert.Equal(t, "120/80", out.res.Reading.String())
	assert.Equal(t, int32(1), calls.Load())
}

func TestCapture_SpeakingState(t *testing.T) {
	f := newFixture(t, ocr.Static("120 80"), nil)
	f.start(t, alignedFrame)
	f.speaker.mu.Lock()
	f.speaker.hold = true
	f.speaker.mu.Unlock()

	_, err := f.s.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSpeaking, f.s.State())

	_, _, err = f.s.CheckOrientation(context.Background())
	require.ErrorIs(t, err, ErrBusy)

	// A new trigger is accepted while the previous result is being spoken.
	_, err = f.s.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSpeaking, f.s.State())

	f.speaker.release()
	waitIdle(t, f.s)
}

func TestCapture_FailureEscalation(t *testing.T) {
	engine := newSwitchEngine("88")
	f := newFixture(t, engine, nil)
	f.start(t, alignedFrame)

	lastSpoken := func() string {
		s := f.speaker.texts()
		return s[len(s)-1]
	}
	capture := func() error {
		waitIdle(t, f.s)
		_, err := f.s.Capture(context.Background())
		return err
	}

	for _, n := range []int{1, 2, 3, 1} {
		require.ErrorIs(t, capture(), extract.ErrNoPlausibleReading)
		assert.Equal(t, f.msgs.FailureTip(n), lastSpoken(), "attempt tip %d", n)
	}
	_, ok := f.s.LastReading()
	assert.False(t, ok)

	engine.set("120 80")
	require.NoError(t, capture())
	engine.set("abc")
	require.ErrorIs(t, capture(), extract.ErrNoPlausibleReading)
	assert.Equal(t, f.msgs.FailureTip(1), lastSpoken())

	last, ok := f.s.LastReading()
	require.True(t, ok)
	assert.Equal(t, "120/80", last.Reading.String())
}

func TestCapture_RecognitionError(t *testing.T) {
	engine := newSwitchEngine("")
	engine.err.Store(errors.New("engine unavailable"))
	f := newFixture(t, engine, nil)
	f.start(t, alignedFrame)

	_, err := f.s.Capture(context.Background())
	var re *ocr.RecognitionError
	require.True(t, errors.As(err, &re))
	texts := f.speaker.texts()
	assert.Equal(t, f.msgs.Text(messages.CaptureError), texts[len(texts)-1])
	waitIdle(t, f.s)
}

func TestCapture_Canceled(t *testing.T) {
	f := newFixture(t, ocr.Static("120 80"), nil)
	f.start(t, alignedFrame)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.s.Capture(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateIdle, f.s.State())
	assert.Zero(t, f.speaker.count(f.msgs.Text(messages.CaptureError)))
}

func TestCapture_MultipleSamples(t *testing.T) {
	engine := newSwitchEngine("118 79 70")
	f := newFixture(t, engine, func(c *Config) { c.Samples = 3 })
	f.start(t, alignedFrame)

	res, err := f.s.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.SampleCount)
	assert.Equal(t, int32(3), engine.calls.Load())
}

func TestCheckOrientation_SpeaksOnChange(t *testing.T) {
	f := newFixture(t, ocr.Static("120 80"), nil)
	analyzer, err := orientation.NewAnalyzer(orientation.DefaultConfig())
	require.NoError(t, err)
	_, wantLeft := analyzer.Guide(leftFrame)
	_, wantAligned := analyzer.Guide(alignedFrame)
	require.NotEqual(t, wantLeft, wantAligned)

	_, _, err = f.s.CheckOrientation(context.Background())
	require.ErrorIs(t, err, camera.ErrNoStream)

	f.start(t, leftFrame)
	_, g, err := f.s.CheckOrientation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, wantLeft, g)
	_, _, err = f.s.CheckOrientation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.speaker.count(f.msgs.Guidance(wantLeft)))

	f.src.Push(alignedFrame)
	v, g, err := f.s.CheckOrientation(context.Background())
	require.NoError(t, err)
	assert.True(t, v.HasDisplay)
	assert.Equal(t, orientation.GuidanceAligned, g)
	assert.Equal(t, 1, f.speaker.count(f.msgs.Guidance(wantAligned)))

	f.speaker.mu.Lock()
	defer f.speaker.mu.Unlock()
	for i, text := range f.speaker.said {
		if text == f.msgs.Guidance(wantLeft) {
			assert.True(t, f.speaker.priority[i], "guidance is spoken with priority")
		}
	}
}

// gatedSource blocks the first Frame call until open is closed.
type gatedSource struct {
	*camera.PushSource
	once    sync.Once
	entered chan struct{}
	open    chan struct{}
}

func newGatedSource() *gatedSource {
	return &gatedSource{PushSource: camera.NewPushSource(), entered: make(chan struct{}), open: make(chan struct{})}
}

func (g *gatedSource) Frame(ctx context.Context) (image.Image, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		select {
		case <-g.open:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.PushSource.Frame(ctx)
}

// slowStartSource counts Start calls and blocks each one until open is closed.
type slowStartSource struct {
	*camera.PushSource
	starts atomic.Int32
	open   chan struct{}
}

func (s *slowStartSource) Start(ctx context.Context, c camera.Constraints) error {
	s.starts.Add(1)
	<-s.open
	return s.PushSource.Start(ctx, c)
}

func newSessionWith(t *testing.T, src camera.Source, engine ocr.Engine) (*Session, *fakeSpeaker) {
	t.Helper()
	reader, err := pipeline.New(engine, pipeline.DefaultConfig())
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.OrientationInterval = time.Hour
	cfg.AutoInterval = time.Hour
	sp := &fakeSpeaker{}
	s, err := New(src, reader, sp, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, sp
}

func TestCheckOrientation_DiscardedWhenCaptureStarts(t *testing.T) {
	src := newGatedSource()
	s, sp := newSessionWith(t, src, ocr.Static("120 80"))
	require.NoError(t, s.StartCamera(context.Background()))
	require.True(t, src.Push(leftFrame))

	type outcome struct {
		g   orientation.Guidance
		err error
	}
	checked := make(chan outcome, 1)
	go func() {
		_, g, err := s.CheckOrientation(context.Background())
		checked <- outcome{g, err}
	}()
	<-src.entered

	res, err := s.Capture(context.Background())
	require.NoError(t, err)
	reading := s.Messages().Reading(res.Reading, res.Classification)

	close(src.open)
	out := <-checked
	require.ErrorIs(t, out.err, ErrBusy)

	moveLeft := s.Messages().Guidance(orientation.GuidanceMoveLeft)
	assert.Zero(t, sp.count(moveLeft), "stale guidance must not be spoken")
	said := sp.texts()
	assert.Equal(t, reading, said[len(said)-1])

	// The next check after the capture is finished speaks normally.
	waitIdle(t, s)
	_, g, err := s.CheckOrientation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, orientation.GuidanceMoveLeft, g)
	assert.Equal(t, 1, sp.count(moveLeft))
}

func TestStartCamera_Concurrent(t *testing.T) {
	src := &slowStartSource{PushSource: camera.NewPushSource(), open: make(chan struct{})}
	s, sp := newSessionWith(t, src, ocr.Static("120 80"))

	errs := make(chan error, 2)
	go func() { errs <- s.StartCamera(context.Background()) }()
	require.Eventually(t, func() bool { return src.starts.Load() == 1 }, 2*time.Second, time.Millisecond)

	// A second call while the first is still acquiring returns without starting again.
	require.NoError(t, s.StartCamera(context.Background()))
	close(src.open)
	require.NoError(t, <-errs)

	assert.Equal(t, int32(1), src.starts.Load())
	assert.True(t, s.Streaming())
	assert.Equal(t, 1, sp.count(s.Messages().Text(messages.CameraStarted)))

	require.NoError(t, s.StopCamera())
	assert.False(t, s.Streaming())
}

func TestSession_OrientationLoop(t *testing.T) {
	f := newFixture(t, ocr.Static("120 80"), func(c *Config) { c.OrientationInterval = 10 * time.Millisecond })
	f.start(t, leftFrame)

	want := f.msgs.Guidance(orientation.GuidanceMoveLeft)
	require.Eventually(t, func() bool { return f.speaker.count(want) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, f.speaker.count(want))
}

func TestAutoMode(t *testing.T) {
	engine := newSwitchEngine("126 84 77")
	f := newFixture(t, engine, func(c *Config) { c.AutoInterval = 10 * time.Millisecond })

	_, err := f.s.ToggleAuto()
	require.ErrorIs(t, err, camera.ErrNoStream)

	f.start(t, leftFrame)
	on, err := f.s.ToggleAuto()
	require.NoError(t, err)
	assert.True(t, on)
	assert.True(t, f.s.AutoEnabled())
	assert.Equal(t, 1, f.speaker.count(f.msgs.Text(messages.AutoOn)))

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, engine.calls.Load(), "no capture while misaligned")

	f.src.Push(alignedFrame)
	require.Eventually(t, func() bool {
		_, ok := f.s.LastReading()
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	on, err = f.s.ToggleAuto()
	require.NoError(t, err)
	assert.False(t, on)
	assert.Equal(t, 1, f.speaker.count(f.msgs.Text(messages.AutoOff)))
	f.s.StopAuto()
	assert.Equal(t, 1, f.speaker.count(f.msgs.Text(messages.AutoOff)))
}

func TestStopCamera(t *testing.T) {
	f := newFixture(t, ocr.Static("120 80"), nil)
	require.NoError(t, f.s.StopCamera())

	f.start(t, alignedFrame)
	require.NoError(t, f.s.StartAuto())
	require.NoError(t, f.s.StopCamera())

	assert.False(t, f.s.Streaming())
	assert.False(t, f.s.AutoEnabled())
	assert.Equal(t, 1, f.speaker.count(f.msgs.Text(messages.CameraStopped)))
	_, err := f.src.Frame(context.Background())
	require.ErrorIs(t, err, camera.ErrNoStream)
}

func TestRepeatLast(t *testing.T) {
	f := newFixture(t, ocr.Static("120 80 72"), nil)

	done, err := f.s.RepeatLast()
	require.ErrorIs(t, err, ErrNoReading)
	require.NoError(t, <-done)
	assert.Equal(t, 1, f.speaker.count(f.msgs.Text(messages.RepeatNone)))

	f.start(t, alignedFrame)
	res, err := f.s.Capture(context.Background())
	require.NoError(t, err)

	_, err = f.s.RepeatLast()
	require.NoError(t, err)
	assert.Equal(t, 2, f.speaker.count(f.msgs.Reading(res.Reading, res.Classification)))
}

func TestClose(t *testing.T) {
	f := newFixture(t, ocr.Static("120 80"), func(c *Config) { c.OrientationInterval = 5 * time.Millisecond })
	f.start(t, alignedFrame)
	require.NoError(t, f.s.StartAuto())
	<-f.s.Ready()

	require.NoError(t, f.s.Close())
	require.NoError(t, f.s.Close())

	_, err := f.s.Capture(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, f.s.StartCamera(context.Background()), ErrClosed)
	assert.Contains(t, strings.Join(f.speaker.texts(), "\n"), f.msgs.Text(messages.AppReady))
}
