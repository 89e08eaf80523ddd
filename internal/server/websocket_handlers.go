package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MeKo-Tech/bpvoice/internal/camera"
	"github.com/MeKo-Tech/bpvoice/internal/messages"
	"github.com/MeKo-Tech/bpvoice/internal/orientation"
	"github.com/MeKo-Tech/bpvoice/internal/pipeline"
	"github.com/MeKo-Tech/bpvoice/internal/session"
	"github.com/MeKo-Tech/bpvoice/internal/voice"
	"github.com/gorilla/websocket"
)

// Client to server message types.
const (
	msgFrame            = "frame"
	msgStartCamera      = "start_camera"
	msgStopCamera       = "stop_camera"
	msgCapture          = "capture"
	msgToggleAuto       = "toggle_auto"
	msgRepeat           = "repeat"
	msgCheckOrientation = "check_orientation"
	msgLastReading      = "last_reading"
	msgVoices           = "voices"
	msgSpeechEnd        = "speech_end"
	msgSpeechError      = "speech_error"
)

// Server to client message types.
const (
	msgReady       = "ready"
	msgSpeak       = "speak"
	msgCancel      = "cancel"
	msgEvent       = "event"
	msgStatus      = "status"
	msgOrientation = "orientation"
	msgReading     = "reading"
	msgError       = "error"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// ClientMessage is a message sent by the browser.
type ClientMessage struct {
	Type string `json:"type"`
	// Image is a data URI carrying a camera frame.
	Image string `json:"image,omitempty"`
	// ID names the utterance a speech acknowledgement refers to.
	ID     string        `json:"id,omitempty"`
	Error  string        `json:"error,omitempty"`
	Voices []voice.Voice `json:"voices,omitempty"`
}

// ServerMessage is a message sent to the browser. Only the fields relevant to
// Type are set.
type ServerMessage struct {
	Type      string           `json:"type"`
	Session   string           `json:"session,omitempty"`
	ID        string           `json:"id,omitempty"`
	Utterance *voice.Utterance `json:"utterance,omitempty"`
	Event     *EventPayload    `json:"event,omitempty"`
	Progress  float64          `json:"progress,omitempty"`
	Sample    int              `json:"sample,omitempty"`
	Total     int              `json:"total,omitempty"`
	Result    *pipeline.Result `json:"result,omitempty"`
	Message   string           `json:"message,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorType string           `json:"error_type,omitempty"`
}

// EventPayload is the wire form of a session event.
type EventPayload struct {
	Type      session.EventType    `json:"type"`
	Time      string               `json:"time"`
	State     session.State        `json:"state"`
	Streaming bool                 `json:"streaming"`
	Auto      bool                 `json:"auto"`
	Guidance  orientation.Guidance `json:"guidance"`
	Verdict   *orientation.Verdict `json:"verdict,omitempty"`
	Result    *pipeline.Result     `json:"result,omitempty"`
	Message   string               `json:"message,omitempty"`
	Error     string               `json:"error,omitempty"`
}

func eventPayload(e session.Event) *EventPayload {
	p := &EventPayload{
		Type:      e.Type,
		Time:      e.Time.UTC().Format(time.RFC3339Nano),
		State:     e.State,
		Streaming: e.Streaming,
		Auto:      e.Auto,
		Guidance:  e.Guidance,
		Verdict:   e.Verdict,
		Result:    e.Result,
		Message:   e.Message,
	}
	if e.Err != nil {
		p.Error = e.Err.Error()
	}
	return p
}

// liveConn is one browser driving one session.
type liveConn struct {
	ws        *websocket.Conn
	source    *camera.PushSource
	synth     *remoteSynthesizer
	announcer *voice.Announcer
	sess      *session.Session
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			if s.corsOrigin == "" || s.corsOrigin == "*" {
				return true
			}
			return r.Header.Get("Origin") == s.corsOrigin
		},
	}
}

// sessionWebSocketHandler runs a live session for one WebSocket client. The
// optional "lang" query parameter overrides the configured language.
func (s *Server) sessionWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	}

	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}

	lc, err := s.newLiveConn(conn, r.URL.Query().Get("lang"))
	if err != nil {
		s.logger.Error("Failed to create session", "error", err)
		_ = conn.WriteJSON(ServerMessage{Type: msgError, Error: err.Error(), ErrorType: errTypeInternal})
		_ = conn.Close()
		return
	}

	id := lc.sess.ID()
	if !s.register(id, lc) {
		lc.close()
		return
	}
	websocketConnections.Inc()
	defer func() {
		s.unregister(id)
		websocketConnections.Dec()
		lc.close()
	}()

	s.logger.Info("WebSocket session established", "session", id, "remote_addr", r.RemoteAddr)
	_ = lc.send(ServerMessage{Type: msgReady, Session: id, Message: lc.sess.Messages().Text(messages.AppReady)})
	lc.sess.Ready()
	lc.readLoop()
	s.logger.Info("WebSocket session ended", "session", id)
}

func (s *Server) register(id string, lc *liveConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[id] = lc
	return true
}

func (s *Server) unregister(id string) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}

func (s *Server) newLiveConn(conn *websocket.Conn, lang string) (*liveConn, error) {
	sc := s.sessionCfg
	vc := s.voiceCfg
	if lang != "" {
		sc.Language = lang
		vc.Lang = lang
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc := &liveConn{
		ws:     conn,
		source: camera.NewPushSource(),
		logger: s.logger,
		ctx:    ctx,
		cancel: cancel,
	}
	lc.synth = newRemoteSynthesizer(lc.send)

	announcer, err := voice.NewAnnouncer(lc.synth, vc, voice.WithLogger(s.logger))
	if err != nil {
		cancel()
		return nil, err
	}
	lc.announcer = announcer

	sess, err := session.New(lc.source, s.reader, announcer, sc,
		session.WithLogger(s.logger),
		session.WithObserver(lc.onEvent),
		session.WithProgress(&remoteProgress{conn: lc}))
	if err != nil {
		announcer.Close()
		cancel()
		return nil, err
	}
	lc.sess = sess
	lc.logger = s.logger.With("session", sess.ID())
	return lc, nil
}

// send writes one message. gorilla/websocket allows a single concurrent writer.
func (c *liveConn) send(msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", msg.Type, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	websocketMessagesTotal.WithLabelValues("sent", msg.Type).Inc()
	return nil
}

func (c *liveConn) sendError(errType string, err error) {
	if sendErr := c.send(ServerMessage{Type: msgError, Error: err.Error(), ErrorType: errType}); sendErr != nil {
		c.logger.Debug("Failed to send WebSocket error", "error", sendErr)
	}
}

func (c *liveConn) onEvent(e session.Event) {
	if err := c.send(ServerMessage{Type: msgEvent, Session: e.Session, Event: eventPayload(e)}); err != nil {
		c.logger.Debug("Failed to send session event", "event", e.Type, "error", err)
	}
}

func (c *liveConn) readLoop() {
	_ = c.ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.ctx.Done():
				return
			case <-ticker.C:
				if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket error", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if messageType != websocket.TextMessage {
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			websocketMessagesTotal.WithLabelValues("received", "invalid").Inc()
			c.sendError(errTypeInvalidRequest, fmt.Errorf("failed to parse message: %w", err))
			continue
		}
		websocketMessagesTotal.WithLabelValues("received", msg.Type).Inc()
		c.handle(msg)
	}
}

func (c *liveConn) handle(msg ClientMessage) {
	switch msg.Type {
	case msgFrame:
		img, err := decodeDataURI(msg.Image)
		if err != nil {
			c.sendError(errTypeInvalidRequest, err)
			return
		}
		if !c.source.Push(img) {
			c.logger.Debug("Frame dropped, camera not started")
		}

	case msgStartCamera:
		if err := c.sess.StartCamera(c.ctx); err != nil {
			c.sendError(errTypeInternal, err)
		}

	case msgStopCamera:
		if err := c.sess.StopCamera(); err != nil {
			c.sendError(errTypeInternal, err)
		}

	case msgCapture:
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.capture()
		}()

	case msgToggleAuto:
		if _, err := c.sess.ToggleAuto(); err != nil {
			c.sendError(errTypeInvalidRequest, err)
		}

	case msgCheckOrientation:
		verdict, guidance, err := c.sess.CheckOrientation(c.ctx)
		if err != nil {
			c.sendError(errTypeInvalidRequest, err)
			return
		}
		_ = c.send(ServerMessage{
			Type:    msgOrientation,
			Event:   &EventPayload{Type: session.EventGuidance, Time: time.Now().UTC().Format(time.RFC3339Nano), Guidance: guidance, Verdict: &verdict},
			Message: c.sess.Messages().Guidance(guidance),
		})

	case msgRepeat:
		if _, err := c.sess.RepeatLast(); err != nil {
			c.sendError(errTypeNotFound, err)
		}

	case msgLastReading:
		res, ok := c.sess.LastReading()
		if !ok {
			c.sendError(errTypeNotFound, session.ErrNoReading)
			return
		}
		_ = c.send(ServerMessage{Type: msgReading, Result: res, Message: c.sess.Messages().Reading(res.Reading, res.Classification)})

	case msgVoices:
		c.synth.setVoices(msg.Voices)

	case msgSpeechEnd:
		c.synth.ack(msg.ID, nil)

	case msgSpeechError:
		reason := msg.Error
		if reason == "" {
			reason = "unknown"
		}
		c.synth.ack(msg.ID, fmt.Errorf("client speech error: %s", reason))

	default:
		c.sendError(errTypeInvalidRequest, fmt.Errorf("unsupported message type: %q", msg.Type))
	}
}

func (c *liveConn) capture() {
	_, err := c.sess.Capture(c.ctx)
	switch {
	case err == nil:
		readingRequestsTotal.WithLabelValues("websocket", "ok").Inc()
	case errors.Is(err, session.ErrBusy):
		readingRequestsTotal.WithLabelValues("websocket", "busy").Inc()
		c.sendError("busy", err)
	default:
		// The session already announced the failure and emitted an error event.
		readingRequestsTotal.WithLabelValues("websocket", "error").Inc()
	}
}

// close stops the session and fails any utterance still waiting for the client.
func (c *liveConn) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.sess.Close()
		c.wg.Wait()
		c.announcer.Close()
		c.synth.close()
		_ = c.ws.Close()
	})
}

// remoteProgress forwards capture progress as status messages.
type remoteProgress struct {
	conn *liveConn

	mu    sync.Mutex
	total int
}

func (p *remoteProgress) OnStart(total int) {
	p.mu.Lock()
	p.total = total
	p.mu.Unlock()
	_ = p.conn.send(ServerMessage{Type: msgStatus, Total: total})
}

func (p *remoteProgress) OnProgress(current, total int) {
	if total == 0 {
		return
	}
	_ = p.conn.send(ServerMessage{
		Type:     msgStatus,
		Sample:   current,
		Total:    total,
		Progress: float64(current) / float64(total),
	})
}

func (p *remoteProgress) OnComplete() {}

func (p *remoteProgress) OnError(current int, err error) {
	p.conn.logger.Debug("Sample failed", "sample", current, "error", err)
}

// OnRecognition reports the engine's progress within one sample.
func (p *remoteProgress) OnRecognition(sample int, progress float64) {
	p.mu.Lock()
	total := p.total
	p.mu.Unlock()
	if total == 0 {
		return
	}
	_ = p.conn.send(ServerMessage{
		Type:     msgStatus,
		Sample:   sample,
		Total:    total,
		Progress: (float64(sample) + progress) / float64(total),
	})
}
