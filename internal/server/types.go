package server

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/bpvoice/internal/classify"
	"github.com/MeKo-Tech/bpvoice/internal/messages"
	"github.com/MeKo-Tech/bpvoice/internal/orientation"
	"github.com/MeKo-Tech/bpvoice/internal/pipeline"
	"github.com/MeKo-Tech/bpvoice/internal/session"
	"github.com/MeKo-Tech/bpvoice/internal/voice"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server holds the HTTP server state and dependencies.
type Server struct {
	reader      *pipeline.Reader
	analyzer    *orientation.Analyzer
	msgs        *messages.Localizer
	logger      *slog.Logger
	corsOrigin  string
	maxUploadMB int64
	timeout     time.Duration
	sessionCfg  session.Config
	voiceCfg    voice.Config

	last atomic.Pointer[pipeline.Result]

	mu     sync.Mutex
	closed bool
	conns  map[string]*liveConn
}

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigin  string
	MaxUploadMB int64
	TimeoutSec  int
	// Session configures the live sessions opened over /ws. Its language also
	// selects the catalog for HTTP responses.
	Session session.Config
	Voice   voice.Config
	Logger  *slog.Logger
}

// Response types for API endpoints.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Engine   string `json:"engine,omitempty"`
	Sessions int    `json:"sessions"`
	Time     string `json:"time"`
}

type OrientationResponse struct {
	Success  bool                 `json:"success"`
	Verdict  orientation.Verdict  `json:"verdict"`
	Guidance orientation.Guidance `json:"guidance"`
	Aligned  bool                 `json:"aligned"`
	Message  string               `json:"message"`
	Width    int                  `json:"width"`
	Height   int                  `json:"height"`
}

type ReadingResponse struct {
	Success bool             `json:"success"`
	Result  *pipeline.Result `json:"result,omitempty"`
	// Assessment is the localized severity label.
	Assessment string `json:"assessment,omitempty"`
	// Message is the sentence the voice interface would speak.
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
}

type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	ErrorType string `json:"error_type,omitempty"`
}

// NewServer creates a server reading frames with reader. The server takes
// ownership of reader and closes it in Close.
func NewServer(reader *pipeline.Reader, config Config) (*Server, error) {
	if reader == nil {
		return nil, errors.New("server: reader is required")
	}
	if err := config.Session.Validate(); err != nil {
		return nil, err
	}
	if err := config.Voice.Validate(); err != nil {
		return nil, err
	}
	analyzer, err := orientation.NewAnalyzer(config.Session.Orientation)
	if err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := time.Duration(config.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxUpload := config.MaxUploadMB
	if maxUpload <= 0 {
		maxUpload = 10
	}

	return &Server{
		reader:      reader,
		analyzer:    analyzer,
		msgs:        messages.New(config.Session.Language),
		logger:      logger,
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: maxUpload,
		timeout:     timeout,
		sessionCfg:  config.Session,
		voiceCfg:    config.Voice,
		conns:       make(map[string]*liveConn),
	}, nil
}

// Close ends every live session and releases the reader.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*liveConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	return s.reader.Close()
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.route(s.healthHandler))
	mux.HandleFunc("/orientation", s.route(s.orientationHandler))
	mux.HandleFunc("/reading", s.route(s.readingHandler))
	mux.HandleFunc("/reading/last", s.route(s.lastReadingHandler))
	mux.HandleFunc("/ws", s.sessionWebSocketHandler)
	mux.Handle("/metrics", promhttp.Handler())
}

// Sessions returns the number of live WebSocket sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// LastReading returns the most recent successful reading taken over HTTP.
func (s *Server) LastReading() (*pipeline.Result, bool) {
	res := s.last.Load()
	return res, res != nil
}

func (s *Server) localizer(lang string) *messages.Localizer {
	if lang == "" {
		return s.msgs
	}
	return messages.New(lang)
}

func assessment(l *messages.Localizer, c classify.Classification) string {
	return l.Severity(c.Severity)
}
